package paperless

import (
	"context"
	"fmt"
	"time"

	"github.com/kirillkom/paperless-ai-queue/internal/core/domain"
	"github.com/kirillkom/paperless-ai-queue/internal/core/ports"
	"github.com/kirillkom/paperless-ai-queue/internal/infrastructure/resilience"
)

// Factory builds instance-bound clients sharing one executor, so the rate
// limit and circuit breakers span every instance.
type Factory struct {
	secrets  ports.SecretBox
	executor *resilience.Executor
	timeout  time.Duration
}

func NewFactory(secrets ports.SecretBox, executor *resilience.Executor, timeout time.Duration) *Factory {
	return &Factory{secrets: secrets, executor: executor, timeout: timeout}
}

func (f *Factory) ForInstance(_ context.Context, instance domain.Instance) (ports.DocumentStore, error) {
	token, err := f.secrets.Decrypt(instance.EncryptedToken)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "decrypt instance token", fmt.Errorf("instance %s: %w", instance.ID, err))
	}
	return New(instance.BaseURL, token, Options{
		Timeout:            f.timeout,
		ResilienceExecutor: f.executor,
	}), nil
}
