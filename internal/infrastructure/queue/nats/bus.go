package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/paperless-ai-queue/internal/infrastructure/resilience"
)

const wakeupQueueGroup = "queue-workers"

// Bus publishes queue wakeups and instance changes. Wakeups are delivered to
// one worker of the group; instance changes fan out to every subscriber.
type Bus struct {
	conn            *nats.Conn
	wakeupSubject   string
	instanceSubject string
	executor        *resilience.Executor
	logger          *slog.Logger
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func New(url, wakeupSubject, instanceSubject string, options Options) (*Bus, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("paperless-ai-queue"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Bus{
		conn:            conn,
		wakeupSubject:   wakeupSubject,
		instanceSubject: instanceSubject,
		executor:        options.ResilienceExecutor,
		logger:          logger,
	}, nil
}

func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

func (b *Bus) PublishQueueWakeup(ctx context.Context, instanceID string) error {
	return b.publish(ctx, b.wakeupSubject, instanceID)
}

func (b *Bus) PublishInstanceChanged(ctx context.Context, instanceID string) error {
	return b.publish(ctx, b.instanceSubject, instanceID)
}

func (b *Bus) publish(ctx context.Context, subject, instanceID string) error {
	call := func(_ context.Context) error {
		if err := b.conn.Publish(subject, []byte(instanceID)); err != nil {
			return fmt.Errorf("nats publish %s: %w", subject, err)
		}
		return nil
	}

	var err error
	if b.executor != nil {
		err = b.executor.Execute(ctx, "nats.publish."+subject, call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

func (b *Bus) SubscribeQueueWakeup(ctx context.Context, handler func(context.Context, string) error) error {
	return b.subscribe(ctx, b.wakeupSubject, wakeupQueueGroup, handler)
}

func (b *Bus) SubscribeInstanceChanged(ctx context.Context, handler func(context.Context, string) error) error {
	return b.subscribe(ctx, b.instanceSubject, "", handler)
}

// subscribe blocks until ctx is done, then drains the subscription.
func (b *Bus) subscribe(ctx context.Context, subject, group string, handler func(context.Context, string) error) error {
	onMessage := func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, string(msg.Data)); err != nil {
			b.logger.Error("event_handler_failed", "subject", subject, "instance_id", string(msg.Data), "error", err)
		}
	}

	var (
		sub *nats.Subscription
		err error
	)
	if group != "" {
		sub, err = b.conn.QueueSubscribe(subject, group, onMessage)
	} else {
		sub, err = b.conn.Subscribe(subject, onMessage)
	}
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := b.conn.FlushTimeout(5 * time.Second); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}
