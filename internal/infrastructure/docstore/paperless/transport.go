package paperless

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kirillkom/paperless-ai-queue/internal/core/domain"
	"github.com/kirillkom/paperless-ai-queue/internal/infrastructure/resilience"
)

func (c *Client) doJSON(ctx context.Context, method, path string, payload any, out any, operation string) error {
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", operation, err)
		}
		body = encoded
	}

	call := func(callCtx context.Context) error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(callCtx, method, c.resolve(path), reader)
		if err != nil {
			return fmt.Errorf("create %s request: %w", operation, err)
		}
		c.authorize(req)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("document store %s request: %w", operation, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return newHTTPStatusError(operation, resp)
		}
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", operation, err)
		}
		return nil
	}

	classifier := classifyDocStoreError
	if method == http.MethodPost {
		classifier = classifyNonIdempotent
	}
	return c.execute(ctx, "docstore."+operation, call, classifier)
}

func (c *Client) download(ctx context.Context, path, operation string) ([]byte, string, error) {
	var data []byte
	var contentType string
	call := func(callCtx context.Context) error {
		req, err := http.NewRequestWithContext(callCtx, http.MethodGet, c.resolve(path), nil)
		if err != nil {
			return fmt.Errorf("create %s request: %w", operation, err)
		}
		c.authorize(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("document store %s request: %w", operation, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return newHTTPStatusError(operation, resp)
		}
		data, err = io.ReadAll(io.LimitReader(resp.Body, c.maxDownloadBytes))
		if err != nil {
			return fmt.Errorf("read %s body: %w", operation, err)
		}
		contentType = resp.Header.Get("Content-Type")
		return nil
	}

	if err := c.execute(ctx, "docstore."+operation, call, classifyDocStoreError); err != nil {
		return nil, "", err
	}
	return data, contentType, nil
}

func (c *Client) execute(
	ctx context.Context,
	operation string,
	call func(context.Context) error,
	classifier resilience.ErrorClassifier,
) error {
	var err error
	if c.executor != nil {
		// One breaker per operation and host.
		err = c.executor.Execute(ctx, operation+"@"+c.host, call, classifier)
	} else {
		err = call(ctx)
	}
	return mapDocStoreError(operation, err)
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Token "+c.token)
	}
}

// resolve accepts absolute "next" links returned by paginated endpoints.
func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + path
}

func newHTTPStatusError(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &HTTPStatusError{
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       strings.TrimSpace(string(body)),
	}
}

func mapDocStoreError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if statusErr, ok := asHTTPStatusError(err); ok {
		switch statusErr.StatusCode {
		case http.StatusNotFound:
			return domain.WrapError(domain.ErrNotFound, operation, err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return domain.WrapError(domain.ErrUnauthorized, operation, err)
		case http.StatusBadRequest:
			return domain.WrapError(domain.ErrInvalidInput, operation, err)
		}
	}
	return wrapTemporaryIfNeeded(operation, err)
}
