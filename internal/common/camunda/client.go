// internal/common/camunda/client.go
package camunda

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "companion-workers/internal/common/errors"

	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
)

// Client holds the gateway connection shared by the job workers and the
// message publisher.
type Client struct {
	zb             zbc.Client
	requestTimeout time.Duration
	backoff        Backoff
}

// Backoff bounds retries of transient gateway failures.
type Backoff struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

var DefaultBackoff = Backoff{Attempts: 4, Base: 500 * time.Millisecond, Max: 5 * time.Second}

// NewClient dials a plaintext gateway and waits for its topology, so a
// broker that is still starting surfaces as an error the caller can retry.
func NewClient(address string, requestTimeout time.Duration) (*Client, error) {
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Second
	}
	zb, err := zbc.NewClient(&zbc.ClientConfig{
		GatewayAddress:         address,
		UsePlaintextConnection: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create zeebe client: %w", err)
	}

	c := &Client{zb: zb, requestTimeout: requestTimeout, backoff: DefaultBackoff}
	if err := c.Ready(context.Background()); err != nil {
		_ = zb.Close()
		return nil, err
	}
	return c, nil
}

// Raw returns the gateway client the job workers are opened on.
func (c *Client) Raw() zbc.Client { return c.zb }

func (c *Client) Close() error { return c.zb.Close() }

// Ready asks the gateway for its topology.
func (c *Client) Ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	if _, err := c.zb.NewTopologyCommand().Send(ctx); err != nil {
		return fmt.Errorf("zeebe topology: %w", err)
	}
	return nil
}

// PublishMessage correlates name to the process instance waiting on key.
// messageID makes the publish idempotent within ttl on the broker side.
func (c *Client) PublishMessage(ctx context.Context, name, key, messageID string, ttl time.Duration, vars interface{}) error {
	return c.backoff.do(ctx, "publish "+name, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()

		cmd := c.zb.NewPublishMessageCommand().MessageName(name).CorrelationKey(key).TimeToLive(ttl)
		if messageID != "" {
			cmd = cmd.MessageId(messageID)
		}
		if vars != nil {
			var err error
			if cmd, err = cmd.VariablesFromObject(vars); err != nil {
				return apperrors.NewValidationFailedError("message variables: " + err.Error())
			}
		}
		_, err := cmd.Send(ctx)
		return err
	})
}

// do runs fn until it succeeds, fails permanently or attempts run out.
func (b Backoff) do(ctx context.Context, op string, fn func(context.Context) error) error {
	attempts := b.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := b.Base
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if _, ok := apperrors.As(err); ok {
			return err
		}
		if !isRetryableZeebeError(err) || attempt == attempts-1 {
			return mapZeebeError(err, op, attempt)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s cancelled after %d attempts: %w", op, attempt+1, ctx.Err())
		}
		if delay *= 2; b.Max > 0 && delay > b.Max {
			delay = b.Max
		}
	}
}

var retryablePhrases = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"deadline exceeded",
	"unavailable",
	"resource exhausted",
	"broken pipe",
}

func isRetryableZeebeError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, phrase := range retryablePhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

func mapZeebeError(err error, op string, attempt int) error {
	lower := strings.ToLower(err.Error())
	wrapped := fmt.Errorf("zeebe %s failed after %d attempts: %w", op, attempt+1, err)
	switch {
	case strings.Contains(lower, "not found"):
		return apperrors.NewNotFoundError("zeebe resource", op)
	case strings.Contains(lower, "permission denied") || strings.Contains(lower, "unauthenticated"):
		return apperrors.NewNotAuthorizedError("worker-manager", wrapped.Error())
	default:
		return apperrors.NewDependencyFailureError("zeebe", wrapped)
	}
}
