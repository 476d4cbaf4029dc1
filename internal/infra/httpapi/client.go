package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bridgeq/internal/config"
	"bridgeq/internal/domain"
	"bridgeq/internal/ports"
	"bridgeq/internal/wire"
	"bridgeq/pkg/backoff"

	"github.com/rs/zerolog/log"
)

var _ ports.Backend = (*Client)(nil)

// Client talks to the queue service over its JSON API. Transient failures
// (network errors, 429, 5xx) of GET and DELETE requests are retried with
// exponential backoff. A POST is only resent when the connection was never
// established, so a lost response cannot submit or transition a task twice.
type Client struct {
	Cfg  config.API
	HTTP *http.Client
}

func New(cfg config.API) *Client {
	return &Client{
		Cfg:  cfg,
		HTTP: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = b
	}

	endpoint := strings.TrimRight(c.Cfg.URL, "/") + wire.Prefix + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	for attempt := 1; ; attempt++ {
		status, err := c.once(ctx, method, endpoint, body, out)
		if err == nil {
			return nil
		}
		if !retryable(method, status, err) || attempt > c.Cfg.MaxRetries {
			return err
		}

		delay := backoff.ExponentialJitter(c.Cfg.BaseBackoff, c.Cfg.MaxBackoff, attempt)
		log.Ctx(ctx).Warn().Err(err).
			Str("method", method).
			Str("path", path).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("queue request failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// once performs a single round trip. status is 0 when no response arrived.
func (c *Client) once(ctx context.Context, method, endpoint string, body []byte, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Cfg.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return resp.StatusCode, decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body wire.ErrorBody
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Message != "" {
		return &domain.RemoteError{Status: resp.StatusCode, Code: body.Error.Code, Message: body.Error.Message}
	}
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &domain.RemoteError{Status: resp.StatusCode, Message: msg}
}

func retryable(method string, status int, err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if !idempotent(method) {
		return status == 0 && neverSent(err)
	}
	if status == 0 {
		return true
	}
	return status == http.StatusTooManyRequests || status >= 500
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodDelete:
		return true
	}
	return false
}

// neverSent reports whether err happened while dialing, before any byte of
// the request left the client.
func neverSent(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
