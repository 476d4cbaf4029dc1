package httpapi

import (
	"context"
	"net/http"
	"net/url"

	"bridgeq/internal/domain"
	"bridgeq/internal/wire"
)

func (c *Client) Submit(ctx context.Context, req domain.SubmitRequest) (*domain.Task, error) {
	var t domain.Task
	if err := c.do(ctx, http.MethodPost, "/tasks", nil, req, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) Fetch(ctx context.Context, id string) (*domain.Task, error) {
	var t domain.Task
	if err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(id), nil, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) List(ctx context.Context, f domain.ListFilter) ([]domain.Task, error) {
	var out wire.TaskList
	if err := c.do(ctx, http.MethodGet, "/tasks", wire.EncodeFilter(f), nil, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

func (c *Client) action(ctx context.Context, id, action string, payload domain.Payload) (*domain.Task, error) {
	var in any
	if payload != nil {
		in = wire.PayloadBody{Payload: payload}
	}
	var t domain.Task
	if err := c.do(ctx, http.MethodPost, "/tasks/"+url.PathEscape(id)+"/"+action, nil, in, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) Cancel(ctx context.Context, id string) (*domain.Task, error) {
	return c.action(ctx, id, "cancel", nil)
}

func (c *Client) Complete(ctx context.Context, id string, payload domain.Payload) (*domain.Task, error) {
	return c.action(ctx, id, "complete", payload)
}

func (c *Client) Fail(ctx context.Context, id string, payload domain.Payload) (*domain.Task, error) {
	return c.action(ctx, id, "fail", payload)
}

func (c *Client) UpdateResponse(ctx context.Context, id string, payload domain.Payload) (*domain.Task, error) {
	return c.action(ctx, id, "response", payload)
}

func (c *Client) Retry(ctx context.Context, id string) (*domain.Task, error) {
	return c.action(ctx, id, "retry", nil)
}

func (c *Client) Remove(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/tasks/"+url.PathEscape(id), nil, nil, nil)
}

func (c *Client) NextFor(ctx context.Context, bridge string) (*domain.Task, error) {
	var t domain.Task
	if err := c.do(ctx, http.MethodPost, "/bridges/"+url.PathEscape(bridge)+"/next", nil, nil, &t); err != nil {
		return nil, err
	}
	if t.ID == "" {
		return nil, nil
	}
	return &t, nil
}

// Functions fetches the function table the service advertises.
func (c *Client) Functions(ctx context.Context) ([]domain.FunctionSpec, error) {
	var out wire.FunctionList
	if err := c.do(ctx, http.MethodGet, "/functions", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Functions, nil
}
