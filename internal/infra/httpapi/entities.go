package httpapi

import (
	"context"
	"net/http"
	"net/url"

	"bridgeq/internal/domain"
)

func teamPath(team, kind string) string {
	return "/teams/" + url.PathEscape(team) + "/" + kind
}

func (c *Client) GetMachine(ctx context.Context, team, name string) (*domain.Machine, error) {
	var m domain.Machine
	if err := c.do(ctx, http.MethodGet, teamPath(team, "machines")+"/"+url.PathEscape(name), nil, nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) CreateMachine(ctx context.Context, m domain.Machine) (*domain.Machine, error) {
	var out domain.Machine
	if err := c.do(ctx, http.MethodPost, teamPath(m.Team, "machines"), nil, m, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetStorage(ctx context.Context, team, name string) (*domain.Storage, error) {
	var s domain.Storage
	if err := c.do(ctx, http.MethodGet, teamPath(team, "storages")+"/"+url.PathEscape(name), nil, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) CreateStorage(ctx context.Context, s domain.Storage) (*domain.Storage, error) {
	var out domain.Storage
	if err := c.do(ctx, http.MethodPost, teamPath(s.Team, "storages"), nil, s, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
