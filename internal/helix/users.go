package helix

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var ErrUserNotFound = errors.New("user not found")

type User struct {
	ID              string `json:"id"`
	Login           string `json:"login"`
	DisplayName     string `json:"display_name"`
	BroadcasterType string `json:"broadcaster_type"`
}

// GetUserByLogin resolves a channel login name to its user.
func (c *Client) GetUserByLogin(ctx context.Context, login string) (User, error) {
	login = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(login), "#")))
	if login == "" {
		return User{}, errors.New("login is required")
	}
	return c.getUser(ctx, url.Values{"login": {login}})
}

// GetCurrentUser returns the user the access token belongs to.
func (c *Client) GetCurrentUser(ctx context.Context) (User, error) {
	return c.getUser(ctx, nil)
}

func (c *Client) getUser(ctx context.Context, query url.Values) (User, error) {
	var out dataEnvelope[User]
	if err := c.do(ctx, request{endpoint: "users", method: http.MethodGet, path: "/users", query: query}, &out); err != nil {
		return User{}, err
	}
	if len(out.Data) == 0 {
		if login := query.Get("login"); login != "" {
			return User{}, fmt.Errorf("%w: %s", ErrUserNotFound, login)
		}
		return User{}, ErrUserNotFound
	}
	return out.Data[0], nil
}
