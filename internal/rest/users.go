package rest

import (
	"context"
	"net/http"
	"net/url"
)

// Users lists every registered user, for search and group creation.
func (c *Client) Users(ctx context.Context) ([]User, error) {
	var out []User
	if err := c.do(ctx, http.MethodGet, "/users", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SearchUsers finds users whose username contains query,
// case-insensitive.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]User, error) {
	var out []User
	if err := c.do(ctx, http.MethodGet, "/users/search?query="+url.QueryEscape(query), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UsernameByEmail resolves a display username from an email address.
func (c *Client) UsernameByEmail(ctx context.Context, email string) (string, error) {
	var out struct {
		Username string `json:"username"`
	}
	if err := c.do(ctx, http.MethodGet, "/users/by-email?email="+url.QueryEscape(email), nil, &out); err != nil {
		return "", err
	}
	return out.Username, nil
}
