package rest

import (
	"context"
	"net/http"
)

// User is the public part of an account.
type User struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

// RegisterResponse is the result of account creation.
type RegisterResponse struct {
	Message string `json:"message"`
	User    User   `json:"user"`
}

// LoginResponse carries the JWT and the resolved identity.
type LoginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Message  string `json:"message"`
}

// ForgotResponse acknowledges an OTP request.
type ForgotResponse struct {
	Message string `json:"message"`
	OTP     string `json:"otp"`
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, username, email, password string) (*RegisterResponse, error) {
	body := map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	}
	var out RegisterResponse
	if err := c.do(ctx, http.MethodPost, "/auth/register", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Login authenticates with email and password. On success the client
// adopts the returned token for subsequent requests.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	body := map[string]string{
		"email":    email,
		"password": password,
	}
	var out LoginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, &out); err != nil {
		return nil, err
	}
	c.token = out.Token
	return &out, nil
}

// ForgotPassword requests a password reset OTP for the email.
func (c *Client) ForgotPassword(ctx context.Context, email string) (*ForgotResponse, error) {
	var out ForgotResponse
	if err := c.do(ctx, http.MethodPost, "/auth/forgot", map[string]string{"email": email}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResetPassword redeems an OTP for a new password.
func (c *Client) ResetPassword(ctx context.Context, email, otp, newPassword string) error {
	body := map[string]string{
		"email":       email,
		"otp":         otp,
		"newPassword": newPassword,
	}
	return c.do(ctx, http.MethodPost, "/auth/reset", body, nil)
}
