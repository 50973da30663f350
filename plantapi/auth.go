// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package plantapi

import (
	"context"
	"net/http"

	apperrors "github.com/soothill/plant-feed/pkg/errors"
	"github.com/soothill/plant-feed/pkg/logger"
)

// Credentials are posted to the login endpoint.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// User is the account returned by login and profile calls.
type User struct {
	ID    ID     `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

type loginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Login authenticates and stores the returned token for later requests.
func (c *Client) Login(ctx context.Context, creds Credentials) (*User, error) {
	if creds.Email == "" {
		return nil, apperrors.NewInvalidArgumentError("email", creds.Email, "must not be empty")
	}

	var resp loginResponse
	if err := c.do(ctx, "login", http.MethodPost, "/auth/login", nil, creds, &resp); err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, apperrors.NewRequestError("login", 0, "login response carried no token", nil)
	}

	if c.tokens != nil {
		c.tokens.Set(resp.Token)
	}
	logger.Info().Str("email", creds.Email).Msg("Logged in to plant API")
	return &resp.User, nil
}

// Profile returns the user the current token belongs to.
func (c *Client) Profile(ctx context.Context) (*User, error) {
	var user User
	if err := c.do(ctx, "profile", http.MethodGet, "/auth/profile", nil, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Logout forgets the stored token. The server keeps no session to end.
func (c *Client) Logout() {
	if c.tokens != nil {
		c.tokens.Clear()
	}
}
