// internal/clients/membership_client.go
package clients

import (
	"context"
	"net/http"

	"bookhold/internal/membership"
)

// Registration is the body of a register request.
type Registration struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
	Password  string `json:"password"`
}

func (c *Client) Register(ctx context.Context, reg Registration) (*membership.Account, error) {
	var out membership.Account
	if err := c.do(ctx, http.MethodPost, "/accounts/register", "", reg, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Login returns a bearer token for username.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	in := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/accounts/login", "", in, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}
