package remonline

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// tokenTTL is shorter than the ten minutes RemOnline grants so a token
// never expires mid-request.
const tokenTTL = 9 * time.Minute

type cachedToken struct {
	value   string
	expires time.Time
}

type tokenResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token"`
}

// Token returns the cached API token, exchanging the API key for a new
// one when it is missing or expired.
func (c *Client) Token(ctx context.Context) (string, error) {
	if !c.Enabled() {
		return "", ErrNotConfigured
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token.value != "" && time.Now().Before(c.token.expires) {
		return c.token.value, nil
	}

	var out tokenResponse
	form := url.Values{"api_key": {c.cfg.APIKey}}
	err := c.call(ctx, "token", true, func() error {
		return c.doRequest(ctx, http.MethodPost, "/token/new", nil, form, &out)
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Token) == "" {
		return "", &APIError{Status: http.StatusUnauthorized, Message: "empty token"}
	}
	c.token = cachedToken{value: out.Token, expires: time.Now().Add(tokenTTL)}
	return out.Token, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = cachedToken{}
	c.mu.Unlock()
}
