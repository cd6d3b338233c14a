// Package auth obtains OAuth2 client-credentials tokens for the solver API.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

type ClientCred struct {
	conf clientcredentials.Config
	ctx  context.Context

	mu    sync.Mutex
	token *oauth2.Token
}

// NewClientCred returns a token source for conf. Token requests go through
// httpClient when it is not nil.
func NewClientCred(conf Conf, httpClient *http.Client) *ClientCred {
	ctx := context.Background()
	if httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	}
	return &ClientCred{conf: conf.toOauth2Config(), ctx: ctx}
}

// GetToken retrieves a valid access token. If the current token is valid, it returns the existing token.
// Otherwise, it requests a new token using the client credentials configuration.
func (c *ClientCred) GetToken() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensure(); err != nil {
		return "", err
	}
	return c.token.AccessToken, nil
}

func (c *ClientCred) ensure() error {
	if c.token != nil && c.token.Valid() {
		return nil
	}
	tok, err := c.conf.Token(c.ctx)
	if err != nil {
		return fmt.Errorf("failed to get token: %w", err)
	}
	c.token = tok
	return nil
}

// Invalidate drops the cached token so the next request fetches a new one.
// It is called when the solver rejects a token before its expiry.
func (c *ClientCred) Invalidate() {
	c.mu.Lock()
	c.token = nil
	c.mu.Unlock()
}

// SetAuthHeader sets the Authorization header of r, refreshing the token
// when needed.
func (c *ClientCred) SetAuthHeader(r *http.Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensure(); err != nil {
		return err
	}
	c.token.SetAuthHeader(r)
	return nil
}
