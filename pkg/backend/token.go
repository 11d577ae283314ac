package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/chatrelay/chatrelay/pkg/config"
)

// TokenProvider obtains a bearer credential for the AI backend.
type TokenProvider interface {
	// Token exchanges client credentials for a bearer token. Stateless; no
	// retry beyond surfacing the failure.
	Token(ctx context.Context) (string, error)
}

// httpTokenProvider implements TokenProvider against the backend's OAuth-style
// client-credentials endpoint.
type httpTokenProvider struct {
	cfg        config.BackendConfig
	httpClient *http.Client
}

// NewTokenProvider creates a TokenProvider for the configured backend.
func NewTokenProvider(cfg config.BackendConfig, httpClient *http.Client) TokenProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &httpTokenProvider{cfg: cfg, httpClient: httpClient}
}

func (p *httpTokenProvider) Token(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", p.cfg.ClientID)
	form.Set("client_secret", p.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: failed to create token request: %v", ErrCredentialFailure, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCredentialFailure, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: unexpected token response status %d", ErrCredentialFailure, resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: failed to decode token response: %v", ErrCredentialFailure, err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("%w: token response carried no access_token", ErrCredentialFailure)
	}

	return body.AccessToken, nil
}
