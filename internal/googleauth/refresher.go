package googleauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2/google"

	"github.com/lmoraes/taskboard/pkg/sessiontoken"
)

// defaultRefreshTimeout bounds the token-endpoint call so a slow provider
// cannot stall the request pipeline.
const defaultRefreshTimeout = 10 * time.Second

// ErrEmptyRefreshToken indicates a refresh was attempted without a token.
var ErrEmptyRefreshToken = errors.New("googleauth.refresher.empty_refresh_token")

// TokenEndpointRefresher implements sessiontoken.Refresher with a single
// refresh_token grant per call. It deliberately avoids oauth2.TokenSource:
// the session manager requires exactly one attempt per decode, failures
// surfaced immediately, and the stored refresh token kept when the provider
// omits a replacement.
type TokenEndpointRefresher struct {
	endpointURL  string
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

// RefresherOption customizes a TokenEndpointRefresher.
type RefresherOption func(*TokenEndpointRefresher)

// WithEndpointURL overrides the provider token endpoint.
func WithEndpointURL(endpointURL string) RefresherOption {
	return func(refresher *TokenEndpointRefresher) {
		refresher.endpointURL = endpointURL
	}
}

// WithHTTPClient overrides the HTTP client used for the token call.
func WithHTTPClient(client *http.Client) RefresherOption {
	return func(refresher *TokenEndpointRefresher) {
		refresher.httpClient = client
	}
}

// NewTokenEndpointRefresher constructs a refresher against Google's token
// endpoint with a bounded timeout.
func NewTokenEndpointRefresher(clientID string, clientSecret string, options ...RefresherOption) *TokenEndpointRefresher {
	refresher := &TokenEndpointRefresher{
		endpointURL:  google.Endpoint.TokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: defaultRefreshTimeout},
	}
	for _, option := range options {
		option(refresher)
	}
	return refresher
}

// Refresh performs one POST with grant_type=refresh_token. Only the HTTP
// status decides success; error bodies are treated opaquely.
func (refresher *TokenEndpointRefresher) Refresh(ctx context.Context, refreshToken string) (sessiontoken.RefreshResult, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return sessiontoken.RefreshResult{}, fmt.Errorf("googleauth.refresher: %w", ErrEmptyRefreshToken)
	}

	form := url.Values{}
	form.Set("client_id", refresher.clientID)
	form.Set("client_secret", refresher.clientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	request, requestErr := http.NewRequestWithContext(ctx, http.MethodPost, refresher.endpointURL, strings.NewReader(form.Encode()))
	if requestErr != nil {
		return sessiontoken.RefreshResult{}, fmt.Errorf("googleauth.refresher.request: %w", requestErr)
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	response, doErr := refresher.httpClient.Do(request)
	if doErr != nil {
		return sessiontoken.RefreshResult{}, fmt.Errorf("googleauth.refresher.transport: %w", doErr)
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return sessiontoken.RefreshResult{}, fmt.Errorf("googleauth.refresher.status: %d", response.StatusCode)
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		ExpiresIn    int64  `json:"expires_in"`
		RefreshToken string `json:"refresh_token"`
	}
	if decodeErr := json.NewDecoder(response.Body).Decode(&payload); decodeErr != nil {
		return sessiontoken.RefreshResult{}, fmt.Errorf("googleauth.refresher.decode: %w", decodeErr)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return sessiontoken.RefreshResult{}, errors.New("googleauth.refresher.empty_access_token")
	}
	return sessiontoken.RefreshResult{
		AccessToken:      payload.AccessToken,
		ExpiresInSeconds: payload.ExpiresIn,
		RefreshToken:     payload.RefreshToken,
	}, nil
}
