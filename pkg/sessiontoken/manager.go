package sessiontoken

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// DefaultSessionLifetime is the absolute lifetime of an encoded session token.
const DefaultSessionLifetime = 30 * 24 * time.Hour

// defaultAccessTokenTTL applies when the provider omits the expiry hint.
const defaultAccessTokenTTL = time.Hour

// Sentinel errors exposed by the manager.
var (
	ErrMissingSigningKey = errors.New("session.manager.missing_signing_key")
	ErrMissingIssuer     = errors.New("session.manager.missing_issuer")
	ErrMissingRefresher  = errors.New("session.manager.missing_refresher")
	ErrMissingSubject    = errors.New("session.manager.missing_subject")
)

// RefreshResult is the provider's answer to a refresh_token grant.
type RefreshResult struct {
	AccessToken string
	// ExpiresInSeconds is zero when the provider omitted the hint.
	ExpiresInSeconds int64
	// RefreshToken is empty when the provider kept the current one.
	RefreshToken string
}

// Refresher exchanges a refresh token for a new access token at the identity
// provider's token endpoint.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (RefreshResult, error)
}

// Config configures the Manager.
type Config struct {
	SigningKey      []byte
	Issuer          string
	SessionLifetime time.Duration
	Refresher       Refresher
	Clock           Clock
	Logger          *zap.Logger
}

// Manager encodes session tokens and produces decoded, current records,
// transparently refreshing the access token when it has expired.
type Manager struct {
	signingKey      []byte
	issuer          string
	sessionLifetime time.Duration
	refresher       Refresher
	clock           Clock
	logger          *zap.Logger
}

type sessionClaims struct {
	DisplayName          string `json:"user_display_name,omitempty"`
	Email                string `json:"user_email,omitempty"`
	AvatarURL            string `json:"user_avatar_url,omitempty"`
	AccessToken          string `json:"access_token,omitempty"`
	RefreshToken         string `json:"refresh_token,omitempty"`
	AccessTokenExpiresAt int64  `json:"access_token_expires_at,omitempty"`
	ErrorTag             string `json:"error,omitempty"`
	jwt.RegisteredClaims
}

// New constructs a Manager after validating the supplied configuration.
func New(configuration Config) (*Manager, error) {
	if len(configuration.SigningKey) == 0 {
		return nil, fmt.Errorf("session.manager.new: %w", ErrMissingSigningKey)
	}
	if strings.TrimSpace(configuration.Issuer) == "" {
		return nil, fmt.Errorf("session.manager.new: %w", ErrMissingIssuer)
	}
	if configuration.Refresher == nil {
		return nil, fmt.Errorf("session.manager.new: %w", ErrMissingRefresher)
	}
	sessionLifetime := configuration.SessionLifetime
	if sessionLifetime <= 0 {
		sessionLifetime = DefaultSessionLifetime
	}
	clock := configuration.Clock
	if clock == nil {
		clock = systemClock{}
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		signingKey:      configuration.SigningKey,
		issuer:          configuration.Issuer,
		sessionLifetime: sessionLifetime,
		refresher:       configuration.Refresher,
		clock:           clock,
		logger:          logger,
	}, nil
}

// Encode signs the token record into its transport form. The issued-at
// timestamp is always taken from the clock, so re-encoding an existing
// record restarts the sliding re-issue window.
func (manager *Manager) Encode(token Token) (string, error) {
	if strings.TrimSpace(token.Subject) == "" {
		return "", fmt.Errorf("session.manager.encode: %w", ErrMissingSubject)
	}
	issuedAt := manager.clock.Now()
	claims := sessionClaims{
		DisplayName:          token.DisplayName,
		Email:                token.Email,
		AvatarURL:            token.AvatarURL,
		AccessToken:          token.AccessToken,
		RefreshToken:         token.RefreshToken,
		AccessTokenExpiresAt: token.AccessTokenExpiresAtMillis,
		ErrorTag:             token.Error,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    manager.issuer,
			Subject:   token.Subject,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(manager.sessionLifetime)),
		},
	}
	signed, signErr := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(manager.signingKey)
	if signErr != nil {
		return "", fmt.Errorf("session.manager.encode: %w", signErr)
	}
	return signed, nil
}

// Decode verifies the raw signed token and returns the current session
// record. Any verification failure yields nil; there is no partially
// trusted record. An expired access token triggers at most one refresh
// attempt, whose failure is recorded on the returned record rather than
// reported as a decode failure.
func (manager *Manager) Decode(ctx context.Context, rawToken string) *Token {
	if strings.TrimSpace(rawToken) == "" {
		return nil
	}
	parsedToken, parseErr := jwt.ParseWithClaims(rawToken, &sessionClaims{}, func(parsed *jwt.Token) (interface{}, error) {
		return manager.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(func() time.Time {
		return manager.clock.Now()
	}))
	if parseErr != nil || parsedToken == nil || !parsedToken.Valid {
		return nil
	}
	claims, ok := parsedToken.Claims.(*sessionClaims)
	if !ok || claims.Issuer != manager.issuer || claims.Subject == "" {
		return nil
	}

	token := Token{
		Subject:                    claims.Subject,
		DisplayName:                claims.DisplayName,
		Email:                      claims.Email,
		AvatarURL:                  claims.AvatarURL,
		AccessToken:                claims.AccessToken,
		RefreshToken:               claims.RefreshToken,
		AccessTokenExpiresAtMillis: claims.AccessTokenExpiresAt,
		Error:                      claims.ErrorTag,
	}
	if claims.IssuedAt != nil {
		token.IssuedAt = claims.IssuedAt.Time
	}

	if token.AccessTokenValid(manager.clock.Now()) {
		return &token
	}
	refreshedToken := manager.refresh(ctx, token)
	return &refreshedToken
}

// Update merges the patch's profile fields over the record. Credentials,
// expiry, and the error tag are never touched.
func (manager *Manager) Update(token Token, patch ProfilePatch) Token {
	if patch.DisplayName != nil {
		token.DisplayName = *patch.DisplayName
	}
	if patch.Email != nil {
		token.Email = *patch.Email
	}
	if patch.AvatarURL != nil {
		token.AvatarURL = *patch.AvatarURL
	}
	return token
}

func (manager *Manager) refresh(ctx context.Context, token Token) Token {
	if strings.TrimSpace(token.RefreshToken) == "" {
		token.Error = ErrorNoRefreshToken
		token.AccessToken = ""
		return token
	}

	result, refreshErr := manager.refresher.Refresh(ctx, token.RefreshToken)
	if refreshErr != nil {
		manager.logger.Warn("access token refresh failed",
			zap.String("code", "session.refresh.provider_error"),
			zap.String("subject", token.Subject),
			zap.Error(refreshErr))
		token.Error = ErrorRefreshFailed
		return token
	}

	expiresInSeconds := result.ExpiresInSeconds
	if expiresInSeconds <= 0 {
		expiresInSeconds = int64(defaultAccessTokenTTL / time.Second)
	}
	token.AccessToken = result.AccessToken
	token.AccessTokenExpiresAtMillis = manager.clock.Now().Add(time.Duration(expiresInSeconds) * time.Second).UnixMilli()
	if result.RefreshToken != "" {
		token.RefreshToken = result.RefreshToken
	}
	token.Error = ""
	token.refreshed = true
	return token
}
