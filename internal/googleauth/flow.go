package googleauth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/idtoken"
)

// Sentinel errors exposed by the flow.
var (
	ErrMissingClientID     = errors.New("googleauth.missing_client_id")
	ErrMissingClientSecret = errors.New("googleauth.missing_client_secret")
	ErrMissingRedirectURL  = errors.New("googleauth.missing_redirect_url")
	ErrMissingIDToken      = errors.New("googleauth.missing_id_token")
	ErrInvalidIssuer       = errors.New("googleauth.invalid_issuer")
	ErrUnverifiedIdentity  = errors.New("googleauth.unverified_identity")
)

// IDTokenValidator verifies a Google ID token against an audience.
type IDTokenValidator interface {
	Validate(ctx context.Context, token string, audience string) (*idtoken.Payload, error)
}

type googleIDTokenValidator struct {
	validator *idtoken.Validator
}

func (wrapper googleIDTokenValidator) Validate(ctx context.Context, token string, audience string) (*idtoken.Payload, error) {
	return wrapper.validator.Validate(ctx, token, audience)
}

// NewIDTokenValidator constructs a validator backed by Google's certificates.
func NewIDTokenValidator(ctx context.Context) (IDTokenValidator, error) {
	validator, err := idtoken.NewValidator(ctx)
	if err != nil {
		return nil, fmt.Errorf("googleauth.validator_init: %w", err)
	}
	return googleIDTokenValidator{validator: validator}, nil
}

// Identity is the verified profile extracted from a Google ID token.
type Identity struct {
	GoogleSub   string
	Email       string
	DisplayName string
	AvatarURL   string
}

// Config configures the web sign-in flow.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Validator    IDTokenValidator
}

// Flow runs the Google authorization-code sign-in.
type Flow struct {
	oauthConfig *oauth2.Config
	validator   IDTokenValidator
}

// NewFlow constructs a Flow after validating the supplied configuration.
func NewFlow(configuration Config) (*Flow, error) {
	if strings.TrimSpace(configuration.ClientID) == "" {
		return nil, fmt.Errorf("googleauth.flow.new: %w", ErrMissingClientID)
	}
	if strings.TrimSpace(configuration.ClientSecret) == "" {
		return nil, fmt.Errorf("googleauth.flow.new: %w", ErrMissingClientSecret)
	}
	if strings.TrimSpace(configuration.RedirectURL) == "" {
		return nil, fmt.Errorf("googleauth.flow.new: %w", ErrMissingRedirectURL)
	}
	return &Flow{
		oauthConfig: &oauth2.Config{
			ClientID:     configuration.ClientID,
			ClientSecret: configuration.ClientSecret,
			RedirectURL:  configuration.RedirectURL,
			Endpoint:     google.Endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		},
		validator: configuration.Validator,
	}, nil
}

// AuthCodeURL builds the consent-screen redirect bound to the given state.
// Offline access is requested so the provider hands back a refresh token.
func (flow *Flow) AuthCodeURL(state string) string {
	return flow.oauthConfig.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"))
}

// Exchange trades the authorization code for the provider's token set.
func (flow *Flow) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	exchanged, err := flow.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("googleauth.exchange: %w", err)
	}
	return exchanged, nil
}

// VerifyIdentity validates the id_token carried in an exchanged token set
// and extracts the signed-in user's profile.
func (flow *Flow) VerifyIdentity(ctx context.Context, exchanged *oauth2.Token) (Identity, error) {
	rawIDToken, ok := exchanged.Extra("id_token").(string)
	if !ok || strings.TrimSpace(rawIDToken) == "" {
		return Identity{}, fmt.Errorf("googleauth.verify: %w", ErrMissingIDToken)
	}
	payload, validateErr := flow.validator.Validate(ctx, rawIDToken, flow.oauthConfig.ClientID)
	if validateErr != nil {
		return Identity{}, fmt.Errorf("googleauth.verify: %w", validateErr)
	}
	issuerValue, okIssuer := payload.Claims["iss"].(string)
	if !okIssuer || (issuerValue != "https://accounts.google.com" && issuerValue != "accounts.google.com") {
		return Identity{}, fmt.Errorf("googleauth.verify: %w", ErrInvalidIssuer)
	}
	googleSub, _ := payload.Claims["sub"].(string)
	userEmail, _ := payload.Claims["email"].(string)
	emailVerified, _ := payload.Claims["email_verified"].(bool)
	displayName, _ := payload.Claims["name"].(string)
	avatarURL, _ := payload.Claims["picture"].(string)

	if googleSub == "" || userEmail == "" || !emailVerified {
		return Identity{}, fmt.Errorf("googleauth.verify: %w", ErrUnverifiedIdentity)
	}
	return Identity{
		GoogleSub:   googleSub,
		Email:       userEmail,
		DisplayName: displayName,
		AvatarURL:   avatarURL,
	}, nil
}
