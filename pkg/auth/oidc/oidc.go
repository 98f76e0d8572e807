// Package oidc implements the OpenID Connect login flow for multi-user
// mode: provider discovery, the authorization redirect, and code
// exchange with ID-token verification.
package oidc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// CallbackPath is the route the provider redirects back to, relative
// to the API prefix.
const CallbackPath = "/auth/callback"

// Common errors of the login flow.
var (
	ErrExchangeFailed = errors.New("oidc: code exchange failed")
	ErrNoIDToken      = errors.New("oidc: token response carries no id_token")
	ErrNonceMismatch  = errors.New("oidc: nonce mismatch")
)

// Config holds the relying-party settings.
type Config struct {
	// IssuerUri is the provider's issuer URL; discovery runs against
	// it at startup and failure to load it is fatal in multi-user mode.
	IssuerUri string

	ClientId     string
	ClientSecret string

	// RedirectBase is the externally visible base URL of this server.
	RedirectBase string

	// Prefix is the API route prefix the callback lives under.
	Prefix string
}

// Identity is the verified subject extracted from an ID token.
type Identity struct {
	Issuer  string
	Sub     string
	Name    string
	Email   string
	Picture string
}

// Authenticator runs the authorization-code flow.
type Authenticator struct {
	issuer   string
	verifier *gooidc.IDTokenVerifier
	oauth    oauth2.Config
	log      zerolog.Logger
}

// New discovers the provider and prepares the flow.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Authenticator, error) {
	provider, err := gooidc.NewProvider(ctx, cfg.IssuerUri)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery for %s: %w", cfg.IssuerUri, err)
	}

	redirect := strings.TrimSuffix(cfg.RedirectBase, "/") + cfg.Prefix + CallbackPath

	return &Authenticator{
		issuer:   cfg.IssuerUri,
		verifier: provider.Verifier(&gooidc.Config{ClientID: cfg.ClientId}),
		oauth: oauth2.Config{
			ClientID:     cfg.ClientId,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  redirect,
			Scopes:       []string{gooidc.ScopeOpenID, "profile", "email"},
		},
		log: log.With().Str("pkg", "oidc").Logger(),
	}, nil
}

// Issuer returns the provider issuer URL. It doubles as the provider
// tag stored on users.
func (a *Authenticator) Issuer() string {
	return a.issuer
}

// AuthURL builds the provider authorization URL for one login attempt.
func (a *Authenticator) AuthURL(state, nonce string) string {
	return a.oauth.AuthCodeURL(state, gooidc.Nonce(nonce))
}

// Exchange redeems an authorization code and verifies the ID token,
// including the nonce bound to the session that started the flow.
func (a *Authenticator) Exchange(ctx context.Context, code, nonce string) (*Identity, error) {
	token, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		a.log.Debug().Err(err).Msg("code exchange rejected")
		return nil, ErrExchangeFailed
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, ErrNoIDToken
	}

	idToken, err := a.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("oidc: verifying id_token: %w", err)
	}
	if idToken.Nonce != nonce {
		return nil, ErrNonceMismatch
	}

	var claims struct {
		Name    string `json:"name"`
		Email   string `json:"email"`
		Picture string `json:"picture"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("oidc: decoding claims: %w", err)
	}

	name := claims.Name
	if name == "" {
		name = claims.Email
	}

	return &Identity{
		Issuer:  a.issuer,
		Sub:     idToken.Subject,
		Name:    name,
		Email:   claims.Email,
		Picture: claims.Picture,
	}, nil
}
