// Package auth exchanges a long-lived Spotify refresh token for short-lived
// access tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

var (
	// ErrMissingCredentials is returned when the client ID, secret or refresh token is empty.
	ErrMissingCredentials = errors.New("missing client ID, client secret or refresh token")

	// ErrEmptyToken is returned when the token endpoint answers without an access token.
	ErrEmptyToken = errors.New("token endpoint returned no access token")
)

// DefaultScopes are the scopes requested for the refresh token.
var DefaultScopes = []string{
	spotifyauth.ScopePlaylistReadPrivate,
	spotifyauth.ScopePlaylistModifyPrivate,
	spotifyauth.ScopePlaylistModifyPublic,
	spotifyauth.ScopeUserLibraryRead,
	spotifyauth.ScopeUserLibraryModify,
}

// Error is returned when a token exchange fails. The current cycle must be
// abandoned; nothing has been written yet.
type Error struct {
	Err error
}

func (e *Error) Error() string { return "authentication failed: " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// Credentials identify the application and the user grant.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// Authenticator performs the refresh-token grant.
type Authenticator struct {
	config     *oauth2.Config
	httpClient *http.Client
	logger     *zap.Logger

	mu           sync.Mutex
	refreshToken string
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithTokenURL points the grant at a different token endpoint.
func WithTokenURL(url string) Option {
	return func(a *Authenticator) {
		if url != "" {
			a.config.Endpoint.TokenURL = url
		}
	}
}

// WithHTTPClient sets the HTTP client used for the grant and for API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Authenticator) {
		a.httpClient = c
	}
}

// WithScopes overrides DefaultScopes.
func WithScopes(scopes ...string) Option {
	return func(a *Authenticator) {
		a.config.Scopes = scopes
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Authenticator) {
		a.logger = l
	}
}

// New creates an Authenticator.
// Returns ErrMissingCredentials if any credential is empty.
func New(creds Credentials, opts ...Option) (*Authenticator, error) {
	if creds.ClientID == "" || creds.ClientSecret == "" || creds.RefreshToken == "" {
		return nil, ErrMissingCredentials
	}

	a := &Authenticator{
		config: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Scopes:       DefaultScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   spotifyauth.AuthURL,
				TokenURL:  spotifyauth.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		httpClient:   http.DefaultClient,
		logger:       zap.NewNop(),
		refreshToken: creds.RefreshToken,
	}
	for _, opt := range opts {
		opt(a)
	}

	return a, nil
}

// Token exchanges the refresh token for a fresh access token.
// A new token is requested on every call; nothing is cached.
func (a *Authenticator) Token(ctx context.Context) (*oauth2.Token, error) {
	a.mu.Lock()
	refresh := a.refreshToken
	a.mu.Unlock()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)

	// A token with only a refresh token is never valid, so the source always
	// goes to the token endpoint.
	token, err := a.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refresh}).Token()
	if err != nil {
		return nil, &Error{Err: fmt.Errorf("refreshing access token: %w", err)}
	}
	if token.AccessToken == "" {
		return nil, &Error{Err: ErrEmptyToken}
	}

	if token.RefreshToken != "" && token.RefreshToken != refresh {
		a.mu.Lock()
		a.refreshToken = token.RefreshToken
		a.mu.Unlock()
		a.logger.Warn("Spotify rotated the refresh token; update REFRESH_TOKEN before the next restart")
	}

	a.logger.Debug("Access token acquired",
		zap.Time("expiry", token.Expiry),
		zap.Any("scope", token.Extra("scope")))

	return token, nil
}

// Client returns an HTTP client that authorizes every request with the token.
func (a *Authenticator) Client(ctx context.Context, token *oauth2.Token) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))
}
