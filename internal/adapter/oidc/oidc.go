// Package oidc resolves OpenID Connect credentials to a username.
package oidc

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// Config holds the OpenID Connect client settings.
type Config struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Verifier checks ID tokens issued to this client and redeems authorization codes.
type Verifier struct {
	verifier *oidc.IDTokenVerifier
	oauth2   oauth2.Config
}

// New discovers the provider at cfg.Issuer.
func New(ctx context.Context, cfg Config) (*Verifier, error) {
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("discover oidc provider: %w", err)
	}
	return &Verifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		oauth2: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "email"},
		},
	}, nil
}

// Identify verifies rawIDToken, or exchanges code for one when rawIDToken is
// empty, and returns the username it asserts.
func (v *Verifier) Identify(ctx context.Context, rawIDToken, code string) (string, error) {
	if rawIDToken == "" {
		if code == "" {
			return "", errors.New("id token or authorization code required")
		}
		token, err := v.oauth2.Exchange(ctx, code)
		if err != nil {
			return "", fmt.Errorf("exchange code: %w", err)
		}
		raw, ok := token.Extra("id_token").(string)
		if !ok {
			return "", errors.New("no id_token in token response")
		}
		rawIDToken = raw
	}

	idToken, err := v.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return "", fmt.Errorf("verify id token: %w", err)
	}

	var claims struct {
		Email string `json:"email"`
		Sub   string `json:"sub"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return "", fmt.Errorf("parse claims: %w", err)
	}
	return usernameFromClaims(claims.Email, claims.Sub)
}

func usernameFromClaims(email, sub string) (string, error) {
	if email != "" {
		return email, nil
	}
	if sub != "" {
		return sub, nil
	}
	return "", errors.New("token carries neither email nor sub")
}
