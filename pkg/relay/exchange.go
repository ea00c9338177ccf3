package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"
)

// TokenResult is what the token endpoint handed back. It is passed to the
// caller and forgotten.
type TokenResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// Exchanger performs the server-to-server calls against the token endpoint.
// Implementations must not retry.
type Exchanger interface {
	// grant_type=authorization_code
	ExchangeCode(ctx context.Context, code string) (*TokenResult, error)
	// grant_type=refresh_token
	Refresh(ctx context.Context, refreshToken string) (*TokenResult, error)
}

// OAuth2Exchanger authenticates with HTTP Basic (base64 of id:secret) and
// treats any transport error, non-2xx status, undecodable body or missing
// access_token in the upstream response as a failure.
type OAuth2Exchanger struct {
	config     *oauth2.Config
	httpClient *http.Client
}

func NewOAuth2Exchanger(config *oauth2.Config, httpClient *http.Client) *OAuth2Exchanger {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OAuth2Exchanger{
		config:     config,
		httpClient: httpClient,
	}
}

func (e *OAuth2Exchanger) ExchangeCode(ctx context.Context, code string) (*TokenResult, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)
	token, err := e.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("unable to exchange code for token: %w", err)
	}
	return &TokenResult{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresIn:    expiresIn(token),
	}, nil
}

func (e *OAuth2Exchanger) Refresh(ctx context.Context, refreshToken string) (*TokenResult, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)
	// an empty access token forces the source to refresh
	token, err := e.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("unable to refresh token: %w", err)
	}
	// x/oauth2 carries the old refresh token over; the refresh grant does not return one
	return &TokenResult{
		AccessToken: token.AccessToken,
		ExpiresIn:   expiresIn(token),
	}, nil
}

func expiresIn(token *oauth2.Token) int64 {
	if token.ExpiresIn > 0 {
		return token.ExpiresIn
	}
	switch v := token.Extra("expires_in").(type) {
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	if !token.Expiry.IsZero() {
		return int64(time.Until(token.Expiry).Round(time.Second).Seconds())
	}
	return 0
}
