package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"yambot/internal/logging"
)

const (
	DefaultTokenURL    = "https://id.twitch.tv/oauth2/token"
	DefaultValidateURL = "https://id.twitch.tv/oauth2/validate"
)

// Refresher exchanges a refresh token for a new TokenPair using the
// refresh_token grant. Client credentials are sent in the form body.
type Refresher struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	ValidateURL  string
	HTTP         *http.Client
	Logger       *logging.Logger
}

// Validation is the identity provider's view of an access token.
type Validation struct {
	ClientID  string   `json:"client_id"`
	Login     string   `json:"login"`
	UserID    string   `json:"user_id"`
	Scopes    []string `json:"scopes"`
	ExpiresIn int      `json:"expires_in"`
}

func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return TokenPair{}, &AuthError{Reason: ReasonRejected, Err: errors.New("no refresh token available")}
	}
	cfg := oauth2.Config{
		ClientID:     r.ClientID,
		ClientSecret: r.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  r.tokenURL(),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	if r.HTTP != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.HTTP)
	}

	r.Logger.Debug("refreshing access token", logging.Field("token_url", cfg.Endpoint.TokenURL))
	token, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		authErr := classifyRefreshError(err)
		r.Logger.Warn("token refresh failed",
			logging.Field("reason", authErr.Reason.String()),
			logging.Field("status", authErr.StatusCode),
			logging.Field("response", authErr.Body),
		)
		return TokenPair{}, authErr
	}

	pair := TokenPair{AccessToken: token.AccessToken, RefreshToken: token.RefreshToken}
	if pair.RefreshToken == "" {
		pair.RefreshToken = refreshToken
	}
	r.Logger.Info("access token refreshed",
		logging.Field("expires_in", time.Until(token.Expiry).Round(time.Second).String()),
		logging.Field("scopes", token.Extra("scope")),
	)
	return pair, nil
}

func classifyRefreshError(err error) *AuthError {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		authErr := &AuthError{Reason: ReasonRejected, Body: logging.Truncate(string(retrieveErr.Body))}
		if retrieveErr.Response != nil {
			authErr.StatusCode = retrieveErr.Response.StatusCode
		}
		return authErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &AuthError{Reason: ReasonUnreachable, Err: err}
	}
	// oauth2 surfaces transport failures from the HTTP client unwrapped.
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return &AuthError{Reason: ReasonUnreachable, Err: err}
	}
	if strings.Contains(err.Error(), "oauth2:") {
		return &AuthError{Reason: ReasonRejected, Err: err}
	}
	return &AuthError{Reason: ReasonUnreachable, Err: err}
}

// Validate asks the identity provider which user and scopes accessToken
// carries.
func (r *Refresher) Validate(ctx context.Context, accessToken string) (Validation, error) {
	url := r.ValidateURL
	if url == "" {
		url = DefaultValidateURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Validation{}, err
	}
	req.Header.Set("Authorization", "OAuth "+accessToken)

	resp, err := r.httpClient().Do(req)
	if err != nil {
		return Validation{}, &AuthError{Reason: ReasonUnreachable, Err: err}
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		body := logging.FormatHTTPPayload(data)
		r.Logger.Warn("token validation failed",
			logging.Field("status", resp.Status),
			logging.Field("response", body),
		)
		return Validation{}, &AuthError{Reason: ReasonRejected, StatusCode: resp.StatusCode, Body: logging.Truncate(body)}
	}

	var v Validation
	if err := json.Unmarshal(data, &v); err != nil {
		return Validation{}, fmt.Errorf("invalid validate response: %w", err)
	}
	return v, nil
}

func (r *Refresher) tokenURL() string {
	if r.TokenURL == "" {
		return DefaultTokenURL
	}
	return r.TokenURL
}

func (r *Refresher) httpClient() *http.Client {
	if r.HTTP != nil {
		return r.HTTP
	}
	return http.DefaultClient
}
