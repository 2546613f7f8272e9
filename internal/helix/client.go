// Package helix is an authenticated client for the Twitch Helix REST API.
// Every call carries the current access token; a 401 triggers one token
// refresh followed by exactly one retry.
package helix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"yambot/internal/auth"
	"yambot/internal/logging"
	"yambot/internal/telemetry"
)

const DefaultBaseURL = "https://api.twitch.tv/helix"

// Tokens supplies the bearer token and renews it when Helix refuses it.
type Tokens interface {
	AccessToken() string
	Refresh(ctx context.Context, rejected string) (auth.TokenPair, error)
}

type Client struct {
	http     *http.Client
	baseURL  string
	clientID string
	tokens   Tokens
	logger   *logging.Logger
}

func New(httpClient *http.Client, baseURL string, clientID string, tokens Tokens, logger *logging.Logger) *Client {
	if tokens == nil {
		panic("helix.New: tokens must not be nil")
	}
	if logger == nil {
		panic("helix.New: logger must not be nil")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		http:     httpClient,
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: clientID,
		tokens:   tokens,
		logger:   logger,
	}
}

type request struct {
	endpoint string
	method   string
	path     string
	query    url.Values
	body     any
}

type response struct {
	statusCode int
	status     string
	data       []byte
}

func (c *Client) do(ctx context.Context, req request, out any) error {
	var payload []byte
	if req.body != nil {
		encoded, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", req.endpoint, err)
		}
		payload = encoded
	}

	token := c.tokens.AccessToken()
	resp, err := c.send(ctx, req, payload, token)
	if err != nil {
		return err
	}

	if resp.statusCode == http.StatusUnauthorized {
		c.logger.Debug("helix rejected access token, refreshing", logging.Field("endpoint", req.endpoint))
		pair, refreshErr := c.tokens.Refresh(ctx, token)
		if refreshErr != nil {
			return refreshErr
		}
		resp, err = c.send(ctx, req, payload, pair.AccessToken)
		if err != nil {
			return err
		}
		if resp.statusCode == http.StatusUnauthorized {
			return &auth.AuthError{
				Reason:     auth.ReasonUnauthorized,
				StatusCode: resp.statusCode,
				Body:       logging.Truncate(string(resp.data)),
			}
		}
	}

	if resp.statusCode < 200 || resp.statusCode > 299 {
		body := logging.FormatHTTPPayload(resp.data)
		c.logger.Warn("helix request failed",
			logging.Field("endpoint", req.endpoint),
			logging.Field("status", resp.status),
			logging.Field("response", body),
		)
		return &HTTPStatusError{StatusCode: resp.statusCode, Status: resp.status, Body: logging.Truncate(body)}
	}

	if out != nil && len(bytes.TrimSpace(resp.data)) > 0 {
		if err := json.Unmarshal(resp.data, out); err != nil {
			return fmt.Errorf("invalid %s response: %w", req.endpoint, err)
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, req request, payload []byte, token string) (response, error) {
	target := c.baseURL + req.path
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, body)
	if err != nil {
		return response{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Client-Id", c.clientID)
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		telemetry.HelixRequests.WithLabelValues(req.endpoint, "error").Inc()
		return response{}, fmt.Errorf("helix %s: %w", req.endpoint, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	telemetry.HelixRequests.WithLabelValues(req.endpoint, strconv.Itoa(resp.StatusCode)).Inc()
	c.logger.Debug("helix response",
		logging.Field("endpoint", req.endpoint),
		logging.Field("status", resp.StatusCode),
	)
	return response{statusCode: resp.StatusCode, status: resp.Status, data: data}, nil
}

type dataEnvelope[T any] struct {
	Data []T `json:"data"`
}
