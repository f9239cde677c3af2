// Package api implements the authenticated HTTP gateway to the review
// service. Every request carries a freshly signed token; JSON responses are
// classified into success or a StatusError carrying the caller's context.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/dmitrijs2005/addonsign/internal/logging"
)

// TokenSource produces a complete Authorization header value. The workflow
// and gateway never see raw credential bytes, only this capability.
type TokenSource interface {
	AuthHeader() (string, error)
}

// StatusError reports a response whose HTTP status was outside the accepted
// range. Status holds the server's status text, or the numeric code when no
// text is available.
type StatusError struct {
	Context string
	Status  string
	Code    int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s", e.Context, e.Status)
}

type Client struct {
	http      *http.Client
	tokens    TokenSource
	userAgent string
	log       logging.Logger
}

func NewClient(httpClient *http.Client, tokens TokenSource, userAgent string, log logging.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{http: httpClient, tokens: tokens, userAgent: userAgent, log: log}
}

// Do executes a single authenticated request. contentType is set only when
// non-empty; multipart bodies bring their own boundary-bearing type and JSON
// bodies pass "application/json".
func (c *Client) Do(ctx context.Context, method, url string, body io.Reader, contentType string) (*http.Response, error) {
	header, err := c.tokens.AuthHeader()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("building %s %s: %w", method, url, err)
	}

	req.Header.Set("Authorization", header)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	c.log.Info(ctx, "requesting", "method", method, "url", url)

	return c.http.Do(req)
}

// RequestJSON sends a prepared body and decodes the JSON response. The
// response status is checked first: anything outside 2xx becomes a
// StatusError embedding errContext.
func (c *Client) RequestJSON(ctx context.Context, method, url string, body io.Reader, contentType, errContext string) (map[string]any, error) {
	resp, err := c.Do(ctx, method, url, body, contentType)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, errContext); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: reading response: %w", errContext, err)
	}

	result := map[string]any{}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, fmt.Errorf("%s: decoding response: %w", errContext, err)
		}
	}
	return result, nil
}

// JSON marshals payload (when non-nil) and sends it as application/json.
func (c *Client) JSON(ctx context.Context, method, url string, payload any, errContext string) (map[string]any, error) {
	var body io.Reader
	contentType := ""

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%s: encoding request: %w", errContext, err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	return c.RequestJSON(ctx, method, url, body, contentType, errContext)
}

// checkStatus accepts 2xx responses only. Statuses below 200 or at 500 and
// above are failures outright; statuses in [200,500) are failures unless the
// response itself is a success.
func checkStatus(resp *http.Response, errContext string) error {
	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return nil
	}

	status := http.StatusText(resp.StatusCode)
	if status == "" {
		status = strconv.Itoa(resp.StatusCode)
	}
	return &StatusError{Context: errContext, Status: status, Code: resp.StatusCode}
}
