// Package authority talks to a remote consent authority (gateway) and drives a
// submitted request to a terminal decision.
package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	coreerrors "github.com/davidahmann/acp/core/errors"
	schemaconsent "github.com/davidahmann/acp/core/schema/v1/consent"
)

const (
	submitPath       = "/api/v1/consent/request"
	statusPathPrefix = "/api/v1/consent/"

	defaultHTTPTimeout = 30 * time.Second
	maxResponseBytes   = 1 << 20

	ReasonPolicyBlocked = "blocked by policy"
)

type ClientOptions struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(options ClientOptions) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(options.BaseURL), "/")
	if base == "" {
		return nil, coreerrors.Configuration("gateway_url_missing", "gateway mode requires an authority url")
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, coreerrors.Configuration("gateway_url_invalid", "invalid authority url: %q", options.BaseURL)
	}
	httpClient := options.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Client{
		baseURL:    base,
		apiKey:     strings.TrimSpace(options.APIKey),
		httpClient: httpClient,
	}, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// SubmitRequest is the body posted to the authority. RequestID and Nonce let
// the authority bind its signed proof to the locally built request.
type SubmitRequest struct {
	RequestID      string                        `json:"request_id,omitempty"`
	Nonce          string                        `json:"nonce,omitempty"`
	AgentID        string                        `json:"agent_id"`
	AgentName      *string                       `json:"agent_name"`
	AgentFramework *string                       `json:"agent_framework"`
	SessionID      *string                       `json:"session_id"`
	Action         schemaconsent.WireAction      `json:"action"`
	TimeoutSeconds int                           `json:"timeout_seconds"`
	Context        *schemaconsent.RequestContext `json:"context,omitempty"`
}

func NewSubmitRequest(request schemaconsent.ConsentRequest, timeout time.Duration) SubmitRequest {
	wire := request.Wire()
	return SubmitRequest{
		RequestID:      request.ID,
		Nonce:          request.Nonce,
		AgentID:        wire.Agent.ID,
		AgentName:      wire.Agent.Name,
		AgentFramework: wire.Agent.Framework,
		SessionID:      wire.Agent.SessionID,
		Action:         wire.Action,
		TimeoutSeconds: int(timeout / time.Second),
		Context:        wire.Context,
	}
}

type statusError struct {
	statusCode int
	body       string
}

func (e statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("unexpected status %d", e.statusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.statusCode, e.body)
}

func (e statusError) StatusCode() int {
	return e.statusCode
}

// Submit posts a request. A 403 answer is a policy denial, not a failure.
func (c *Client) Submit(ctx context.Context, body SubmitRequest) (schemaconsent.SubmitResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return schemaconsent.SubmitResponse{}, coreerrors.Wrap(fmt.Errorf("encode submit request: %w", err), coreerrors.CategoryInternalFailure, "submit_encode_failed", "", false)
	}
	status, raw, err := c.do(ctx, http.MethodPost, submitPath, payload)
	if err != nil {
		return schemaconsent.SubmitResponse{}, coreerrors.Transport(fmt.Errorf("submit consent request: %w", err), 0)
	}
	if status == http.StatusForbidden {
		return schemaconsent.SubmitResponse{
			RequestID:  body.RequestID,
			AutoDenied: true,
			Reason:     forbiddenReason(raw),
		}, nil
	}
	if status < 200 || status > 299 {
		return schemaconsent.SubmitResponse{}, coreerrors.Transport(fmt.Errorf("submit consent request: %w", statusError{statusCode: status, body: excerpt(raw)}), status)
	}
	parsed, err := schemaconsent.ParseSubmitResponse(raw)
	if err != nil {
		return schemaconsent.SubmitResponse{}, invalidResponse(err)
	}
	return parsed, nil
}

func (c *Client) Status(ctx context.Context, requestID string) (schemaconsent.StatusPayload, error) {
	status, raw, err := c.do(ctx, http.MethodGet, statusPathPrefix+url.PathEscape(requestID), nil)
	if err != nil {
		return schemaconsent.StatusPayload{}, coreerrors.Transport(fmt.Errorf("poll consent status: %w", err), 0)
	}
	if status < 200 || status > 299 {
		return schemaconsent.StatusPayload{}, coreerrors.Transport(fmt.Errorf("poll consent status: %w", statusError{statusCode: status, body: excerpt(raw)}), status)
	}
	parsed, err := schemaconsent.ParseStatusPayload(raw)
	if err != nil {
		return schemaconsent.StatusPayload{}, invalidResponse(err)
	}
	return parsed, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		request.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	// #nosec G704 -- authority URL comes from explicit client configuration.
	response, err := c.httpClient.Do(request)
	if err != nil {
		return 0, nil, err
	}
	defer func() {
		_ = response.Body.Close()
	}()
	raw, err := readAllLimit(response.Body, maxResponseBytes)
	if err != nil {
		return response.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return response.StatusCode, raw, nil
}

func forbiddenReason(raw []byte) string {
	var body struct {
		Reason string `json:"reason"`
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		for _, candidate := range []string{body.Reason, body.Detail, body.Error} {
			if strings.TrimSpace(candidate) != "" {
				return strings.TrimSpace(candidate)
			}
		}
	}
	return ReasonPolicyBlocked
}

func invalidResponse(err error) error {
	return coreerrors.Wrap(err, coreerrors.CategoryNetworkPermanent, "authority_response_invalid", "check that the authority implements the consent protocol", false)
}

func excerpt(raw []byte) string {
	text := strings.TrimSpace(string(raw))
	if len(text) > 200 {
		return text[:200] + "..."
	}
	return text
}

func readAllLimit(reader io.Reader, maxBytes int64) ([]byte, error) {
	limited := io.LimitReader(reader, maxBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("payload too large")
	}
	return data, nil
}
