package authority

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	coreerrors "github.com/davidahmann/acp/core/errors"
	"github.com/davidahmann/acp/core/observability"
	schemaconsent "github.com/davidahmann/acp/core/schema/v1/consent"
)

const (
	DefaultTimeout      = 900 * time.Second
	DefaultPollInterval = 2 * time.Second
)

type Option func(*Session)

func WithTimeout(timeout time.Duration) Option {
	return func(s *Session) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

func WithPollInterval(interval time.Duration) Option {
	return func(s *Session) {
		if interval > 0 {
			s.pollInterval = interval
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithTracer(tracer observability.Tracer) Option {
	return func(s *Session) {
		s.tracer = tracer
	}
}

// Session resolves requests through one authority. It holds no per-request
// state and may run many requests concurrently.
type Session struct {
	client       *Client
	timeout      time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
	tracer       observability.Tracer
}

func NewSession(client *Client, opts ...Option) *Session {
	session := &Session{
		client:       client,
		timeout:      DefaultTimeout,
		pollInterval: DefaultPollInterval,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(session)
	}
	return session
}

// Run submits request and polls until the authority reaches a terminal status
// or the session deadline passes. Submission failures are returned as errors;
// a deadline is an ordinary denial. Caller cancellation yields a denial along
// with a consent_timeout error.
func (s *Session) Run(ctx context.Context, request schemaconsent.ConsentRequest) (schemaconsent.ConsentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "acp.authority.session", map[string]string{
		"acp.request_id": request.ID,
		"acp.tool":       request.Action.Tool,
		"acp.risk_level": string(request.Action.RiskLevel),
		"acp.authority":  s.client.BaseURL(),
	})
	response, err := s.run(ctx, request, span)
	if response.Decision != "" {
		span.SetAttributes(map[string]string{
			"acp.decision": string(response.Decision),
			"acp.approver": response.ApproverID,
		})
	}
	span.End(err)
	return response, err
}

func (s *Session) run(ctx context.Context, request schemaconsent.ConsentRequest, span *observability.Span) (schemaconsent.ConsentResponse, error) {
	submitted, err := s.client.Submit(ctx, NewSubmitRequest(request, s.timeout))
	if err != nil {
		return schemaconsent.ConsentResponse{}, err
	}
	requestID := submitted.RequestID
	if requestID == "" {
		requestID = request.ID
	}
	if submitted.AutoApproved {
		return policyDecision(requestID, schemaconsent.DecisionApproved, submitted.Reason, "auto-approved by policy"), nil
	}
	if submitted.AutoDenied {
		return policyDecision(requestID, schemaconsent.DecisionDenied, submitted.Reason, "auto-denied by policy"), nil
	}
	span.AddEvent("submitted", map[string]string{"acp.authority_request_id": requestID})

	// Polls share the consent deadline so a hanging authority cannot hold the
	// session past it.
	deadlineCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-deadlineCtx.Done():
			if ctx.Err() != nil {
				return schemaconsent.CancelledResponse(requestID, schemaconsent.ChannelGateway, time.Now()), coreerrors.Cancelled(ctx.Err())
			}
			s.logger.Info("consent request timed out", "request_id", requestID, "polls", attempt-1)
			return schemaconsent.TimeoutResponse(requestID, schemaconsent.ChannelGateway, time.Now()), nil
		case <-ticker.C:
		}

		payload, err := s.client.Status(deadlineCtx, requestID)
		if err != nil {
			if deadlineCtx.Err() != nil {
				continue
			}
			s.logger.Warn("consent status poll failed", "request_id", requestID, "attempt", attempt, "error", err)
			span.AddEvent("poll_failed", map[string]string{"attempt": strconv.Itoa(attempt), "error": err.Error()})
			continue
		}
		span.AddEvent("poll", map[string]string{"attempt": strconv.Itoa(attempt), "status": string(payload.Status)})
		if !payload.Status.Terminal() {
			continue
		}
		return resolve(requestID, payload), nil
	}
}

func resolve(requestID string, payload schemaconsent.StatusPayload) schemaconsent.ConsentResponse {
	if payload.Response != nil {
		response := *payload.Response
		if response.RequestID == "" {
			response.RequestID = requestID
		}
		if response.Channel == "" {
			response.Channel = schemaconsent.ChannelGateway
		}
		return response
	}
	decision, _ := payload.Status.Decision()
	return schemaconsent.ConsentResponse{
		RequestID: requestID,
		Decision:  decision,
		Channel:   schemaconsent.ChannelGateway,
		Reason:    "status: " + string(payload.Status),
		Timestamp: schemaconsent.FormatTime(time.Now()),
	}
}

func policyDecision(requestID string, decision schemaconsent.Decision, reason, fallback string) schemaconsent.ConsentResponse {
	if reason == "" {
		reason = fallback
	}
	return schemaconsent.ConsentResponse{
		RequestID:   requestID,
		Decision:    decision,
		ApproverID:  schemaconsent.ApproverPolicyAuto,
		Channel:     schemaconsent.ChannelGateway,
		Reason:      reason,
		Timestamp:   schemaconsent.FormatTime(time.Now()),
		AutoDecided: true,
	}
}
