package consent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/davidahmann/acp/core/authority"
	"github.com/davidahmann/acp/core/classify"
	"github.com/davidahmann/acp/core/config"
	coreerrors "github.com/davidahmann/acp/core/errors"
	"github.com/davidahmann/acp/core/journal"
	"github.com/davidahmann/acp/core/local"
	"github.com/davidahmann/acp/core/observability"
	"github.com/davidahmann/acp/core/proof"
	"github.com/davidahmann/acp/core/replay"
	schemaconsent "github.com/davidahmann/acp/core/schema/v1/consent"
	"github.com/davidahmann/acp/core/telegram"
)

const ReasonLowRiskAutoApproved = "auto-approved: low risk action"

// Prompter resolves one request into a terminal response.
type Prompter interface {
	Prompt(ctx context.Context, request schemaconsent.ConsentRequest) (schemaconsent.ConsentResponse, error)
}

type PrompterFunc func(ctx context.Context, request schemaconsent.ConsentRequest) (schemaconsent.ConsentResponse, error)

func (f PrompterFunc) Prompt(ctx context.Context, request schemaconsent.ConsentRequest) (schemaconsent.ConsentResponse, error) {
	return f(ctx, request)
}

type Option func(*clientOptions)

type clientOptions struct {
	logger          *slog.Logger
	tracer          observability.Tracer
	handler         Prompter
	httpClient      *http.Client
	telegramAPIBase string
	in              io.Reader
	out             io.Writer
	replay          replay.Store
	now             func() time.Time
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithTracer(tracer observability.Tracer) Option {
	return func(o *clientOptions) {
		o.tracer = tracer
	}
}

// WithHandler routes every request that is not auto-approved to handler
// instead of the mode's channel.
func WithHandler(handler Prompter) Option {
	return func(o *clientOptions) {
		o.handler = handler
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(o *clientOptions) {
		o.httpClient = client
	}
}

func WithTelegramAPIBase(base string) Option {
	return func(o *clientOptions) {
		o.telegramAPIBase = base
	}
}

// WithTerminal sets the streams used by the local prompt.
func WithTerminal(in io.Reader, out io.Writer) Option {
	return func(o *clientOptions) {
		o.in = in
		o.out = out
	}
}

// WithReplayStore overrides the nonce store used by Verify.
func WithReplayStore(store replay.Store) Option {
	return func(o *clientOptions) {
		o.replay = store
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *clientOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// Client is safe for concurrent use. Its mode and channel are fixed when it is
// built.
type Client struct {
	settings config.Settings
	mode     Mode
	channel  Prompter
	custom   bool
	replay   replay.Store
	logger   *slog.Logger
	tracer   observability.Tracer
	now      func() time.Time
}

// NewClient selects the mode and builds its channel. Missing credentials for
// the selected mode fail here rather than on the first request.
func NewClient(settings config.Settings, opts ...Option) (*Client, error) {
	resolved := clientOptions{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&resolved)
		}
	}
	if settings.Timeout <= 0 {
		settings.Timeout = config.DefaultTimeout
	}
	if settings.PollInterval <= 0 {
		settings.PollInterval = config.DefaultPollInterval
	}
	if settings.AgentID == "" {
		settings.AgentID = config.DefaultAgentID
	}
	mode, err := SelectMode(settings)
	if err != nil {
		return nil, err
	}
	client := &Client{
		settings: settings,
		mode:     mode,
		logger:   resolved.logger,
		tracer:   resolved.tracer,
		now:      resolved.now,
		replay:   resolved.replay,
	}
	if resolved.handler != nil {
		client.channel = resolved.handler
		client.custom = true
	} else {
		channel, err := buildChannel(mode, settings, resolved)
		if err != nil {
			return nil, err
		}
		client.channel = channel
	}
	if client.replay == nil {
		if settings.RedisAddr != "" {
			client.replay = replay.NewRedisStore(settings.RedisAddr, "", 0)
		} else {
			client.replay = replay.NewMemoryStore()
		}
	}
	return client, nil
}

func buildChannel(mode Mode, settings config.Settings, resolved clientOptions) (Prompter, error) {
	switch mode {
	case ModeGateway:
		api, err := authority.NewClient(authority.ClientOptions{
			BaseURL:    settings.GatewayURL,
			APIKey:     settings.GatewayAPIKey,
			HTTPClient: resolved.httpClient,
		})
		if err != nil {
			return nil, err
		}
		session := authority.NewSession(api,
			authority.WithTimeout(settings.Timeout),
			authority.WithPollInterval(settings.PollInterval),
			authority.WithLogger(resolved.logger),
			authority.WithTracer(resolved.tracer),
		)
		return PrompterFunc(session.Run), nil
	case ModeTelegram:
		channel, err := telegram.New(telegram.Options{
			Token:        settings.TelegramToken,
			ChatID:       settings.TelegramChatID,
			APIBase:      resolved.telegramAPIBase,
			HTTPClient:   resolved.httpClient,
			Timeout:      settings.Timeout,
			PollInterval: settings.PollInterval,
			Logger:       resolved.logger,
			Tracer:       resolved.tracer,
		})
		if err != nil {
			return nil, err
		}
		return channel, nil
	default:
		return local.New(local.Options{In: resolved.in, Out: resolved.out}), nil
	}
}

func (c *Client) Mode() Mode {
	return c.mode
}

func (c *Client) Settings() config.Settings {
	settings := c.settings
	settings.TrustedKeys = append([]string(nil), c.settings.TrustedKeys...)
	return settings
}

func (c *Client) Agent() schemaconsent.AgentInfo {
	return schemaconsent.AgentInfo{
		ID:        c.settings.AgentID,
		Name:      c.settings.AgentName,
		Framework: c.settings.Framework,
	}
}

// RequestConsent builds a request for spec and resolves it. Denials and
// timeouts are returned as responses; an error means no trustworthy decision
// was obtained and the action must not run.
func (c *Client) RequestConsent(ctx context.Context, spec ActionSpec) (schemaconsent.ConsentResponse, error) {
	request, classified, err := NewRequest(c.Agent(), spec, c.now(), c.settings.Timeout)
	if err != nil {
		return schemaconsent.ConsentResponse{}, err
	}
	return c.Resolve(ctx, request, classified)
}

// Resolve routes an already built request. It exists for callers that need
// the request itself, for example to verify the proof later.
func (c *Client) Resolve(ctx context.Context, request schemaconsent.ConsentRequest, classified classify.Result) (schemaconsent.ConsentResponse, error) {
	ctx, span := c.tracer.Start(ctx, "acp.consent.request", map[string]string{
		"acp.request_id":      request.ID,
		"acp.tool":            request.Action.Tool,
		"acp.category":        string(request.Action.Category),
		"acp.risk_level":      string(request.Action.RiskLevel),
		"acp.category_source": string(classified.CategorySource),
		"acp.risk_source":     string(classified.RiskSource),
		"acp.mode":            string(c.mode),
	})
	response, err := c.resolve(ctx, request)
	if response.Decision != "" {
		span.SetAttributes(map[string]string{
			"acp.decision": string(response.Decision),
			"acp.channel":  string(response.Channel),
		})
	}
	span.End(err)
	return response, err
}

func (c *Client) resolve(ctx context.Context, request schemaconsent.ConsentRequest) (schemaconsent.ConsentResponse, error) {
	logger := c.logger.With("request_id", request.ID, "tool", request.Action.Tool)
	if c.settings.AutoApproveLowRisk && request.Action.RiskLevel == schemaconsent.RiskLow {
		response := schemaconsent.ConsentResponse{
			RequestID:   request.ID,
			Decision:    schemaconsent.DecisionApproved,
			ApproverID:  schemaconsent.ApproverPolicyAuto,
			Channel:     schemaconsent.ChannelPolicyAuto,
			Reason:      ReasonLowRiskAutoApproved,
			Timestamp:   schemaconsent.FormatTime(c.now()),
			AutoDecided: true,
		}
		c.record(logger, request, response)
		return response, nil
	}

	response, err := c.channel.Prompt(ctx, request)
	if err != nil {
		if response.Decision != "" {
			c.record(logger, request, response)
		}
		return response, err
	}
	response, err = c.normalize(request, response)
	if err != nil {
		return schemaconsent.ConsentResponse{}, err
	}
	if response.Proof != nil || (c.settings.RequireSignature && response.Approved() && !response.AutoDecided) {
		result, err := c.Verify(ctx, request, response)
		if err != nil {
			logger.Warn("consent proof rejected", "error", err)
			return schemaconsent.ConsentResponse{}, err
		}
		if !result.Full() {
			logger.Warn("consent proof not fully verified", "level", result.Level, "degraded", result.Degraded)
		}
	}
	c.record(logger, request, response)
	logger.Info("consent resolved", "decision", response.Decision, "channel", response.Channel, "approver", response.ApproverID)
	return response, nil
}

// normalize fills channel defaults and rejects handler output that does not
// carry a known decision.
func (c *Client) normalize(request schemaconsent.ConsentRequest, response schemaconsent.ConsentResponse) (schemaconsent.ConsentResponse, error) {
	decision, err := schemaconsent.ParseDecision(string(response.Decision))
	if err != nil {
		return schemaconsent.ConsentResponse{}, coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "decision_invalid", "consent handlers must return approved, approved_with_modifications, denied or expired", false)
	}
	response.Decision = decision
	if response.RequestID == "" {
		response.RequestID = request.ID
	}
	if response.Channel == "" && c.custom {
		response.Channel = schemaconsent.ChannelCustom
	}
	if response.Timestamp == "" {
		response.Timestamp = schemaconsent.FormatTime(c.now())
	}
	return response, nil
}

// Verify checks the proof on response against request using the configured
// trusted keys and consumes the request nonce.
func (c *Client) Verify(ctx context.Context, request schemaconsent.ConsentRequest, response schemaconsent.ConsentResponse) (proof.Result, error) {
	opts := []proof.Option{proof.WithReplayGuard(c.replay, proof.DefaultReplayTTL)}
	if c.settings.RequireSignature {
		opts = append(opts, proof.RequireSignature())
	}
	if c.settings.AllowAnyKey {
		opts = append(opts, proof.AllowAnyKey())
	}
	return proof.VerifyResponse(ctx, request, response, c.settings.TrustedKeys, opts...)
}

func (c *Client) record(logger *slog.Logger, request schemaconsent.ConsentRequest, response schemaconsent.ConsentResponse) {
	if c.settings.JournalPath == "" {
		return
	}
	entry, err := journal.NewEntry(request, response, c.now())
	if err == nil {
		err = journal.Append(c.settings.JournalPath, entry)
	}
	if err != nil {
		logger.Warn("consent journal append failed", "path", c.settings.JournalPath, "error", err)
	}
}

// Close releases the nonce store.
func (c *Client) Close() error {
	if closer, ok := c.replay.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("close replay store: %w", err)
		}
	}
	return nil
}
