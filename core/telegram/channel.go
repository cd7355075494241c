package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	coreerrors "github.com/davidahmann/acp/core/errors"
	"github.com/davidahmann/acp/core/observability"
	schemaconsent "github.com/davidahmann/acp/core/schema/v1/consent"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout      = 900 * time.Second
	DefaultPollInterval = 2 * time.Second

	callbackPrefix  = "acp"
	actionApprove   = "approve"
	actionDeny      = "deny"
	maxParamsLength = 500
	cleanupTimeout  = 10 * time.Second
)

type Options struct {
	Token      string
	ChatID     string
	APIBase    string
	HTTPClient *http.Client
	Timeout    time.Duration
	// PollInterval and the transport settings of the first channel created for
	// a bot drive that bot's shared update poller.
	PollInterval time.Duration
	// Limiter paces every Bot API call. Defaults to 20 calls per second.
	Limiter *rate.Limiter
	Logger  *slog.Logger
	Tracer  observability.Tracer
}

type Channel struct {
	api          *apiClient
	router       *updateRouter
	chatID       string
	timeout      time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
	tracer       observability.Tracer
}

func New(options Options) (*Channel, error) {
	token := strings.TrimSpace(options.Token)
	chatID := strings.TrimSpace(options.ChatID)
	if token == "" {
		return nil, coreerrors.Configuration("telegram_token_missing", "telegram mode requires a bot token")
	}
	if chatID == "" {
		return nil, coreerrors.Configuration("telegram_chat_missing", "telegram mode requires a chat id")
	}
	base := strings.TrimRight(strings.TrimSpace(options.APIBase), "/")
	if base == "" {
		base = DefaultAPIBase
	}
	channel := &Channel{
		chatID:       chatID,
		timeout:      options.Timeout,
		pollInterval: options.PollInterval,
		logger:       options.Logger,
		tracer:       options.Tracer,
	}
	if channel.timeout <= 0 {
		channel.timeout = DefaultTimeout
	}
	if channel.pollInterval <= 0 {
		channel.pollInterval = DefaultPollInterval
	}
	if channel.logger == nil {
		channel.logger = slog.Default()
	}
	limiter := options.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Every(50*time.Millisecond), 5)
	}
	httpClient := options.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: channel.pollInterval + 30*time.Second}
	}
	channel.api = &apiClient{base: base + "/bot" + token, httpClient: httpClient, limiter: limiter}
	channel.router = routerFor(channel.api, channel.pollInterval, channel.logger)
	return channel, nil
}

// Prompt posts request to the chat and waits for an approve or deny button
// press carrying the request id. Channels for the same bot share one update
// poller, so concurrent prompts each receive their own presses. Transport
// errors while waiting are logged and polling continues until the deadline.
func (c *Channel) Prompt(ctx context.Context, request schemaconsent.ConsentRequest) (schemaconsent.ConsentResponse, error) {
	ctx, span := c.tracer.Start(ctx, "acp.telegram.prompt", map[string]string{
		"acp.request_id": request.ID,
		"acp.tool":       request.Action.Tool,
	})
	response, err := c.prompt(ctx, request, span)
	if response.Decision != "" {
		span.SetAttributes(map[string]string{"acp.decision": string(response.Decision), "acp.approver": response.ApproverID})
	}
	span.End(err)
	return response, err
}

func (c *Channel) prompt(ctx context.Context, request schemaconsent.ConsentRequest, span *observability.Span) (schemaconsent.ConsentResponse, error) {
	presses, release := c.router.subscribe(request.ID)
	defer release()

	sent, err := c.api.sendMessage(ctx, sendMessageRequest{
		ChatID:    c.chatID,
		Text:      FormatMessage(request),
		ParseMode: "Markdown",
		ReplyMarkup: &replyMarkup{InlineKeyboard: [][]inlineButton{{
			{Text: "✅ Approve", CallbackData: callbackData(actionApprove, request.ID)},
			{Text: "❌ Deny", CallbackData: callbackData(actionDeny, request.ID)},
		}}},
	})
	if err != nil {
		return schemaconsent.ConsentResponse{}, err
	}
	span.AddEvent("message_sent", map[string]string{"message_id": strconv.FormatInt(sent.MessageID, 10)})
	c.router.start()

	waitCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	select {
	case pressed := <-presses:
		return c.finish(ctx, request, sent.MessageID, pressed.callback, pressed.decision), nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return schemaconsent.CancelledResponse(request.ID, schemaconsent.ChannelTelegram, time.Now()), coreerrors.Cancelled(ctx.Err())
		}
		c.edit(ctx, sent.MessageID, fmt.Sprintf("⏰ *Expired* | Request `%s` timed out.", request.ID))
		return schemaconsent.TimeoutResponse(request.ID, schemaconsent.ChannelTelegram, time.Now()), nil
	}
}

func (c *Channel) finish(ctx context.Context, request schemaconsent.ConsentRequest, messageID int64, callback *callbackQuery, decision schemaconsent.Decision) schemaconsent.ConsentResponse {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	answer, emoji, label := "Denied!", "❌", "Denied"
	if decision.Approved() {
		answer, emoji, label = "Approved!", "✅", "Approved"
	}
	if err := c.api.answerCallbackQuery(cleanupCtx, answerCallbackRequest{CallbackQueryID: callback.ID, Text: answer}); err != nil {
		c.logger.Warn("telegram answer callback failed", "request_id", request.ID, "error", err)
	}
	approverName := callback.From.FirstName
	if approverName == "" {
		approverName = "User"
	}
	c.edit(ctx, messageID, fmt.Sprintf("%s *%s* by %s\nRequest: `%s`\nAction: `%s`", emoji, label, approverName, request.ID, request.Action.Tool))

	return schemaconsent.ConsentResponse{
		RequestID:  request.ID,
		Decision:   decision,
		ApproverID: "tg_" + strconv.FormatInt(callback.From.ID, 10),
		Channel:    schemaconsent.ChannelTelegram,
		Timestamp:  schemaconsent.FormatTime(time.Now()),
	}
}

func (c *Channel) edit(ctx context.Context, messageID int64, text string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	err := c.api.editMessageText(cleanupCtx, editMessageRequest{
		ChatID:    c.chatID,
		MessageID: messageID,
		Text:      text,
		ParseMode: "Markdown",
	})
	if err != nil {
		c.logger.Warn("telegram edit message failed", "message_id", messageID, "error", err)
	}
}

func callbackData(action, requestID string) string {
	return callbackPrefix + ":" + action + ":" + requestID
}

// matchCallback reports the decision carried by callback when it belongs to
// requestID.
func matchCallback(callback *callbackQuery, requestID string) (schemaconsent.Decision, bool) {
	id, decision, ok := parseCallback(callback)
	if !ok || id != requestID {
		return "", false
	}
	return decision, true
}

var riskEmoji = map[schemaconsent.RiskLevel]string{
	schemaconsent.RiskLow:      "🟢",
	schemaconsent.RiskMedium:   "🟡",
	schemaconsent.RiskHigh:     "🔴",
	schemaconsent.RiskCritical: "⛔",
}

var categoryEmoji = map[schemaconsent.Category]string{
	schemaconsent.CategoryCommunication: "💬",
	schemaconsent.CategoryFinancial:     "💰",
	schemaconsent.CategoryData:          "📊",
	schemaconsent.CategorySystem:        "⚙️",
	schemaconsent.CategoryPublic:        "📢",
	schemaconsent.CategoryIdentity:      "🪪",
	schemaconsent.CategoryPhysical:      "🏠",
}

// FormatMessage renders request as a Markdown chat message.
func FormatMessage(request schemaconsent.ConsentRequest) string {
	params, err := json.MarshalIndent(request.Action.Wire().Parameters, "", "  ")
	if err != nil {
		params = []byte("{}")
	}
	paramText := string(params)
	if runes := []rune(paramText); len(runes) > maxParamsLength {
		paramText = string(runes[:maxParamsLength-3]) + "..."
	}
	lines := []string{
		"🤖 *Agent Consent Request*",
		"━━━━━━━━━━━━━━━━━━━━",
		"",
		"*Agent:* " + request.Agent.DisplayName(),
		"*Action:* `" + request.Action.Tool + "`",
		"*Risk:* " + emojiOr(riskEmoji[request.Action.RiskLevel]) + " " + strings.ToUpper(string(request.Action.RiskLevel)),
		"*Category:* " + emojiOr(categoryEmoji[request.Action.Category]) + " " + string(request.Action.Category),
		"",
		"📝 *Description:*",
		request.Action.Description,
		"",
		"📋 *Parameters:*",
		"```json\n" + paramText + "\n```",
	}
	if request.Action.EstimatedImpact != "" {
		lines = append(lines, "", "⚠️ *Impact:* "+request.Action.EstimatedImpact)
	}
	if request.Context != nil && request.Context.ConversationSummary != "" {
		lines = append(lines, "", "💡 *Context:*", request.Context.ConversationSummary)
	}
	lines = append(lines, "", "📎 ID: `"+request.ID+"`")
	return strings.Join(lines, "\n")
}

func emojiOr(value string) string {
	if value == "" {
		return "❓"
	}
	return value
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
