// Package telegram collects consent decisions through Telegram inline buttons.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	coreerrors "github.com/davidahmann/acp/core/errors"
	"golang.org/x/time/rate"
)

const (
	DefaultAPIBase = "https://api.telegram.org"

	maxResponseBytes = 1 << 20
)

type apiClient struct {
	base       string
	httpClient *http.Client
	limiter    *rate.Limiter
}

type apiEnvelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

type apiError struct {
	method      string
	statusCode  int
	description string
}

func (e apiError) Error() string {
	if e.description == "" {
		return fmt.Sprintf("telegram %s: status %d", e.method, e.statusCode)
	}
	return fmt.Sprintf("telegram %s: status %d: %s", e.method, e.statusCode, e.description)
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type replyMarkup struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type sendMessageRequest struct {
	ChatID      string       `json:"chat_id"`
	Text        string       `json:"text"`
	ParseMode   string       `json:"parse_mode"`
	ReplyMarkup *replyMarkup `json:"reply_markup,omitempty"`
}

type editMessageRequest struct {
	ChatID    string `json:"chat_id"`
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type answerCallbackRequest struct {
	CallbackQueryID string `json:"callback_query_id"`
	Text            string `json:"text"`
}

type message struct {
	MessageID int64 `json:"message_id"`
}

type user struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

type callbackQuery struct {
	ID   string `json:"id"`
	Data string `json:"data"`
	From user   `json:"from"`
}

type update struct {
	UpdateID      int64          `json:"update_id"`
	CallbackQuery *callbackQuery `json:"callback_query"`
}

func (c *apiClient) sendMessage(ctx context.Context, body sendMessageRequest) (message, error) {
	var out message
	err := c.call(ctx, http.MethodPost, "sendMessage", nil, body, &out)
	return out, err
}

func (c *apiClient) editMessageText(ctx context.Context, body editMessageRequest) error {
	return c.call(ctx, http.MethodPost, "editMessageText", nil, body, nil)
}

func (c *apiClient) answerCallbackQuery(ctx context.Context, body answerCallbackRequest) error {
	return c.call(ctx, http.MethodPost, "answerCallbackQuery", nil, body, nil)
}

func (c *apiClient) getUpdates(ctx context.Context, offset int64, longPoll time.Duration) ([]update, error) {
	query := url.Values{}
	query.Set("offset", strconv.FormatInt(offset, 10))
	query.Set("timeout", strconv.Itoa(int(longPoll/time.Second)))
	query.Set("allowed_updates", `["callback_query"]`)
	var out []update
	err := c.call(ctx, http.MethodGet, "getUpdates", query, nil, &out)
	return out, err
}

func (c *apiClient) call(ctx context.Context, method, name string, query url.Values, body any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	endpoint := c.base + "/" + name
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s: %w", name, err)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", name, err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	// #nosec G704 -- bot API base is explicit configuration.
	response, err := c.httpClient.Do(request)
	if err != nil {
		return coreerrors.Transport(fmt.Errorf("telegram %s: %w", name, err), 0)
	}
	defer func() {
		_ = response.Body.Close()
	}()
	raw, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return coreerrors.Transport(fmt.Errorf("read telegram %s: %w", name, err), 0)
	}
	var envelope apiEnvelope
	decodeErr := json.Unmarshal(raw, &envelope)
	if response.StatusCode != http.StatusOK || decodeErr != nil || !envelope.OK {
		return coreerrors.Transport(apiError{method: name, statusCode: response.StatusCode, description: envelope.Description}, response.StatusCode)
	}
	if out == nil || len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return coreerrors.Transport(fmt.Errorf("decode telegram %s result: %w", name, err), http.StatusBadGateway)
	}
	return nil
}
