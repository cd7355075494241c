package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// TelegramCall is one Bot API method invocation seen by FakeTelegram.
type TelegramCall struct {
	Method string
	Body   map[string]any
	Query  map[string]string
}

// FakeTelegram serves the subset of the Bot API used for consent prompts.
// Queued updates are returned until a getUpdates offset confirms them, after
// which they are dropped as the Bot API does.
type FakeTelegram struct {
	Server *httptest.Server
	Token  string

	mu         sync.Mutex
	nextUpdate int
	updates    []map[string]any
	calls      []TelegramCall
	failSend   bool
	failPolls  int
	messageID  int
}

func NewFakeTelegram(t *testing.T, token string) *FakeTelegram {
	t.Helper()
	fake := &FakeTelegram{Token: token, nextUpdate: 100, messageID: 42}
	fake.Server = httptest.NewServer(http.HandlerFunc(fake.serve))
	t.Cleanup(fake.Server.Close)
	return fake
}

func (f *FakeTelegram) URL() string {
	return f.Server.URL
}

func (f *FakeTelegram) MessageID() int {
	return f.messageID
}

// PressButton queues a callback_query update as if user pressed a button.
func (f *FakeTelegram) PressButton(userID int64, firstName, data string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextUpdate++
	f.updates = append(f.updates, map[string]any{
		"update_id": f.nextUpdate,
		"callback_query": map[string]any{
			"id":   "cbq-" + strconv.Itoa(f.nextUpdate),
			"data": data,
			"from": map[string]any{"id": userID, "first_name": firstName},
		},
	})
}

// QueueMessage queues a plain message update without a callback.
func (f *FakeTelegram) QueueMessage(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextUpdate++
	f.updates = append(f.updates, map[string]any{
		"update_id": f.nextUpdate,
		"message":   map[string]any{"text": text},
	})
}

func (f *FakeTelegram) FailSend() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSend = true
}

// FailPolls makes the next n getUpdates calls answer 502.
func (f *FakeTelegram) FailPolls(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPolls = n
}

// Pending returns how many queued updates are not yet confirmed.
func (f *FakeTelegram) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

func (f *FakeTelegram) Calls(method string) []TelegramCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []TelegramCall
	for _, call := range f.calls {
		if method == "" || call.Method == method {
			out = append(out, call)
		}
	}
	return out
}

func (f *FakeTelegram) serve(w http.ResponseWriter, r *http.Request) {
	prefix := "/bot" + f.Token + "/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		writeJSON(w, http.StatusUnauthorized, `{"ok":false,"description":"Unauthorized"}`)
		return
	}
	method := strings.TrimPrefix(r.URL.Path, prefix)
	call := TelegramCall{Method: method, Query: map[string]string{}}
	for key := range r.URL.Query() {
		call.Query[key] = r.URL.Query().Get(key)
	}
	if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
		_ = json.Unmarshal(raw, &call.Body)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)

	switch method {
	case "sendMessage":
		if f.failSend {
			writeJSON(w, http.StatusBadRequest, `{"ok":false,"description":"Bad Request: chat not found"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"ok":true,"result":{"message_id":`+strconv.Itoa(f.messageID)+`}}`)
	case "getUpdates":
		if f.failPolls > 0 {
			f.failPolls--
			writeJSON(w, http.StatusBadGateway, `{"ok":false,"description":"Bad Gateway"}`)
			return
		}
		// An offset confirms every earlier update; confirmed updates are gone.
		offset, _ := strconv.Atoi(call.Query["offset"])
		result := []map[string]any{}
		for _, update := range f.updates {
			if id, _ := update["update_id"].(int); id >= offset {
				result = append(result, update)
			}
		}
		if offset > 0 {
			f.updates = append([]map[string]any(nil), result...)
		}
		encoded, _ := json.Marshal(map[string]any{"ok": true, "result": result})
		writeJSON(w, http.StatusOK, string(encoded))
	case "answerCallbackQuery", "editMessageText":
		writeJSON(w, http.StatusOK, `{"ok":true,"result":true}`)
	default:
		writeJSON(w, http.StatusNotFound, `{"ok":false,"description":"Not Found"}`)
	}
}
