package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// FakeAuthority is an in-process consent authority. Submissions are answered
// with SubmitStatus/SubmitBody and polls walk through Statuses, repeating the
// last entry once the list is exhausted.
type FakeAuthority struct {
	Server *httptest.Server

	mu            sync.Mutex
	apiKey        string
	submitStatus  int
	submitBody    string
	statuses      []string
	pollFunc      func(submit []byte) string
	failPolls     int
	pollDelay     time.Duration
	submits       [][]byte
	polls         int
	served        int
	authorization []string
}

func NewFakeAuthority(t *testing.T) *FakeAuthority {
	t.Helper()
	fake := &FakeAuthority{
		submitStatus: http.StatusOK,
		submitBody:   `{"request_id":"cr_remote"}`,
		statuses:     []string{`{"status":"pending"}`},
	}
	fake.Server = httptest.NewServer(http.HandlerFunc(fake.serve))
	t.Cleanup(fake.Server.Close)
	return fake
}

func (f *FakeAuthority) URL() string {
	return f.Server.URL
}

// RequireAPIKey makes every endpoint answer 401 unless the bearer token matches.
func (f *FakeAuthority) RequireAPIKey(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apiKey = key
}

func (f *FakeAuthority) RespondToSubmit(status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitStatus = status
	f.submitBody = body
}

func (f *FakeAuthority) RespondToPolls(bodies ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append([]string(nil), bodies...)
}

// RespondToPollsWith answers every poll with fn applied to the latest
// submission body, so a test can sign a decision for the request it received.
func (f *FakeAuthority) RespondToPollsWith(fn func(submit []byte) string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollFunc = fn
}

// FailPolls makes the next n polls answer 503 without advancing Statuses.
func (f *FakeAuthority) FailPolls(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPolls = n
}

// DelayPolls holds every poll for d before answering, or until the caller
// gives up on the request.
func (f *FakeAuthority) DelayPolls(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollDelay = d
}

func (f *FakeAuthority) Submits() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.submits...)
}

func (f *FakeAuthority) Polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func (f *FakeAuthority) Authorizations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.authorization...)
}

func (f *FakeAuthority) serve(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		f.mu.Lock()
		delay := f.pollDelay
		f.mu.Unlock()
		if delay > 0 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(delay):
			}
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authorization = append(f.authorization, r.Header.Get("Authorization"))
	if f.apiKey != "" && r.Header.Get("Authorization") != "Bearer "+f.apiKey {
		writeJSON(w, http.StatusUnauthorized, `{"error":"unauthorized"}`)
		return
	}
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/v1/consent/request":
		body, _ := io.ReadAll(r.Body)
		f.submits = append(f.submits, body)
		writeJSON(w, f.submitStatus, f.submitBody)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/v1/consent/"):
		f.polls++
		if f.failPolls > 0 {
			f.failPolls--
			writeJSON(w, http.StatusServiceUnavailable, `{"error":"unavailable"}`)
			return
		}
		if f.pollFunc != nil {
			var latest []byte
			if len(f.submits) > 0 {
				latest = f.submits[len(f.submits)-1]
			}
			writeJSON(w, http.StatusOK, f.pollFunc(latest))
			return
		}
		index := f.served
		f.served++
		if index >= len(f.statuses) {
			index = len(f.statuses) - 1
		}
		writeJSON(w, http.StatusOK, f.statuses[index])
	default:
		writeJSON(w, http.StatusNotFound, `{"error":"not found"}`)
	}
}

// DecodeJSON unmarshals raw into a generic map or fails the test.
func DecodeJSON(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode json %q: %v", string(raw), err)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
