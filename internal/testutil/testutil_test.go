package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestRepoRootContainsGoMod(t *testing.T) {
	root := RepoRoot(t)
	if _, err := os.Stat(filepath.Join(root, "go.mod")); err != nil {
		t.Fatalf("expected go.mod at repo root: %v", err)
	}
}

func TestWriteFileAndMustReadFile(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "output.json")
	WriteFile(t, target, []byte(`{"ok":true}`))
	got := MustReadFile(t, target)
	if string(got) != `{"ok":true}` {
		t.Fatalf("unexpected file content: %q", string(got))
	}
}

func TestFakeAuthoritySequencesPolls(t *testing.T) {
	fake := NewFakeAuthority(t)
	fake.RequireAPIKey("secret")
	fake.RespondToPolls(`{"status":"pending"}`, `{"status":"approved"}`)
	fake.FailPolls(1)

	submit := doRequest(t, http.MethodPost, fake.URL()+"/api/v1/consent/request", "secret", `{"agent_id":"a"}`)
	if submit.status != http.StatusOK || !bytes.Contains(submit.body, []byte("cr_remote")) {
		t.Fatalf("unexpected submit response: %d %s", submit.status, submit.body)
	}
	unauthorized := doRequest(t, http.MethodGet, fake.URL()+"/api/v1/consent/cr_remote", "wrong", "")
	if unauthorized.status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong key, got %d", unauthorized.status)
	}

	var statuses []int
	var bodies []string
	for i := 0; i < 4; i++ {
		poll := doRequest(t, http.MethodGet, fake.URL()+"/api/v1/consent/cr_remote", "secret", "")
		statuses = append(statuses, poll.status)
		bodies = append(bodies, string(poll.body))
	}
	if statuses[0] != http.StatusServiceUnavailable {
		t.Fatalf("expected first poll to fail, got %v", statuses)
	}
	if bodies[1] != `{"status":"pending"}` || bodies[2] != `{"status":"approved"}` || bodies[3] != `{"status":"approved"}` {
		t.Fatalf("unexpected poll sequence: %v", bodies)
	}
	if fake.Polls() != 4 || len(fake.Submits()) != 1 {
		t.Fatalf("unexpected counters polls=%d submits=%d", fake.Polls(), len(fake.Submits()))
	}
	if DecodeJSON(t, fake.Submits()[0])["agent_id"] != "a" {
		t.Fatalf("submit body not recorded: %s", fake.Submits()[0])
	}
}

func TestFakeTelegramHonoursOffset(t *testing.T) {
	fake := NewFakeTelegram(t, "123:abc")
	fake.PressButton(7, "Ada", "acp:approve:cr_1")

	first := doRequest(t, http.MethodGet, fake.URL()+"/bot123:abc/getUpdates?offset=0", "", "")
	var decoded struct {
		Result []struct {
			UpdateID int `json:"update_id"`
		} `json:"result"`
	}
	if err := json.Unmarshal(first.body, &decoded); err != nil {
		t.Fatalf("decode updates: %v", err)
	}
	if len(decoded.Result) != 1 {
		t.Fatalf("expected one update, got %s", first.body)
	}
	next := decoded.Result[0].UpdateID + 1
	second := doRequest(t, http.MethodGet, fake.URL()+"/bot123:abc/getUpdates?offset="+strconv.Itoa(next), "", "")
	if !bytes.Contains(second.body, []byte(`"result":[]`)) {
		t.Fatalf("expected no updates after offset, got %s", second.body)
	}
	if fake.Pending() != 0 {
		t.Fatalf("confirmed update still pending: %d", fake.Pending())
	}
	replay := doRequest(t, http.MethodGet, fake.URL()+"/bot123:abc/getUpdates?offset=0", "", "")
	if !bytes.Contains(replay.body, []byte(`"result":[]`)) {
		t.Fatalf("confirmed update delivered again: %s", replay.body)
	}
	if len(fake.Calls("getUpdates")) != 3 {
		t.Fatalf("expected three getUpdates calls, got %d", len(fake.Calls("getUpdates")))
	}
}

type rawResponse struct {
	status int
	body   []byte
}

func doRequest(t *testing.T, method, url, key, body string) rawResponse {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	request, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if key != "" {
		request.Header.Set("Authorization", "Bearer "+key)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer func() {
		_ = response.Body.Close()
	}()
	raw, err := io.ReadAll(response.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return rawResponse{status: response.StatusCode, body: raw}
}
