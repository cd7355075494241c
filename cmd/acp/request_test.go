package main

import (
	"net/http"
	"path/filepath"
	"testing"

	"github.com/davidahmann/acp/internal/testutil"
)

func TestRequestAutoApprovesLowRiskAndJournals(t *testing.T) {
	withWorkingDir(t, t.TempDir())
	journalPath := filepath.Join(t.TempDir(), "journal.jsonl")

	var code int
	raw := captureStdout(t, func() {
		code = run([]string{"acp", "request", "--tool", "get_weather", "--params", `{"city":"Oslo"}`, "--mode", "local", "--auto-approve-low-risk", "--journal", journalPath, "--json"})
	})
	if code != exitOK {
		t.Fatalf("request: expected %d got %d (%s)", exitOK, code, raw)
	}
	var output requestOutput
	decodeOutput(t, raw, &output)
	if !output.OK || output.Decision != "approved" || output.Channel != "policy_auto" || !output.AutoDecided {
		t.Fatalf("unexpected request output: %+v", output)
	}

	raw = captureStdout(t, func() {
		code = run([]string{"acp", "journal", "--path", journalPath, "--json"})
	})
	if code != exitOK {
		t.Fatalf("journal: expected %d got %d (%s)", exitOK, code, raw)
	}
	var listed journalOutput
	decodeOutput(t, raw, &listed)
	if len(listed.Entries) != 1 || listed.Entries[0].RequestID != output.RequestID || listed.Counts["approved"] != 1 {
		t.Fatalf("unexpected journal output: %+v", listed)
	}
}

func TestRequestLocalDenial(t *testing.T) {
	withWorkingDir(t, t.TempDir())
	withStdin(t, "maybe\nd\n")

	var code int
	raw := captureStdout(t, func() {
		code = run([]string{"acp", "request", "--tool", "delete_file", "--params", `{"path":"/tmp/a"}`, "--mode", "local", "--json"})
	})
	if code != exitConsentDenied {
		t.Fatalf("request: expected %d got %d (%s)", exitConsentDenied, code, raw)
	}
	var output requestOutput
	decodeOutput(t, raw, &output)
	if output.OK || output.Decision != "denied" || output.ApproverID != "local_user" || output.ErrorCode != "consent_denied" {
		t.Fatalf("unexpected request output: %+v", output)
	}
}

func TestRequestLocalApproval(t *testing.T) {
	withWorkingDir(t, t.TempDir())
	withStdin(t, "yes\n")

	var code int
	raw := captureStdout(t, func() {
		code = run([]string{"acp", "request", "--tool", "send_email", "--description", "Send the weekly report", "--mode", "local", "--json"})
	})
	if code != exitOK {
		t.Fatalf("request: expected %d got %d (%s)", exitOK, code, raw)
	}
	var output requestOutput
	decodeOutput(t, raw, &output)
	if output.Decision != "approved" || output.Channel != "terminal" {
		t.Fatalf("unexpected request output: %+v", output)
	}
}

func TestRequestGatewayOutcomes(t *testing.T) {
	withWorkingDir(t, t.TempDir())

	cases := []struct {
		name     string
		submit   string
		status   int
		polls    []string
		wantExit int
		decision string
	}{
		{"auto approved", `{"request_id":"cr_remote","auto_approved":true}`, http.StatusOK, nil, exitOK, "approved"},
		{"auto denied", `{"request_id":"cr_remote","auto_denied":true,"reason":"blocked by policy"}`, http.StatusOK, nil, exitPolicyBlocked, "denied"},
		{"polled approval", `{"request_id":"cr_remote"}`, http.StatusOK, []string{`{"status":"pending"}`, `{"status":"approved"}`}, exitOK, "approved"},
		{"forbidden", `{"reason":"tool not allowed"}`, http.StatusForbidden, nil, exitPolicyBlocked, "denied"},
	}
	for _, tc := range cases {
		authority := testutil.NewFakeAuthority(t)
		authority.RespondToSubmit(tc.status, tc.submit)
		if len(tc.polls) > 0 {
			authority.RespondToPolls(tc.polls...)
		}

		var code int
		raw := captureStdout(t, func() {
			code = run([]string{"acp", "request", "--tool", "delete_file", "--gateway-url", authority.URL(), "--poll-interval", "10ms", "--timeout", "5s", "--json"})
		})
		if code != tc.wantExit {
			t.Fatalf("%s: expected %d got %d (%s)", tc.name, tc.wantExit, code, raw)
		}
		var output requestOutput
		decodeOutput(t, raw, &output)
		if output.Mode != "gateway" || output.Decision != tc.decision || output.Channel != "gateway" {
			t.Fatalf("%s: unexpected output: %+v", tc.name, output)
		}
		if len(authority.Submits()) != 1 {
			t.Fatalf("%s: expected one submission, got %d", tc.name, len(authority.Submits()))
		}
	}
}

func TestRequestRejectsBadInput(t *testing.T) {
	withWorkingDir(t, t.TempDir())
	cases := [][]string{
		{"acp", "request", "--json"},
		{"acp", "request", "--tool", "x", "--params", "[1,2]", "--json"},
		{"acp", "request", "--tool", "x", "--mode", "carrier-pigeon", "--json"},
		{"acp", "request", "--tool", "x", "--category", "weather", "--json"},
		{"acp", "request", "--tool", "x", "--mode", "telegram", "--json"},
	}
	for _, args := range cases {
		var code int
		raw := captureStdout(t, func() { code = run(args) })
		if code != exitInvalidInput {
			t.Fatalf("%v: expected %d got %d (%s)", args, exitInvalidInput, code, raw)
		}
	}
}
