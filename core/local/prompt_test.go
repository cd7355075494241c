package local

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	coreerrors "github.com/davidahmann/acp/core/errors"
	schemaconsent "github.com/davidahmann/acp/core/schema/v1/consent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testRequest() schemaconsent.ConsentRequest {
	return schemaconsent.ConsentRequest{
		ID:    "cr_00000000000000000000000000000002",
		Agent: schemaconsent.AgentInfo{ID: "agent-1", Name: "Planner"},
		Action: schemaconsent.ActionInfo{
			Tool:        "delete_file",
			Category:    schemaconsent.CategoryData,
			RiskLevel:   schemaconsent.RiskHigh,
			Parameters:  map[string]any{"path": "/tmp/report.csv"},
			Description: "Remove the stale export",
		},
		Context: &schemaconsent.RequestContext{ConversationSummary: "cleanup"},
	}
}

func TestPromptAnswers(t *testing.T) {
	tests := []struct {
		input    string
		decision schemaconsent.Decision
	}{
		{"a\n", schemaconsent.DecisionApproved},
		{"Approve\n", schemaconsent.DecisionApproved},
		{" yes \n", schemaconsent.DecisionApproved},
		{"y", schemaconsent.DecisionApproved},
		{"d\n", schemaconsent.DecisionDenied},
		{"NO\n", schemaconsent.DecisionDenied},
		{"maybe\nlater\ndeny\n", schemaconsent.DecisionDenied},
	}
	for _, test := range tests {
		out := &syncBuffer{}
		channel := New(Options{In: strings.NewReader(test.input), Out: out})
		response, err := channel.Prompt(context.Background(), testRequest())
		require.NoError(t, err, test.input)
		assert.Equal(t, test.decision, response.Decision, test.input)
		assert.Equal(t, schemaconsent.ApproverLocalUser, response.ApproverID)
		assert.Equal(t, schemaconsent.ChannelTerminal, response.Channel)
		assert.Equal(t, testRequest().ID, response.RequestID)
	}
}

func TestPromptRepromptsOnUnknownAnswer(t *testing.T) {
	out := &syncBuffer{}
	channel := New(Options{In: strings.NewReader("what\na\n"), Out: out})
	response, err := channel.Prompt(context.Background(), testRequest())
	require.NoError(t, err)
	assert.True(t, response.Approved())
	assert.Equal(t, 2, strings.Count(out.String(), "[A]pprove or [D]eny?"))
	assert.Contains(t, out.String(), "Please enter 'A' to approve or 'D' to deny.")
}

func TestPromptEOFDenies(t *testing.T) {
	out := &syncBuffer{}
	channel := New(Options{In: strings.NewReader(""), Out: out})
	response, err := channel.Prompt(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, schemaconsent.DecisionDenied, response.Decision)
	assert.Equal(t, ReasonNoInput, response.Reason)
	assert.Contains(t, out.String(), "Denied (no input)")

	again, err := channel.Prompt(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, schemaconsent.DecisionDenied, again.Decision)
}

func TestPromptCancelled(t *testing.T) {
	reader, writer := io.Pipe()
	defer func() {
		_ = writer.Close()
	}()
	out := &syncBuffer{}
	channel := New(Options{In: reader, Out: out})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	response, err := channel.Prompt(ctx, testRequest())
	require.Error(t, err)
	assert.Equal(t, coreerrors.CategoryConsentTimeout, coreerrors.CategoryOf(err))
	assert.Equal(t, schemaconsent.DecisionDenied, response.Decision)

	go func() {
		_, _ = io.WriteString(writer, "a\n")
	}()
	next, err := channel.Prompt(context.Background(), testRequest())
	require.NoError(t, err)
	assert.True(t, next.Approved())
}

func TestRenderPanel(t *testing.T) {
	panel := RenderPanel(testRequest())
	for _, want := range []string{"Agent Consent Request", "Planner", "delete_file", "HIGH", "data", "Remove the stale export", "/tmp/report.csv", "cleanup", "cr_00000000000000000000000000000002"} {
		assert.Contains(t, panel, want)
	}
	assert.Contains(t, panel, "╭")
}
