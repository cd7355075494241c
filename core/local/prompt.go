// Package local asks the person at the terminal to approve or deny a request.
package local

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	coreerrors "github.com/davidahmann/acp/core/errors"
	schemaconsent "github.com/davidahmann/acp/core/schema/v1/consent"
)

const ReasonNoInput = "no input"

type Options struct {
	In  io.Reader
	Out io.Writer
}

// Channel serializes prompts on one terminal. Input is read by a single
// background goroutine so a cancelled prompt does not swallow the next answer.
type Channel struct {
	out io.Writer
	in  io.Reader

	mu       sync.Mutex
	readOnce sync.Once
	lines    chan inputLine
}

type inputLine struct {
	text string
	err  error
}

func New(options Options) *Channel {
	in := options.In
	if in == nil {
		in = os.Stdin
	}
	out := options.Out
	if out == nil {
		out = os.Stdout
	}
	return &Channel{in: in, out: out, lines: make(chan inputLine)}
}

// Prompt blocks until the user answers, input ends or ctx is done. End of
// input and cancellation both resolve as denials.
func (c *Channel) Prompt(ctx context.Context, request schemaconsent.ConsentRequest) (schemaconsent.ConsentResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readOnce.Do(func() { go c.readLines() })

	_, _ = fmt.Fprintln(c.out)
	_, _ = fmt.Fprintln(c.out, RenderPanel(request))
	for {
		_, _ = fmt.Fprint(c.out, "\n  [A]pprove or [D]eny? ")
		var line inputLine
		select {
		case <-ctx.Done():
			_, _ = fmt.Fprintln(c.out, "\n  → Denied (cancelled)")
			return schemaconsent.CancelledResponse(request.ID, schemaconsent.ChannelTerminal, time.Now()), coreerrors.Cancelled(ctx.Err())
		case line = <-c.lines:
		}
		if line.err != nil {
			_, _ = fmt.Fprintln(c.out, "\n  → Denied (no input)")
			response := decided(request.ID, schemaconsent.DecisionDenied)
			response.Reason = ReasonNoInput
			return response, nil
		}
		switch strings.ToLower(strings.TrimSpace(line.text)) {
		case "a", "approve", "y", "yes":
			_, _ = fmt.Fprintln(c.out, "\n  → ✅ Approved")
			return decided(request.ID, schemaconsent.DecisionApproved), nil
		case "d", "deny", "n", "no":
			_, _ = fmt.Fprintln(c.out, "\n  → ❌ Denied")
			return decided(request.ID, schemaconsent.DecisionDenied), nil
		default:
			_, _ = fmt.Fprintln(c.out, "  Please enter 'A' to approve or 'D' to deny.")
		}
	}
}

func (c *Channel) readLines() {
	reader := bufio.NewReader(c.in)
	for {
		text, err := reader.ReadString('\n')
		if err != nil && text == "" {
			for {
				c.lines <- inputLine{err: err}
			}
		}
		c.lines <- inputLine{text: text}
	}
}

func decided(requestID string, decision schemaconsent.Decision) schemaconsent.ConsentResponse {
	return schemaconsent.ConsentResponse{
		RequestID:  requestID,
		Decision:   decision,
		ApproverID: schemaconsent.ApproverLocalUser,
		Channel:    schemaconsent.ChannelTerminal,
		Timestamp:  schemaconsent.FormatTime(time.Now()),
	}
}

var riskColors = map[schemaconsent.RiskLevel]lipgloss.Color{
	schemaconsent.RiskLow:      lipgloss.Color("10"),
	schemaconsent.RiskMedium:   lipgloss.Color("11"),
	schemaconsent.RiskHigh:     lipgloss.Color("9"),
	schemaconsent.RiskCritical: lipgloss.Color("196"),
}

var riskIcons = map[schemaconsent.RiskLevel]string{
	schemaconsent.RiskLow:      "🟢",
	schemaconsent.RiskMedium:   "🟡",
	schemaconsent.RiskHigh:     "🔴",
	schemaconsent.RiskCritical: "⛔",
}

// RenderPanel draws the request as a bordered panel colored by risk.
func RenderPanel(request schemaconsent.ConsentRequest) string {
	keyStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14")).Width(13)
	titleStyle := lipgloss.NewStyle().Bold(true)
	subtle := lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	row := func(key, value string) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, keyStyle.Render(key), value)
	}
	risk := request.Action.RiskLevel
	rows := []string{
		titleStyle.Render("🤖 Agent Consent Request"),
		"",
		row("Agent", request.Agent.DisplayName()),
		row("Action", titleStyle.Render(request.Action.Tool)),
		row("Risk", strings.TrimSpace(riskIcons[risk]+" "+titleStyle.Render(strings.ToUpper(string(risk))))),
		row("Category", string(request.Action.Category)),
		row("Description", request.Action.Description),
	}
	if len(request.Action.Parameters) > 0 {
		if params, err := json.MarshalIndent(request.Action.Parameters, "", "  "); err == nil {
			rows = append(rows, row("Parameters", string(params)))
		}
	}
	if request.Action.EstimatedImpact != "" {
		rows = append(rows, row("Impact", lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Render(request.Action.EstimatedImpact)))
	}
	if request.Context != nil && request.Context.ConversationSummary != "" {
		rows = append(rows, row("Context", request.Context.ConversationSummary))
	}
	rows = append(rows, "", subtle.Render("ID: "+request.ID))

	border := lipgloss.Color("7")
	if color, ok := riskColors[risk]; ok {
		border = color
	}
	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(border).
		Padding(0, 1)
	if risk == schemaconsent.RiskCritical {
		panel = panel.Bold(true)
	}
	return panel.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}
