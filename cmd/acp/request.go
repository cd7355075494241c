package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/davidahmann/acp/core/config"
	"github.com/davidahmann/acp/core/consent"
	coreerrors "github.com/davidahmann/acp/core/errors"
	"github.com/davidahmann/acp/core/observability"
	schemaconsent "github.com/davidahmann/acp/core/schema/v1/consent"
)

const defaultTraceOutput = ".acp/trace.jsonl"

type requestOutput struct {
	OK bool `json:"ok"`
	errorFields
	Mode          string         `json:"mode,omitempty"`
	RequestID     string         `json:"request_id,omitempty"`
	Tool          string         `json:"tool,omitempty"`
	Decision      string         `json:"decision,omitempty"`
	Channel       string         `json:"channel,omitempty"`
	ApproverID    string         `json:"approver_id,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	AutoDecided   bool           `json:"auto_decided,omitempty"`
	Modifications map[string]any `json:"modifications,omitempty"`
	Verified      bool           `json:"proof_verified,omitempty"`
}

type requestFlags struct {
	tool        string
	description string
	params      string
	category    string
	risk        string
	impact      string
	sessionID   string
	configPath  string
	settings    config.Settings
}

func runRequest(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Ask for consent to run one tool call through the configured channel (terminal, Telegram or a remote consent authority) and print the decision. Exits 0 only on approval.")
	}
	arguments = reorderInterspersedFlags(arguments, map[string]bool{
		"tool":          true,
		"description":   true,
		"params":        true,
		"category":      true,
		"risk":          true,
		"impact":        true,
		"session-id":    true,
		"mode":          true,
		"config":        true,
		"gateway-url":   true,
		"agent-id":      true,
		"agent-name":    true,
		"timeout":       true,
		"poll-interval": true,
		"journal":       true,
		"trace-out":     true,
	})

	flagSet := flag.NewFlagSet("request", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var opts requestFlags
	var jsonOutput bool
	var verbose bool
	var helpFlag bool

	flagSet.StringVar(&opts.tool, "tool", "", "tool name awaiting consent")
	flagSet.StringVar(&opts.description, "description", "", "human readable description of the action")
	flagSet.StringVar(&opts.params, "params", "", "tool parameters as a JSON object")
	flagSet.StringVar(&opts.category, "category", "", "category override")
	flagSet.StringVar(&opts.risk, "risk", "", "risk level override")
	flagSet.StringVar(&opts.impact, "impact", "", "estimated impact shown to the approver")
	flagSet.StringVar(&opts.sessionID, "session-id", "", "agent session id")
	flagSet.StringVar(&opts.configPath, "config", "", "project config path (default .acp/config.yaml)")
	flagSet.StringVar(&opts.settings.Mode, "mode", "", "channel mode: local, telegram or gateway")
	flagSet.StringVar(&opts.settings.GatewayURL, "gateway-url", "", "consent authority base URL")
	flagSet.StringVar(&opts.settings.AgentID, "agent-id", "", "agent id")
	flagSet.StringVar(&opts.settings.AgentName, "agent-name", "", "agent display name")
	flagSet.DurationVar(&opts.settings.Timeout, "timeout", 0, "how long to wait for a decision")
	flagSet.DurationVar(&opts.settings.PollInterval, "poll-interval", 0, "how often a remote authority is polled")
	flagSet.StringVar(&opts.settings.JournalPath, "journal", "", "append the decision to this JSONL journal")
	flagSet.StringVar(&opts.settings.TraceOutput, "trace-out", "", "write OpenTelemetry spans to this file")
	flagSet.BoolVar(&opts.settings.AutoApproveLowRisk, "auto-approve-low-risk", false, "approve low risk actions without asking")
	flagSet.BoolVar(&opts.settings.RequireSignature, "require-signature", false, "reject approvals without a verified signature")
	flagSet.BoolVar(&opts.settings.AllowAnyKey, "allow-any-key", false, "accept proofs from any key when no trusted keys are configured")
	flagSet.BoolVar(&verbose, "verbose", false, "log debug output to stderr")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeRequestOutput(jsonOutput, requestOutput{errorFields: errorFields{Error: err.Error()}}, exitInvalidInput)
	}
	if helpFlag {
		printRequestUsage()
		return exitOK
	}
	if len(flagSet.Args()) > 0 {
		return writeRequestOutput(jsonOutput, requestOutput{errorFields: errorFields{Error: "unexpected positional arguments"}}, exitInvalidInput)
	}
	if strings.TrimSpace(opts.tool) == "" {
		return writeRequestOutput(jsonOutput, requestOutput{errorFields: errorFields{Error: "missing required --tool"}}, exitInvalidInput)
	}

	spec, err := buildActionSpec(opts)
	if err != nil {
		return writeRequestOutput(jsonOutput, requestOutput{Tool: opts.tool, errorFields: classifyError(err)}, exitCodeForError(err, exitInvalidInput))
	}
	settings, err := config.Load(config.LoadOptions{ProjectPath: opts.configPath, Explicit: opts.settings})
	if err != nil {
		return writeRequestOutput(jsonOutput, requestOutput{Tool: opts.tool, errorFields: classifyError(err)}, exitCodeForError(err, exitInvalidInput))
	}

	logger := newLogger(os.Stderr, verbose)
	if settings.Tracing || settings.TraceOutput != "" {
		if err := startTracing(settings.TraceOutput); err != nil {
			logger.Warn("tracing disabled", "error", err)
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = observability.Shutdown(shutdownCtx)
			}()
		}
	}

	// The prompt panel goes to stderr when stdout carries JSON.
	var promptOut io.Writer = os.Stdout
	if jsonOutput {
		promptOut = os.Stderr
	}
	client, err := consent.NewClient(settings,
		consent.WithLogger(logger),
		consent.WithTerminal(os.Stdin, promptOut),
	)
	if err != nil {
		return writeRequestOutput(jsonOutput, requestOutput{Tool: opts.tool, errorFields: classifyError(err)}, exitCodeForError(err, exitInvalidInput))
	}
	defer func() {
		_ = client.Close()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	response, err := client.RequestConsent(ctx, spec)
	output := requestOutput{
		Mode:          string(client.Mode()),
		RequestID:     response.RequestID,
		Tool:          spec.Tool,
		Decision:      string(response.Decision),
		Channel:       string(response.Channel),
		ApproverID:    response.ApproverID,
		Reason:        response.Reason,
		AutoDecided:   response.AutoDecided,
		Modifications: response.Modifications,
		Verified:      err == nil && response.Proof != nil && (len(settings.TrustedKeys) > 0 || settings.AllowAnyKey),
	}
	if err == nil && !response.Approved() {
		err = consent.NewDeniedError(spec.Tool, response)
	}
	if err != nil {
		output.errorFields = classifyError(err)
		return writeRequestOutput(jsonOutput, output, exitCodeForError(err, exitInternalFailure))
	}
	output.OK = true
	return writeRequestOutput(jsonOutput, output, exitOK)
}

func buildActionSpec(opts requestFlags) (consent.ActionSpec, error) {
	category, risk, err := parseOverrides(opts.category, opts.risk)
	if err != nil {
		return consent.ActionSpec{}, err
	}
	spec := consent.ActionSpec{
		Tool:            strings.TrimSpace(opts.tool),
		Description:     opts.description,
		Category:        category,
		RiskLevel:       risk,
		EstimatedImpact: opts.impact,
		SessionID:       opts.sessionID,
	}
	if strings.TrimSpace(opts.params) != "" {
		var params map[string]any
		decoder := json.NewDecoder(strings.NewReader(opts.params))
		decoder.UseNumber()
		if err := decoder.Decode(&params); err != nil {
			return consent.ActionSpec{}, coreerrors.Wrap(fmt.Errorf("parse --params: %w", err), coreerrors.CategoryInvalidInput, "params_invalid", "pass tool parameters as a JSON object", false)
		}
		spec.Parameters = params
	}
	return spec, nil
}

func startTracing(output string) error {
	if output == "" {
		output = defaultTraceOutput
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o750); err != nil {
		return err
	}
	return observability.Init("acp", version, output)
}

func writeRequestOutput(jsonOutput bool, output requestOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.Decision != "" {
		line := fmt.Sprintf("%s %s: decision=%s channel=%s", output.Tool, output.RequestID, output.Decision, output.Channel)
		if output.ApproverID != "" {
			line += " approver=" + output.ApproverID
		}
		if output.Reason != "" {
			line += fmt.Sprintf(" reason=%q", output.Reason)
		}
		fmt.Println(line)
		if output.Decision == string(schemaconsent.DecisionApprovedWithModifications) && len(output.Modifications) > 0 {
			encoded, _ := json.Marshal(output.Modifications)
			fmt.Printf("modifications: %s\n", encoded)
		}
	}
	if output.Error != "" && exitCode != exitConsentDenied && exitCode != exitPolicyBlocked {
		fmt.Printf("request error: %s\n", output.Error)
	}
	return exitCode
}

func printRequestUsage() {
	fmt.Println("Usage:")
	fmt.Println("  acp request --tool <name> [--description <text>] [--params <json>] [--category <category>] [--risk <level>] [--impact <text>] [--session-id <id>]")
	fmt.Println("              [--mode local|telegram|gateway] [--config .acp/config.yaml] [--gateway-url <url>] [--agent-id <id>] [--agent-name <name>] [--timeout <duration>] [--poll-interval <duration>]")
	fmt.Println("              [--journal <path>] [--auto-approve-low-risk] [--require-signature] [--allow-any-key] [--trace-out <path>] [--verbose] [--json] [--explain]")
}
