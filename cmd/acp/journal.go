package main

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/davidahmann/acp/core/config"
	"github.com/davidahmann/acp/core/journal"
)

type journalOutput struct {
	OK bool `json:"ok"`
	errorFields
	Path    string          `json:"path,omitempty"`
	Entries []journal.Entry `json:"entries,omitempty"`
	Counts  map[string]int  `json:"counts,omitempty"`
}

func runJournal(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("List the decisions recorded in the consent journal.")
	}
	arguments = reorderInterspersedFlags(arguments, map[string]bool{
		"path":   true,
		"config": true,
	})

	flagSet := flag.NewFlagSet("journal", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var path string
	var configPath string
	var jsonOutput bool
	var helpFlag bool

	flagSet.StringVar(&path, "path", "", "journal file (default ACP_JOURNAL_PATH or journal.path)")
	flagSet.StringVar(&configPath, "config", "", "project config path (default .acp/config.yaml)")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeJournalOutput(jsonOutput, journalOutput{errorFields: errorFields{Error: err.Error()}}, exitInvalidInput)
	}
	if helpFlag {
		printJournalUsage()
		return exitOK
	}
	if len(flagSet.Args()) > 0 {
		return writeJournalOutput(jsonOutput, journalOutput{errorFields: errorFields{Error: "unexpected positional arguments"}}, exitInvalidInput)
	}

	settings, err := config.Load(config.LoadOptions{ProjectPath: configPath, Explicit: config.Settings{JournalPath: path}})
	if err != nil {
		return writeJournalOutput(jsonOutput, journalOutput{errorFields: classifyError(err)}, exitCodeForError(err, exitInvalidInput))
	}
	if strings.TrimSpace(settings.JournalPath) == "" {
		return writeJournalOutput(jsonOutput, journalOutput{errorFields: errorFields{Error: "no journal configured; pass --path"}}, exitInvalidInput)
	}
	entries, err := journal.Read(settings.JournalPath)
	if err != nil {
		return writeJournalOutput(jsonOutput, journalOutput{Path: settings.JournalPath, errorFields: classifyError(err)}, exitCodeForError(err, exitInvalidInput))
	}
	counts := map[string]int{}
	for _, entry := range entries {
		counts[entry.Decision]++
	}
	return writeJournalOutput(jsonOutput, journalOutput{OK: true, Path: settings.JournalPath, Entries: entries, Counts: counts}, exitOK)
}

func writeJournalOutput(jsonOutput bool, output journalOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if !output.OK {
		fmt.Printf("journal error: %s\n", output.Error)
		return exitCode
	}
	for _, entry := range output.Entries {
		line := fmt.Sprintf("%s %s %s/%s decision=%s channel=%s", entry.RecordedAt, entry.RequestID, entry.Tool, entry.RiskLevel, entry.Decision, entry.Channel)
		if entry.ApproverID != "" {
			line += " approver=" + entry.ApproverID
		}
		fmt.Println(line)
	}
	fmt.Printf("%d entries\n", len(output.Entries))
	return exitCode
}

func printJournalUsage() {
	fmt.Println("Usage:")
	fmt.Println("  acp journal [--path <journal.jsonl>] [--config .acp/config.yaml] [--json] [--explain]")
}
