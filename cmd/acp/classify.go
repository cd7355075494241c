package main

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/davidahmann/acp/core/classify"
	coreerrors "github.com/davidahmann/acp/core/errors"
	schemaconsent "github.com/davidahmann/acp/core/schema/v1/consent"
)

type classifyOutput struct {
	OK bool `json:"ok"`
	errorFields
	Tool           string          `json:"tool,omitempty"`
	Category       string          `json:"category,omitempty"`
	RiskLevel      string          `json:"risk_level,omitempty"`
	CategorySource classify.Source `json:"category_source,omitempty"`
	RiskSource     classify.Source `json:"risk_source,omitempty"`
	MatchedRule    string          `json:"matched_rule,omitempty"`
}

func runClassify(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Classify a tool name into an action category and risk level using the built-in rule tables.")
	}
	arguments = reorderInterspersedFlags(arguments, map[string]bool{
		"tool":     true,
		"category": true,
		"risk":     true,
	})

	flagSet := flag.NewFlagSet("classify", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var tool string
	var categoryRaw string
	var riskRaw string
	var jsonOutput bool
	var helpFlag bool

	flagSet.StringVar(&tool, "tool", "", "tool name to classify")
	flagSet.StringVar(&categoryRaw, "category", "", "category override")
	flagSet.StringVar(&riskRaw, "risk", "", "risk level override")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeClassifyOutput(jsonOutput, classifyOutput{errorFields: errorFields{Error: err.Error()}}, exitInvalidInput)
	}
	if helpFlag {
		printClassifyUsage()
		return exitOK
	}
	if len(flagSet.Args()) > 0 {
		if tool != "" || len(flagSet.Args()) > 1 {
			return writeClassifyOutput(jsonOutput, classifyOutput{errorFields: errorFields{Error: "unexpected positional arguments"}}, exitInvalidInput)
		}
		tool = flagSet.Args()[0]
	}
	if strings.TrimSpace(tool) == "" {
		return writeClassifyOutput(jsonOutput, classifyOutput{errorFields: errorFields{Error: "missing required --tool"}}, exitInvalidInput)
	}

	category, risk, err := parseOverrides(categoryRaw, riskRaw)
	if err != nil {
		return writeClassifyOutput(jsonOutput, classifyOutput{errorFields: classifyError(err)}, exitCodeForError(err, exitInvalidInput))
	}
	result := classify.Classify(tool, category, risk)
	return writeClassifyOutput(jsonOutput, classifyOutput{
		OK:             true,
		Tool:           tool,
		Category:       string(result.Category),
		RiskLevel:      string(result.Risk),
		CategorySource: result.CategorySource,
		RiskSource:     result.RiskSource,
		MatchedRule:    result.MatchedRule,
	}, exitOK)
}

// parseOverrides turns optional flag values into classification overrides.
func parseOverrides(categoryRaw, riskRaw string) (*schemaconsent.Category, *schemaconsent.RiskLevel, error) {
	var category *schemaconsent.Category
	var risk *schemaconsent.RiskLevel
	if strings.TrimSpace(categoryRaw) != "" {
		parsed, err := schemaconsent.ParseCategory(categoryRaw)
		if err != nil {
			return nil, nil, coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "classification_invalid", "use one of communication, financial, data, system, public, identity, physical", false)
		}
		category = &parsed
	}
	if strings.TrimSpace(riskRaw) != "" {
		parsed, err := schemaconsent.ParseRiskLevel(riskRaw)
		if err != nil {
			return nil, nil, coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "classification_invalid", "use one of low, medium, high, critical", false)
		}
		risk = &parsed
	}
	return category, risk, nil
}

func writeClassifyOutput(jsonOutput bool, output classifyOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.OK {
		fmt.Printf("%s: category=%s (%s) risk=%s (%s)\n", output.Tool, output.Category, output.CategorySource, output.RiskLevel, output.RiskSource)
		return exitCode
	}
	fmt.Printf("classify error: %s\n", output.Error)
	return exitCode
}

func printClassifyUsage() {
	fmt.Println("Usage:")
	fmt.Println("  acp classify --tool <name> [--category <category>] [--risk <level>] [--json] [--explain]")
}
