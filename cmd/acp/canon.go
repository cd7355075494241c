package main

import (
	"flag"
	"fmt"
	"io"

	coreerrors "github.com/davidahmann/acp/core/errors"
	"github.com/davidahmann/acp/core/jcs"
)

const (
	formProtocol = "acp"
	formRFC8785  = "rfc8785"
)

var canonicalForms = map[string]func([]byte) ([]byte, error){
	formProtocol: jcs.CanonicalizeJSON,
	formRFC8785:  jcs.CanonicalizeRFC8785,
}

type canonOutput struct {
	OK bool `json:"ok"`
	errorFields
	Form        string `json:"form,omitempty"`
	Canonical   string `json:"canonical,omitempty"`
	ContentHash string `json:"content_hash,omitempty"`
}

func runCanon(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Print the canonical form that consent proofs hash (or the RFC 8785 form with --form rfc8785) of a JSON document and its sha256 content hash.")
	}
	arguments = reorderInterspersedFlags(arguments, map[string]bool{"file": true, "form": true})

	flagSet := flag.NewFlagSet("canon", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var path string
	var form string
	var jsonOutput bool
	var helpFlag bool

	flagSet.StringVar(&path, "file", "", "JSON file to canonicalize (default stdin)")
	flagSet.StringVar(&form, "form", formProtocol, "canonical form: acp|rfc8785")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeCanonOutput(jsonOutput, canonOutput{errorFields: errorFields{Error: err.Error()}}, exitInvalidInput)
	}
	if helpFlag {
		printCanonUsage()
		return exitOK
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		if path != "" || len(rest) > 1 {
			return writeCanonOutput(jsonOutput, canonOutput{errorFields: errorFields{Error: "unexpected positional arguments"}}, exitInvalidInput)
		}
		path = rest[0]
	}

	canonicalize, ok := canonicalForms[form]
	if !ok {
		return writeCanonOutput(jsonOutput, canonOutput{errorFields: errorFields{Error: fmt.Sprintf("unsupported --form %q (use acp or rfc8785)", form)}}, exitInvalidInput)
	}

	data, err := readInput(path)
	if err != nil {
		return writeCanonOutput(jsonOutput, canonOutput{errorFields: classifyError(err)}, exitCodeForError(err, exitInvalidInput))
	}
	canonical, err := canonicalize(data)
	if err != nil {
		err = coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "json_invalid", "input must be a single JSON value", false)
		return writeCanonOutput(jsonOutput, canonOutput{errorFields: classifyError(err)}, exitInvalidInput)
	}
	return writeCanonOutput(jsonOutput, canonOutput{
		OK:          true,
		Form:        form,
		Canonical:   string(canonical),
		ContentHash: jcs.ContentHash(string(canonical)),
	}, exitOK)
}

func writeCanonOutput(jsonOutput bool, output canonOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.OK {
		fmt.Println(output.Canonical)
		fmt.Println(output.ContentHash)
		return exitCode
	}
	fmt.Printf("canon error: %s\n", output.Error)
	return exitCode
}

func printCanonUsage() {
	fmt.Println("Usage:")
	fmt.Println("  acp canon [--file <path>|<path>] [--form acp|rfc8785] [--json] [--explain]")
}
