package main

import (
	"fmt"
	"os"
)

// version is stamped at release time via ldflags; default stays dev for local builds.
var version = "0.0.0-dev"

const (
	exitOK              = 0
	exitInternalFailure = 1
	exitVerifyFailed    = 2
	exitPolicyBlocked   = 3
	exitConsentDenied   = 4
	exitInvalidInput    = 6
)

func main() {
	os.Exit(run(os.Args))
}

func run(arguments []string) int {
	if len(arguments) < 2 {
		fmt.Println("acp", version)
		return exitOK
	}
	if arguments[1] == "--explain" {
		return writeExplain("acp asks a human before an AI agent runs a consequential tool call, and verifies signed consent decisions.")
	}

	switch arguments[1] {
	case "classify":
		return runClassify(arguments[2:])
	case "request":
		return runRequest(arguments[2:])
	case "verify":
		return runVerify(arguments[2:])
	case "canon":
		return runCanon(arguments[2:])
	case "keys":
		return runKeys(arguments[2:])
	case "sign":
		return runSign(arguments[2:])
	case "journal":
		return runJournal(arguments[2:])
	case "doctor":
		return runDoctor(arguments[2:])
	case "version", "--version", "-v":
		if hasExplainFlag(arguments[2:]) {
			return writeExplain("Print the CLI version.")
		}
		fmt.Println("acp", version)
		return exitOK
	case "help", "--help", "-h":
		printUsage()
		return exitOK
	default:
		printUsage()
		return exitInvalidInput
	}
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  acp classify --tool <name> [--category <category>] [--risk <level>] [--json] [--explain]")
	fmt.Println("  acp request --tool <name> [--description <text>] [--params <json>] [--category <category>] [--risk <level>] [--mode local|telegram|gateway] [--config .acp/config.yaml] [--timeout <duration>] [--auto-approve-low-risk] [--trace-out <path>] [--verbose] [--json] [--explain]")
	fmt.Println("  acp verify --request <request.json> --response <response.json> [--trusted-key <key>]... [--require-signature] [--json] [--explain]")
	fmt.Println("  acp sign --request <request.json> --response <response.json> (--private-key <path>|--private-key-env <VAR>) [--out <signed.json>] [--json] [--explain]")
	fmt.Println("  acp canon [--file <path>] [--json] [--explain]")
	fmt.Println("  acp keys init [--out-dir .acp/keys] [--force] [--json] [--explain]")
	fmt.Println("  acp doctor [--config .acp/config.yaml] [--mode local|telegram|gateway] [--offline] [--json] [--explain]")
	fmt.Println("  acp journal [--path <journal.jsonl>] [--json] [--explain]")
	fmt.Println("  acp version")
}
