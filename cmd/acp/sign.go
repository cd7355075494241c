package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"

	coreerrors "github.com/davidahmann/acp/core/errors"
	"github.com/davidahmann/acp/core/fsx"
	"github.com/davidahmann/acp/core/proof"
	"github.com/davidahmann/acp/core/sign"
)

type signOutput struct {
	OK bool `json:"ok"`
	errorFields
	RequestID         string `json:"request_id,omitempty"`
	Decision          string `json:"decision,omitempty"`
	KeyID             string `json:"key_id,omitempty"`
	SignedPayloadHash string `json:"signed_payload_hash,omitempty"`
	Path              string `json:"path,omitempty"`
}

// runSign attaches a proof to a response the way a consent authority does.
// It exists for fixtures and for testing verifiers.
func runSign(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Sign a consent response with an ed25519 authority key, binding it to the request id, nonce and parameters of the request it answers.")
	}
	arguments = reorderInterspersedFlags(arguments, map[string]bool{
		"request":         true,
		"response":        true,
		"private-key":     true,
		"private-key-env": true,
		"out":             true,
	})

	flagSet := flag.NewFlagSet("sign", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var requestPath string
	var responsePath string
	var privateKeyPath string
	var privateKeyEnv string
	var outPath string
	var jsonOutput bool
	var helpFlag bool

	flagSet.StringVar(&requestPath, "request", "", "consent request JSON")
	flagSet.StringVar(&responsePath, "response", "", "consent response JSON")
	flagSet.StringVar(&privateKeyPath, "private-key", "", "path to the authority private key")
	flagSet.StringVar(&privateKeyEnv, "private-key-env", "", "env var holding the authority private key (default ACP_SIGNING_KEY)")
	flagSet.StringVar(&outPath, "out", "", "write the signed response here instead of stdout")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeSignOutput(jsonOutput, signOutput{errorFields: errorFields{Error: err.Error()}}, exitInvalidInput)
	}
	if helpFlag {
		printSignUsage()
		return exitOK
	}
	if len(flagSet.Args()) > 0 {
		return writeSignOutput(jsonOutput, signOutput{errorFields: errorFields{Error: "unexpected positional arguments"}}, exitInvalidInput)
	}
	if strings.TrimSpace(requestPath) == "" || strings.TrimSpace(responsePath) == "" {
		return writeSignOutput(jsonOutput, signOutput{errorFields: errorFields{Error: "both --request and --response are required"}}, exitInvalidInput)
	}

	if privateKeyPath == "" && privateKeyEnv == "" {
		privateKeyEnv = sign.EnvSigningKey
	}
	keyPair, _, err := sign.LoadSigningKey(sign.KeyConfig{
		Mode:           sign.ModeProd,
		PrivateKeyPath: privateKeyPath,
		PrivateKeyEnv:  privateKeyEnv,
	})
	if err != nil {
		err = coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "signing_key_invalid", "pass --private-key, --private-key-env or set "+sign.EnvSigningKey, false)
		return writeSignOutput(jsonOutput, signOutput{errorFields: classifyError(err)}, exitInvalidInput)
	}
	request, err := loadRequestFile(requestPath)
	if err != nil {
		return writeSignOutput(jsonOutput, signOutput{errorFields: classifyError(err)}, exitCodeForError(err, exitInvalidInput))
	}
	response, err := loadResponseFile(responsePath)
	if err != nil {
		return writeSignOutput(jsonOutput, signOutput{errorFields: classifyError(err)}, exitCodeForError(err, exitInvalidInput))
	}
	if response.RequestID != request.ID {
		return writeSignOutput(jsonOutput, signOutput{errorFields: errorFields{Error: fmt.Sprintf("response answers %s, not %s", response.RequestID, request.ID)}}, exitInvalidInput)
	}

	signed, err := proof.Sign(keyPair.Private, proof.PayloadFor(request, response))
	if err != nil {
		return writeSignOutput(jsonOutput, signOutput{errorFields: classifyError(err)}, exitInternalFailure)
	}
	response.Proof = &signed
	response.Nonce = request.Nonce
	encoded, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		return writeSignOutput(jsonOutput, signOutput{errorFields: classifyError(err)}, exitInternalFailure)
	}
	output := signOutput{
		OK:                true,
		RequestID:         request.ID,
		Decision:          string(response.Decision),
		KeyID:             sign.KeyID(keyPair.Public),
		SignedPayloadHash: signed.SignedPayloadHash,
	}
	if outPath == "" {
		if jsonOutput {
			return writeSignOutput(jsonOutput, signOutput{errorFields: errorFields{Error: "--json needs --out for the signed response"}}, exitInvalidInput)
		}
		fmt.Println(string(encoded))
		return exitOK
	}
	if err := fsx.WriteFileAtomic(outPath, append(encoded, '\n'), 0o644); err != nil {
		err = coreerrors.Wrap(err, coreerrors.CategoryIOFailure, "output_write_failed", "", false)
		return writeSignOutput(jsonOutput, signOutput{errorFields: classifyError(err)}, exitInternalFailure)
	}
	output.Path = outPath
	return writeSignOutput(jsonOutput, output, exitOK)
}

func writeSignOutput(jsonOutput bool, output signOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.OK {
		fmt.Printf("sign ok: request=%s key_id=%s path=%s\n", output.RequestID, output.KeyID, output.Path)
		return exitCode
	}
	fmt.Printf("sign error: %s\n", output.Error)
	return exitCode
}

func printSignUsage() {
	fmt.Println("Usage:")
	fmt.Println("  acp sign --request <request.json> --response <response.json> (--private-key <path>|--private-key-env <VAR>) [--out <signed.json>] [--json] [--explain]")
}
