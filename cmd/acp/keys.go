package main

import (
	"flag"
	"fmt"
	"io"
	"path/filepath"

	coreerrors "github.com/davidahmann/acp/core/errors"
	"github.com/davidahmann/acp/core/sign"
)

type keysInitOutput struct {
	OK bool `json:"ok"`
	errorFields
	KeyID          string `json:"key_id,omitempty"`
	PublicKey      string `json:"public_key,omitempty"`
	PublicKeyPath  string `json:"public_key_path,omitempty"`
	PrivateKeyPath string `json:"private_key_path,omitempty"`
}

func runKeys(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Manage ed25519 authority keys used to sign and verify consent proofs.")
	}
	if len(arguments) == 0 {
		printKeysUsage()
		return exitInvalidInput
	}
	if isHelpRequest(arguments) {
		printKeysUsage()
		return exitOK
	}
	switch arguments[0] {
	case "init":
		return runKeysInit(arguments[1:])
	default:
		printKeysUsage()
		return exitInvalidInput
	}
}

func runKeysInit(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Generate an ed25519 keypair and write PEM key files. The printed public key is the value to add to trusted keys.")
	}
	arguments = reorderInterspersedFlags(arguments, map[string]bool{"out-dir": true})

	flagSet := flag.NewFlagSet("keys-init", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var outDir string
	var force bool
	var jsonOutput bool
	var helpFlag bool

	flagSet.StringVar(&outDir, "out-dir", filepath.Join(".acp", "keys"), "directory for generated key files")
	flagSet.BoolVar(&force, "force", false, "overwrite existing key files")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeKeysInitOutput(jsonOutput, keysInitOutput{errorFields: errorFields{Error: err.Error()}}, exitInvalidInput)
	}
	if helpFlag {
		printKeysInitUsage()
		return exitOK
	}
	if len(flagSet.Args()) > 0 {
		return writeKeysInitOutput(jsonOutput, keysInitOutput{errorFields: errorFields{Error: "unexpected positional arguments"}}, exitInvalidInput)
	}

	output, err := createKeyPair(outDir, force)
	if err != nil {
		return writeKeysInitOutput(jsonOutput, keysInitOutput{errorFields: classifyError(err)}, exitCodeForError(err, exitInvalidInput))
	}
	return writeKeysInitOutput(jsonOutput, output, exitOK)
}

func createKeyPair(outDir string, force bool) (keysInitOutput, error) {
	keyPair, err := sign.GenerateKeyPair()
	if err != nil {
		return keysInitOutput{}, coreerrors.Wrap(err, coreerrors.CategoryInternalFailure, "entropy_unavailable", "", false)
	}
	publicKey, err := sign.EncodePublicKeyHex(keyPair.Public)
	if err != nil {
		return keysInitOutput{}, coreerrors.Wrap(err, coreerrors.CategoryInternalFailure, "key_encode_failed", "", false)
	}
	privatePath, publicPath, err := sign.WriteKeyPair(outDir, keyPair, force)
	if err != nil {
		return keysInitOutput{}, coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "key_write_failed", "pass --force to overwrite existing keys", false)
	}
	return keysInitOutput{
		OK:             true,
		KeyID:          sign.KeyID(keyPair.Public),
		PublicKey:      publicKey,
		PublicKeyPath:  publicPath,
		PrivateKeyPath: privatePath,
	}, nil
}

func writeKeysInitOutput(jsonOutput bool, output keysInitOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.OK {
		fmt.Printf("keys init ok: key_id=%s public=%s private=%s\n", output.KeyID, output.PublicKeyPath, output.PrivateKeyPath)
		fmt.Printf("trusted key: %s\n", output.PublicKey)
		return exitCode
	}
	fmt.Printf("keys init error: %s\n", output.Error)
	return exitCode
}

func printKeysUsage() {
	fmt.Println("Usage:")
	fmt.Println("  acp keys init [--out-dir .acp/keys] [--force] [--json] [--explain]")
}

func printKeysInitUsage() {
	printKeysUsage()
}
