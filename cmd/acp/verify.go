package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/davidahmann/acp/core/config"
	coreerrors "github.com/davidahmann/acp/core/errors"
	"github.com/davidahmann/acp/core/proof"
	"github.com/davidahmann/acp/core/replay"
	"github.com/davidahmann/acp/core/sign"
)

type verifyOutput struct {
	OK bool `json:"ok"`
	errorFields
	RequestID   string      `json:"request_id,omitempty"`
	Decision    string      `json:"decision,omitempty"`
	Level       proof.Level `json:"level,omitempty"`
	Degraded    string      `json:"degraded,omitempty"`
	PayloadHash string      `json:"payload_hash,omitempty"`
	KeyID       string      `json:"key_id,omitempty"`
}

func runVerify(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Verify the signed proof on a consent response against the request it answers: trusted key, payload hash and ed25519 signature, in that order.")
	}
	arguments = reorderInterspersedFlags(arguments, map[string]bool{
		"request":          true,
		"response":         true,
		"trusted-key":      true,
		"trusted-key-file": true,
		"config":           true,
		"redis":            true,
	})

	flagSet := flag.NewFlagSet("verify", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var requestPath string
	var responsePath string
	var trusted multiFlag
	var trustedFiles multiFlag
	var configPath string
	var redisAddr string
	var requireSignature bool
	var hashOnly bool
	var allowAnyKey bool
	var jsonOutput bool
	var helpFlag bool

	flagSet.StringVar(&requestPath, "request", "", "consent request JSON")
	flagSet.StringVar(&responsePath, "response", "", "consent response JSON")
	flagSet.Var(&trusted, "trusted-key", "trusted authority public key (repeatable)")
	flagSet.Var(&trustedFiles, "trusted-key-file", "file holding a trusted authority public key (repeatable)")
	flagSet.StringVar(&configPath, "config", "", "project config path (default .acp/config.yaml)")
	flagSet.StringVar(&redisAddr, "redis", "", "consume the request nonce in this Redis nonce store")
	flagSet.BoolVar(&requireSignature, "require-signature", false, "fail when only the payload hash could be checked")
	flagSet.BoolVar(&hashOnly, "hash-only", false, "skip the signature check")
	flagSet.BoolVar(&allowAnyKey, "allow-any-key", false, "report a valid signature from any key as full when no trusted keys are configured")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeVerifyOutput(jsonOutput, verifyOutput{errorFields: errorFields{Error: err.Error()}}, exitInvalidInput)
	}
	if helpFlag {
		printVerifyUsage()
		return exitOK
	}
	if len(flagSet.Args()) > 0 {
		return writeVerifyOutput(jsonOutput, verifyOutput{errorFields: errorFields{Error: "unexpected positional arguments"}}, exitInvalidInput)
	}
	if strings.TrimSpace(requestPath) == "" || strings.TrimSpace(responsePath) == "" {
		return writeVerifyOutput(jsonOutput, verifyOutput{errorFields: errorFields{Error: "both --request and --response are required"}}, exitInvalidInput)
	}
	if requestPath == "-" && responsePath == "-" {
		return writeVerifyOutput(jsonOutput, verifyOutput{errorFields: errorFields{Error: "only one of --request and --response may read stdin"}}, exitInvalidInput)
	}

	for _, path := range trustedFiles {
		encoded, err := loadTrustedKeyFile(path)
		if err != nil {
			return writeVerifyOutput(jsonOutput, verifyOutput{errorFields: classifyError(err)}, exitInvalidInput)
		}
		trusted = append(trusted, encoded)
	}

	settings, err := config.Load(config.LoadOptions{
		ProjectPath: configPath,
		Explicit: config.Settings{
			TrustedKeys:      []string(trusted),
			RequireSignature: requireSignature,
			AllowAnyKey:      allowAnyKey,
			RedisAddr:        redisAddr,
		},
	})
	if err != nil {
		return writeVerifyOutput(jsonOutput, verifyOutput{errorFields: classifyError(err)}, exitCodeForError(err, exitInvalidInput))
	}
	request, err := loadRequestFile(requestPath)
	if err != nil {
		return writeVerifyOutput(jsonOutput, verifyOutput{errorFields: classifyError(err)}, exitCodeForError(err, exitInvalidInput))
	}
	response, err := loadResponseFile(responsePath)
	if err != nil {
		return writeVerifyOutput(jsonOutput, verifyOutput{errorFields: classifyError(err)}, exitCodeForError(err, exitInvalidInput))
	}
	output := verifyOutput{RequestID: request.ID, Decision: string(response.Decision)}
	if response.RequestID != request.ID {
		output.Error = fmt.Sprintf("response answers %s, not %s", response.RequestID, request.ID)
		output.ErrorCode = proof.CodePayloadMismatch
		return writeVerifyOutput(jsonOutput, output, exitVerifyFailed)
	}

	var opts []proof.Option
	if settings.RequireSignature {
		opts = append(opts, proof.RequireSignature())
	}
	if settings.AllowAnyKey {
		opts = append(opts, proof.AllowAnyKey())
	}
	if hashOnly {
		opts = append(opts, proof.WithoutSignatureCheck())
	}
	if settings.RedisAddr != "" {
		store := replay.NewRedisStore(settings.RedisAddr, "", 0)
		defer func() {
			_ = store.Close()
		}()
		opts = append(opts, proof.WithReplayGuard(store, proof.DefaultReplayTTL))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	result, err := proof.VerifyResponse(ctx, request, response, settings.TrustedKeys, opts...)
	if err != nil {
		output.errorFields = classifyError(err)
		return writeVerifyOutput(jsonOutput, output, exitCodeForError(err, exitVerifyFailed))
	}
	output.OK = true
	output.Level = result.Level
	output.Degraded = result.Degraded
	output.PayloadHash = result.PayloadHash
	output.KeyID = result.KeyID
	return writeVerifyOutput(jsonOutput, output, exitOK)
}

func loadTrustedKeyFile(path string) (string, error) {
	pub, err := sign.LoadVerifyKey(sign.KeyConfig{PublicKeyPath: path})
	if err != nil {
		return "", coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "trusted_key_invalid", "pass a PEM, hex or base64 ed25519 public key file", false)
	}
	return sign.EncodePublicKeyHex(pub)
}

func writeVerifyOutput(jsonOutput bool, output verifyOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.OK {
		fmt.Printf("verify ok: request=%s decision=%s level=%s payload_hash=%s\n", output.RequestID, output.Decision, output.Level, output.PayloadHash)
		if output.Degraded != "" {
			fmt.Printf("degraded: %s\n", output.Degraded)
		}
		return exitCode
	}
	fmt.Printf("verify failed: %s\n", output.Error)
	return exitCode
}

func printVerifyUsage() {
	fmt.Println("Usage:")
	fmt.Println("  acp verify --request <request.json> --response <response.json> [--trusted-key <key>]... [--trusted-key-file <path>]... [--require-signature] [--allow-any-key] [--hash-only] [--redis <addr>] [--config .acp/config.yaml] [--json] [--explain]")
}
