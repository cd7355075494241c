package proof

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	coreerrors "github.com/davidahmann/acp/core/errors"
	"github.com/davidahmann/acp/core/jcs"
	"github.com/davidahmann/acp/core/replay"
	schemaconsent "github.com/davidahmann/acp/core/schema/v1/consent"
	"github.com/davidahmann/acp/core/sign"
)

type Level string

const (
	LevelFull       Level = "full"
	LevelUnanchored Level = "unanchored"
	LevelHashOnly   Level = "hash_only"
)

const (
	CodeMissingProof     = "proof_missing"
	CodeUntrustedKey     = "untrusted_key"
	CodePayloadMismatch  = "payload_mismatch"
	CodeInvalidSignature = "invalid_signature"
	CodeNonceReplayed    = "nonce_replayed"
)

const DefaultReplayTTL = 24 * time.Hour

const DegradedNoTrustedKeys = "no trusted keys configured"

type ProofError struct {
	Code string
	Err  error
}

func (e *ProofError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return e.Code
	}
	return e.Code + ": " + e.Err.Error()
}

func (e *ProofError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// CodeOf returns the proof failure code carried by err, if any.
func CodeOf(err error) string {
	var proofErr *ProofError
	if errors.As(err, &proofErr) {
		return proofErr.Code
	}
	return ""
}

// Result describes a successful verification. Degraded is set whenever the
// signature step did not run or the key was not checked against a trust list.
type Result struct {
	Level       Level  `json:"level"`
	Degraded    string `json:"degraded,omitempty"`
	PayloadHash string `json:"payload_hash"`
	KeyID       string `json:"key_id,omitempty"`
}

func (r Result) Full() bool {
	return r.Level == LevelFull
}

// Payload is the decision content a proof commits to.
type Payload struct {
	RequestID     string
	Decision      schemaconsent.Decision
	Nonce         string
	Timestamp     string
	Parameters    map[string]any
	Modifications map[string]any
	ValidUntil    string
}

type signedPayload struct {
	RequestID         string  `json:"request_id"`
	Decision          string  `json:"decision"`
	Nonce             string  `json:"nonce"`
	Timestamp         string  `json:"timestamp"`
	ActionHash        string  `json:"action_hash"`
	ModificationsHash *string `json:"modifications_hash"`
	ValidUntil        string  `json:"valid_until"`
}

// Canonical returns the canonical text that is hashed and signed.
func (p Payload) Canonical() (string, error) {
	parameters := p.Parameters
	if parameters == nil {
		parameters = map[string]any{}
	}
	actionHash, err := jcs.HashValue(parameters)
	if err != nil {
		return "", fmt.Errorf("hash action parameters: %w", err)
	}
	payload := signedPayload{
		RequestID:  p.RequestID,
		Decision:   string(p.Decision),
		Nonce:      p.Nonce,
		Timestamp:  p.Timestamp,
		ActionHash: actionHash,
		ValidUntil: p.ValidUntil,
	}
	if len(p.Modifications) > 0 {
		modificationsHash, err := jcs.HashValue(p.Modifications)
		if err != nil {
			return "", fmt.Errorf("hash modifications: %w", err)
		}
		payload.ModificationsHash = &modificationsHash
	}
	return jcs.Canonicalize(payload)
}

func (p Payload) Hash() (string, error) {
	canonical, err := p.Canonical()
	if err != nil {
		return "", err
	}
	return jcs.ContentHash(canonical), nil
}

// PayloadFor binds a response to the request it answers. Request id, nonce and
// parameters come from the request; valid_until comes from the signed response.
func PayloadFor(request schemaconsent.ConsentRequest, response schemaconsent.ConsentResponse) Payload {
	payload := Payload{
		RequestID:     request.ID,
		Decision:      response.Decision,
		Nonce:         request.Nonce,
		Timestamp:     response.Timestamp,
		Parameters:    request.Action.Parameters,
		Modifications: response.Modifications,
	}
	if response.Conditions != nil {
		payload.ValidUntil = response.Conditions.ValidUntil
	}
	return payload
}

type options struct {
	skipSignature    bool
	requireSignature bool
	allowAnyKey      bool
	replay           replay.Store
	replayTTL        time.Duration
}

type Option func(*options)

// WithoutSignatureCheck limits verification to the payload hash. Results are
// reported as hash_only.
func WithoutSignatureCheck() Option {
	return func(o *options) {
		o.skipSignature = true
	}
}

// AllowAnyKey accepts a valid signature from any key when the trusted list is
// empty and reports it as full.
func AllowAnyKey() Option {
	return func(o *options) {
		o.allowAnyKey = true
	}
}

// RequireSignature turns every hash_only outcome into invalid_signature and an
// unanchored one into untrusted_key.
func RequireSignature() Option {
	return func(o *options) {
		o.requireSignature = true
	}
}

// WithReplayGuard consumes the request nonce after a successful verification.
func WithReplayGuard(store replay.Store, ttl time.Duration) Option {
	return func(o *options) {
		o.replay = store
		o.replayTTL = ttl
	}
}

func buildOptions(opts []Option) options {
	resolved := options{replayTTL: DefaultReplayTTL}
	for _, opt := range opts {
		if opt != nil {
			opt(&resolved)
		}
	}
	if resolved.replayTTL <= 0 {
		resolved.replayTTL = DefaultReplayTTL
	}
	return resolved
}

// Verify checks trust membership, payload hash and signature in that order and
// stops at the first failure. With an empty trusted list a valid signature is
// reported as unanchored unless AllowAnyKey is set.
func Verify(p schemaconsent.ConsentProof, in Payload, trusted []string, opts ...Option) (Result, error) {
	resolved := buildOptions(opts)

	var pub ed25519.PublicKey
	parsed, parseErr := sign.ParsePublicKey(p.PublicKey)
	if parseErr == nil {
		pub = parsed
	}
	if len(trusted) > 0 && !isTrusted(p.PublicKey, pub, trusted) {
		return Result{}, fail(CodeUntrustedKey, fmt.Errorf("public key is not in the trusted key list"))
	}

	if !jcs.IsContentHash(p.SignedPayloadHash) {
		return Result{}, fail(CodePayloadMismatch, fmt.Errorf("signed payload hash %q is not a sha256 content hash", p.SignedPayloadHash))
	}
	canonical, err := in.Canonical()
	if err != nil {
		return Result{}, fail(CodePayloadMismatch, err)
	}
	expected := jcs.ContentHash(canonical)
	if p.SignedPayloadHash != expected {
		return Result{}, fail(CodePayloadMismatch, fmt.Errorf("signed payload hash %q does not match reconstructed %q", p.SignedPayloadHash, expected))
	}

	result := Result{Level: LevelHashOnly, PayloadHash: expected}
	if pub != nil {
		result.KeyID = sign.KeyID(pub)
	}
	if resolved.skipSignature {
		return degrade(result, "signature verification disabled", resolved)
	}
	algorithm := strings.ToLower(strings.TrimSpace(p.Algorithm))
	if algorithm != sign.AlgEd25519 {
		return degrade(result, fmt.Sprintf("unsupported signature algorithm %q", p.Algorithm), resolved)
	}
	if parseErr != nil {
		return Result{}, fail(CodeInvalidSignature, parseErr)
	}
	sig, err := sign.ParseSignature(p.Signature)
	if err != nil {
		return Result{}, fail(CodeInvalidSignature, err)
	}
	ok, err := sign.VerifyBytes(pub, []byte(canonical), sig)
	if err != nil {
		return Result{}, fail(CodeInvalidSignature, err)
	}
	if !ok {
		return Result{}, fail(CodeInvalidSignature, fmt.Errorf("signature does not match payload"))
	}
	result.Level = LevelFull
	if len(trusted) == 0 && !resolved.allowAnyKey {
		if resolved.requireSignature {
			return Result{}, fail(CodeUntrustedKey, errors.New(DegradedNoTrustedKeys))
		}
		result.Level = LevelUnanchored
		result.Degraded = DegradedNoTrustedKeys
	}
	return result, nil
}

// VerifyResponse verifies the proof attached to response against the request it
// answers and, when a replay guard is configured, consumes the request nonce.
func VerifyResponse(ctx context.Context, request schemaconsent.ConsentRequest, response schemaconsent.ConsentResponse, trusted []string, opts ...Option) (Result, error) {
	if response.Proof == nil {
		return Result{}, fail(CodeMissingProof, fmt.Errorf("response for %s carries no proof", response.RequestID))
	}
	result, err := Verify(*response.Proof, PayloadFor(request, response), trusted, opts...)
	if err != nil {
		return Result{}, err
	}
	resolved := buildOptions(opts)
	if resolved.replay != nil {
		if err := resolved.replay.Consume(ctx, request.Nonce, resolved.replayTTL); err != nil {
			if errors.Is(err, replay.ErrReplayed) {
				return Result{}, fail(CodeNonceReplayed, err)
			}
			return Result{}, coreerrors.Wrap(err, coreerrors.CategoryIOFailure, "nonce_store_unavailable", "check the nonce store connection", true)
		}
	}
	return result, nil
}

// Sign produces an ed25519 proof over in. Public key and signature are hex
// encoded, the key as DER SubjectPublicKeyInfo.
func Sign(priv ed25519.PrivateKey, in Payload) (schemaconsent.ConsentProof, error) {
	canonical, err := in.Canonical()
	if err != nil {
		return schemaconsent.ConsentProof{}, err
	}
	publicKey, err := sign.EncodePublicKeyHex(priv.Public().(ed25519.PublicKey))
	if err != nil {
		return schemaconsent.ConsentProof{}, err
	}
	return schemaconsent.ConsentProof{
		Algorithm:         sign.AlgEd25519,
		PublicKey:         publicKey,
		Signature:         sign.EncodeSignatureHex(sign.SignBytes(priv, []byte(canonical))),
		SignedPayloadHash: jcs.ContentHash(canonical),
	}, nil
}

func degrade(result Result, reason string, resolved options) (Result, error) {
	if resolved.requireSignature {
		return Result{}, fail(CodeInvalidSignature, fmt.Errorf("signature required: %s", reason))
	}
	result.Level = LevelHashOnly
	result.Degraded = reason
	return result, nil
}

func isTrusted(encoded string, pub ed25519.PublicKey, trusted []string) bool {
	candidate := strings.TrimSpace(encoded)
	for _, entry := range trusted {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.EqualFold(entry, candidate) {
			return true
		}
		if pub == nil {
			continue
		}
		if trustedKey, err := sign.ParsePublicKey(entry); err == nil && bytes.Equal(trustedKey, pub) {
			return true
		}
	}
	return false
}

func fail(code string, err error) error {
	return coreerrors.Wrap(&ProofError{Code: code, Err: err}, coreerrors.CategoryVerification, code, "treat the decision as unauthenticated", false)
}
