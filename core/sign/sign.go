package sign

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
)

const AlgEd25519 = "ed25519"

type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

func KeyID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])
}

func SignBytes(priv ed25519.PrivateKey, data []byte) []byte {
	return ed25519.Sign(priv, data)
}

func VerifyBytes(pub ed25519.PublicKey, data, sig []byte) (bool, error) {
	if len(pub) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid public key length: %d", len(pub))
	}
	if len(sig) != ed25519.SignatureSize {
		return false, fmt.Errorf("invalid signature length: %d", len(sig))
	}
	return ed25519.Verify(pub, data, sig), nil
}

// EncodePublicKeyHex renders pub as hex of its DER SubjectPublicKeyInfo, the
// form carried in consent proofs.
func EncodePublicKeyHex(pub ed25519.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return hex.EncodeToString(der), nil
}

func EncodeSignatureHex(sig []byte) string {
	return hex.EncodeToString(sig)
}

// ParsePublicKey accepts hex or base64 text holding either the raw 32 byte key
// or a DER SubjectPublicKeyInfo, as well as PEM.
func ParsePublicKey(encoded string) (ed25519.PublicKey, error) {
	raw, err := decodeKeyText(encoded, "PUBLIC KEY")
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) == ed25519.PublicKeySize {
		return ed25519.PublicKey(raw), nil
	}
	parsed, err := x509.ParsePKIXPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid public key length: %d", len(raw))
	}
	pub, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not ed25519: %T", parsed)
	}
	return pub, nil
}

// ParsePrivateKey accepts hex or base64 text holding a 64 byte private key, a
// 32 byte seed or a DER PKCS#8 document, as well as PEM.
func ParsePrivateKey(encoded string) (ed25519.PrivateKey, error) {
	raw, err := decodeKeyText(encoded, "PRIVATE KEY")
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	switch len(raw) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid private key length: %d", len(raw))
	}
	priv, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not ed25519: %T", parsed)
	}
	return priv, nil
}

// ParseSignature accepts hex or base64 signature text.
func ParseSignature(encoded string) ([]byte, error) {
	raw, err := decodeText(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	if len(raw) != ed25519.SignatureSize {
		return nil, fmt.Errorf("invalid signature length: %d", len(raw))
	}
	return raw, nil
}

func LoadPrivateKeyFile(path string) (ed25519.PrivateKey, error) {
	// #nosec G304 -- caller supplies local key path by design
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	return ParsePrivateKey(string(b))
}

func LoadPublicKeyFile(path string) (ed25519.PublicKey, error) {
	// #nosec G304 -- caller supplies local key path by design
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	return ParsePublicKey(string(b))
}

func decodeKeyText(encoded, pemType string) ([]byte, error) {
	trimmed := strings.TrimSpace(encoded)
	if strings.HasPrefix(trimmed, "-----BEGIN") {
		block, _ := pem.Decode([]byte(trimmed))
		if block == nil || block.Type != pemType {
			return nil, fmt.Errorf("expected PEM block %q", pemType)
		}
		return block.Bytes, nil
	}
	return decodeText(trimmed)
}

func decodeText(encoded string) ([]byte, error) {
	trimmed := strings.TrimSpace(encoded)
	if trimmed == "" {
		return nil, fmt.Errorf("empty value")
	}
	if len(trimmed)%2 == 0 {
		if raw, err := hex.DecodeString(trimmed); err == nil {
			return raw, nil
		}
	}
	if raw, err := base64.StdEncoding.DecodeString(trimmed); err == nil {
		return raw, nil
	}
	if raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(trimmed, "=")); err == nil {
		return raw, nil
	}
	return nil, fmt.Errorf("value is neither hex nor base64")
}
