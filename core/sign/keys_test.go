package sign

import (
	"encoding/base64"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func lookupFrom(values map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		value, ok := values[name]
		return value, ok
	}
}

func TestLoadSigningKeyDev(t *testing.T) {
	kp, warnings, err := LoadSigningKey(KeyConfig{Mode: ModeDev})
	if err != nil {
		t.Fatalf("load signing key: %v", err)
	}
	if len(warnings) != 1 || warnings[0] != DevKeyWarning {
		t.Fatalf("expected dev warning, got %v", warnings)
	}
	if len(kp.Private) == 0 || len(kp.Public) == 0 {
		t.Fatalf("expected generated keypair")
	}
	if _, _, err := LoadSigningKey(KeyConfig{Mode: ModeDev, PrivateKeyEnv: EnvSigningKey}); err == nil {
		t.Fatalf("expected error for dev mode with explicit keys")
	}
}

func TestLoadSigningKeyProd(t *testing.T) {
	if _, _, err := LoadSigningKey(KeyConfig{Mode: ModeProd}); err == nil {
		t.Fatalf("expected error for missing prod key")
	}
	if _, _, err := LoadSigningKey(KeyConfig{Mode: "staging"}); err == nil {
		t.Fatalf("expected unsupported mode error")
	}

	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	other, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	cfg := KeyConfig{
		PrivateKeyEnv: EnvSigningKey,
		PublicKeyEnv:  EnvVerifyKey,
		LookupEnv: lookupFrom(map[string]string{
			EnvSigningKey: base64.StdEncoding.EncodeToString(kp.Private),
			EnvVerifyKey:  hex.EncodeToString(kp.Public),
		}),
	}
	loaded, warnings, err := LoadSigningKey(cfg)
	if err != nil {
		t.Fatalf("load signing key: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("expected no warnings in prod")
	}
	if !loaded.Private.Equal(kp.Private) || !loaded.Public.Equal(kp.Public) {
		t.Fatalf("loaded keypair mismatch")
	}

	cfg.LookupEnv = lookupFrom(map[string]string{
		EnvSigningKey: base64.StdEncoding.EncodeToString(kp.Private),
		EnvVerifyKey:  hex.EncodeToString(other.Public),
	})
	if _, _, err := LoadSigningKey(cfg); err == nil {
		t.Fatalf("expected mismatch error")
	}

	cfg.LookupEnv = lookupFrom(map[string]string{EnvSigningKey: "   "})
	if _, _, err := LoadSigningKey(cfg); err == nil {
		t.Fatalf("expected blank env to count as unset")
	}
}

func TestWriteKeyPairRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	dir := filepath.Join(t.TempDir(), "keys")
	privPath, pubPath, err := WriteKeyPair(dir, kp, false)
	if err != nil {
		t.Fatalf("write keypair: %v", err)
	}
	loaded, _, err := LoadSigningKey(KeyConfig{Mode: ModeProd, PrivateKeyPath: privPath, PublicKeyPath: pubPath})
	if err != nil {
		t.Fatalf("load written keypair: %v", err)
	}
	if !loaded.Public.Equal(kp.Public) {
		t.Fatalf("public key mismatch after round trip")
	}
	pub, err := LoadVerifyKey(KeyConfig{PublicKeyPath: pubPath})
	if err != nil {
		t.Fatalf("load verify key: %v", err)
	}
	if !pub.Equal(kp.Public) {
		t.Fatalf("verify key mismatch")
	}
	fromPriv, err := LoadVerifyKey(KeyConfig{PrivateKeyPath: privPath})
	if err != nil {
		t.Fatalf("derive verify key: %v", err)
	}
	if !fromPriv.Equal(kp.Public) {
		t.Fatalf("derived verify key mismatch")
	}

	if _, _, err := WriteKeyPair(dir, kp, false); err == nil {
		t.Fatalf("expected existing key files to be protected")
	}
	if _, _, err := WriteKeyPair(dir, kp, true); err != nil {
		t.Fatalf("overwrite keypair: %v", err)
	}
	info, err := os.Stat(privPath)
	if err != nil {
		t.Fatalf("stat private key: %v", err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		t.Fatalf("private key must not be group or world readable: %v", info.Mode().Perm())
	}
}

func TestLoadVerifyKeyErrors(t *testing.T) {
	if _, err := LoadVerifyKey(KeyConfig{}); err == nil {
		t.Fatalf("expected unconfigured error")
	}
	if _, err := LoadVerifyKey(KeyConfig{PublicKeyPath: "a", PublicKeyEnv: EnvVerifyKey}); err == nil {
		t.Fatalf("expected ambiguous source error")
	}
	if _, err := LoadVerifyKey(KeyConfig{PublicKeyEnv: EnvVerifyKey, LookupEnv: lookupFrom(nil)}); err == nil {
		t.Fatalf("expected missing env error")
	}
	if _, err := LoadVerifyKey(KeyConfig{PublicKeyPath: filepath.Join(t.TempDir(), "missing.pub")}); err == nil {
		t.Fatalf("expected missing file error")
	}
}
