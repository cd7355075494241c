package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	coreerrors "github.com/davidahmann/acp/core/errors"
)

func envFrom(values map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		value, ok := values[name]
		return value, ok
	}
}

func writeProjectFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	settings, err := Load(LoadOptions{LookupEnv: envFrom(nil)})
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if settings.AgentID != DefaultAgentID || settings.Timeout != DefaultTimeout || settings.PollInterval != DefaultPollInterval {
		t.Fatalf("unexpected defaults: %#v", settings)
	}
	if settings.Mode != "" || settings.GatewayURL != "" || settings.TelegramToken != "" {
		t.Fatalf("expected no channel configuration: %#v", settings)
	}
}

func TestLoadProjectFileAllowMissing(t *testing.T) {
	file, err := LoadProjectFile(filepath.Join(t.TempDir(), "missing.yaml"), true)
	if err != nil {
		t.Fatalf("load allow missing: %v", err)
	}
	if file.Agent.ID != "" {
		t.Fatalf("expected empty file, got %#v", file)
	}
	if _, err := LoadProjectFile(filepath.Join(t.TempDir(), "missing.yaml"), false); err == nil {
		t.Fatal("expected missing required config error")
	}
	if _, err := LoadProjectFile("  ", true); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestLoadProjectFileParsesAndNormalizes(t *testing.T) {
	path := writeProjectFile(t, `
agent:
  id: " billing-agent "
  framework: " langchain "
channel:
  mode: " Gateway "
  timeout: " 5m "
  poll_interval: " 500ms "
gateway:
  url: " https://consent.example.com "
  api_key_env: " BILLING_GATEWAY_KEY "
proof:
  trusted_keys: [" aa11 ", "", "bb22"]
  require_signature: true
  allow_any_key: true
journal:
  path: " .acp/journal.jsonl "
policy:
  auto_approve_low_risk: true
`)
	file, err := LoadProjectFile(path, false)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if file.Agent.ID != "billing-agent" || file.Channel.Mode != "gateway" || file.Gateway.APIKeyEnv != "BILLING_GATEWAY_KEY" {
		t.Fatalf("unexpected normalization: %#v", file)
	}
	if !reflect.DeepEqual(file.Proof.TrustedKeys, []string{"aa11", "bb22"}) {
		t.Fatalf("unexpected trusted keys: %#v", file.Proof.TrustedKeys)
	}

	settings, err := Load(LoadOptions{
		ProjectPath: path,
		LookupEnv:   envFrom(map[string]string{"BILLING_GATEWAY_KEY": "secret"}),
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.GatewayURL != "https://consent.example.com" || settings.GatewayAPIKey != "secret" {
		t.Fatalf("unexpected gateway settings: %#v", settings)
	}
	if settings.Timeout != 5*time.Minute || settings.PollInterval != 500*time.Millisecond {
		t.Fatalf("unexpected durations: %v %v", settings.Timeout, settings.PollInterval)
	}
	if !settings.RequireSignature || !settings.AutoApproveLowRisk || !settings.AllowAnyKey {
		t.Fatalf("expected boolean switches from file: %#v", settings)
	}
	if settings.JournalPath != ".acp/journal.jsonl" {
		t.Fatalf("unexpected journal path: %q", settings.JournalPath)
	}
}

func TestLoadPrecedence(t *testing.T) {
	path := writeProjectFile(t, `
agent:
  id: file-agent
  name: File Agent
channel:
  timeout: 10m
gateway:
  url: https://file.example.com
`)
	env := envFrom(map[string]string{
		EnvGatewayURL:     "https://env.example.com",
		EnvAgentID:        "env-agent",
		EnvTimeoutSeconds: "30",
		EnvTrustedKeys:    "k1, k2 ,,",
		EnvMode:           "TELEGRAM",
	})
	settings, err := Load(LoadOptions{
		ProjectPath: path,
		LookupEnv:   env,
		Explicit:    Settings{AgentID: "explicit-agent", Mode: "local"},
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.AgentID != "explicit-agent" {
		t.Fatalf("explicit must win, got %q", settings.AgentID)
	}
	if settings.AgentName != "File Agent" {
		t.Fatalf("file value must survive when nothing overrides it, got %q", settings.AgentName)
	}
	if settings.GatewayURL != "https://env.example.com" {
		t.Fatalf("env must beat file, got %q", settings.GatewayURL)
	}
	if settings.Timeout != 30*time.Second {
		t.Fatalf("env timeout must beat file, got %v", settings.Timeout)
	}
	if settings.Mode != "local" {
		t.Fatalf("explicit mode must win, got %q", settings.Mode)
	}
	if !reflect.DeepEqual(settings.TrustedKeys, []string{"k1", "k2"}) {
		t.Fatalf("unexpected trusted keys: %#v", settings.TrustedKeys)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	_, err := Load(LoadOptions{LookupEnv: envFrom(map[string]string{EnvTimeoutSeconds: "soon"})})
	if err == nil {
		t.Fatal("expected invalid timeout error")
	}
	if coreerrors.CategoryOf(err) != coreerrors.CategoryInvalidInput || coreerrors.CodeOf(err) != "timeout_invalid" {
		t.Fatalf("unexpected classification: %s/%s", coreerrors.CategoryOf(err), coreerrors.CodeOf(err))
	}

	_, err = Load(LoadOptions{LookupEnv: envFrom(map[string]string{EnvAllowAnyKey: "maybe"})})
	if coreerrors.CodeOf(err) != "allow_any_key_invalid" {
		t.Fatalf("expected allow_any_key_invalid, got %v", err)
	}
	allowed, err := Load(LoadOptions{LookupEnv: envFrom(map[string]string{EnvAllowAnyKey: "true"})})
	if err != nil || !allowed.AllowAnyKey {
		t.Fatalf("expected env to enable allow any key: %#v %v", allowed, err)
	}

	path := writeProjectFile(t, "channel:\n  poll_interval: -1s\n")
	if _, err := Load(LoadOptions{ProjectPath: path, LookupEnv: envFrom(nil)}); err == nil {
		t.Fatal("expected negative poll interval to be rejected")
	}

	broken := writeProjectFile(t, "agent: [unterminated\n")
	_, err = Load(LoadOptions{ProjectPath: broken, LookupEnv: envFrom(nil)})
	if coreerrors.CodeOf(err) != "project_config_invalid" {
		t.Fatalf("expected project_config_invalid, got %v", err)
	}

	if _, err := Load(LoadOptions{ProjectPath: filepath.Join(t.TempDir(), "absent.yaml"), LookupEnv: envFrom(nil)}); err == nil {
		t.Fatal("expected explicit missing project file to fail")
	}
}
