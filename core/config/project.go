package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

const DefaultPath = ".acp/config.yaml"

// ProjectFile is the optional per-project configuration file. Secrets are
// never stored here; the file names the environment variables that hold them.
type ProjectFile struct {
	Agent    AgentDefaults    `yaml:"agent"`
	Channel  ChannelDefaults  `yaml:"channel"`
	Proof    ProofDefaults    `yaml:"proof"`
	Journal  JournalDefaults  `yaml:"journal"`
	Policy   PolicyDefaults   `yaml:"policy"`
	Tracing  TracingDefaults  `yaml:"tracing"`
	Gateway  GatewayDefaults  `yaml:"gateway"`
	Telegram TelegramDefaults `yaml:"telegram"`
}

type AgentDefaults struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	Framework string `yaml:"framework"`
}

type ChannelDefaults struct {
	Mode         string `yaml:"mode"`
	Timeout      string `yaml:"timeout"`
	PollInterval string `yaml:"poll_interval"`
}

type GatewayDefaults struct {
	URL       string `yaml:"url"`
	APIKeyEnv string `yaml:"api_key_env"`
}

type TelegramDefaults struct {
	ChatID   string `yaml:"chat_id"`
	TokenEnv string `yaml:"token_env"`
}

type ProofDefaults struct {
	TrustedKeys      []string `yaml:"trusted_keys"`
	RequireSignature bool     `yaml:"require_signature"`
	AllowAnyKey      bool     `yaml:"allow_any_key"`
	RedisAddr        string   `yaml:"redis_addr"`
}

type JournalDefaults struct {
	Path string `yaml:"path"`
}

type PolicyDefaults struct {
	AutoApproveLowRisk bool `yaml:"auto_approve_low_risk"`
}

type TracingDefaults struct {
	Enabled bool   `yaml:"enabled"`
	Output  string `yaml:"output"`
}

func LoadProjectFile(path string, allowMissing bool) (ProjectFile, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return ProjectFile{}, fmt.Errorf("project config path is required")
	}

	// #nosec G304 -- project config path is explicit local user input.
	content, err := os.ReadFile(trimmedPath)
	if err != nil {
		if os.IsNotExist(err) && allowMissing {
			return ProjectFile{}, nil
		}
		return ProjectFile{}, fmt.Errorf("read project config: %w", err)
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		return ProjectFile{}, nil
	}

	var file ProjectFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return ProjectFile{}, fmt.Errorf("parse project config: %w", err)
	}
	file.normalize()
	return file, nil
}

func (file *ProjectFile) normalize() {
	file.Agent.ID = strings.TrimSpace(file.Agent.ID)
	file.Agent.Name = strings.TrimSpace(file.Agent.Name)
	file.Agent.Framework = strings.TrimSpace(file.Agent.Framework)
	file.Channel.Mode = strings.ToLower(strings.TrimSpace(file.Channel.Mode))
	file.Channel.Timeout = strings.TrimSpace(file.Channel.Timeout)
	file.Channel.PollInterval = strings.TrimSpace(file.Channel.PollInterval)
	file.Gateway.URL = strings.TrimSpace(file.Gateway.URL)
	file.Gateway.APIKeyEnv = strings.TrimSpace(file.Gateway.APIKeyEnv)
	file.Telegram.ChatID = strings.TrimSpace(file.Telegram.ChatID)
	file.Telegram.TokenEnv = strings.TrimSpace(file.Telegram.TokenEnv)
	file.Proof.RedisAddr = strings.TrimSpace(file.Proof.RedisAddr)
	file.Proof.TrustedKeys = compact(file.Proof.TrustedKeys)
	file.Journal.Path = strings.TrimSpace(file.Journal.Path)
	file.Tracing.Output = strings.TrimSpace(file.Tracing.Output)
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
