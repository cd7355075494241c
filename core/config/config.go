package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	coreerrors "github.com/davidahmann/acp/core/errors"
)

const (
	EnvGatewayURL     = "ACP_GATEWAY_URL"
	EnvGatewayAPIKey  = "ACP_GATEWAY_API_KEY"
	EnvTelegramToken  = "ACP_TELEGRAM_TOKEN"
	EnvTelegramChatID = "ACP_TELEGRAM_CHAT_ID"
	EnvAgentID        = "ACP_AGENT_ID"
	EnvAgentName      = "ACP_AGENT_NAME"
	EnvTimeoutSeconds = "ACP_TIMEOUT_SECONDS"
	EnvMode           = "ACP_MODE"
	EnvTrustedKeys    = "ACP_TRUSTED_KEYS"
	EnvJournalPath    = "ACP_JOURNAL_PATH"
	EnvRedisAddr      = "ACP_REDIS_ADDR"
	EnvAllowAnyKey    = "ACP_ALLOW_ANY_KEY"
)

const (
	DefaultAgentID      = "default"
	DefaultTimeout      = 900 * time.Second
	DefaultPollInterval = 2 * time.Second
)

// Settings is the resolved client configuration. It is read-only once a client
// has been built from it.
type Settings struct {
	Mode             string
	GatewayURL       string
	GatewayAPIKey    string
	TelegramToken    string
	TelegramChatID   string
	AgentID          string
	AgentName        string
	Framework        string
	Timeout          time.Duration
	PollInterval     time.Duration
	TrustedKeys      []string
	RequireSignature bool
	// AllowAnyKey reports proofs from any key as fully verified when
	// TrustedKeys is empty.
	AllowAnyKey        bool
	RedisAddr          string
	JournalPath        string
	AutoApproveLowRisk bool
	TraceOutput        string
	Tracing            bool
}

type LoadOptions struct {
	// ProjectPath defaults to DefaultPath. A missing default file is ignored;
	// a missing explicit file is an error.
	ProjectPath string
	LookupEnv   func(string) (string, bool)
	Explicit    Settings
}

// Load resolves settings with precedence explicit > environment > project file
// > defaults.
func Load(opts LoadOptions) (Settings, error) {
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	path := strings.TrimSpace(opts.ProjectPath)
	allowMissing := path == ""
	if path == "" {
		path = DefaultPath
	}
	file, err := LoadProjectFile(path, allowMissing)
	if err != nil {
		return Settings{}, coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "project_config_invalid", "fix "+path, false)
	}

	settings := Defaults()
	if err := settings.applyFile(file, lookup); err != nil {
		return Settings{}, err
	}
	if err := settings.applyEnv(lookup); err != nil {
		return Settings{}, err
	}
	settings.applyExplicit(opts.Explicit)
	return settings, nil
}

func Defaults() Settings {
	return Settings{
		AgentID:      DefaultAgentID,
		Timeout:      DefaultTimeout,
		PollInterval: DefaultPollInterval,
	}
}

func (s *Settings) applyFile(file ProjectFile, lookup func(string) (string, bool)) error {
	setString(&s.AgentID, file.Agent.ID)
	setString(&s.AgentName, file.Agent.Name)
	setString(&s.Framework, file.Agent.Framework)
	setString(&s.Mode, file.Channel.Mode)
	setString(&s.GatewayURL, file.Gateway.URL)
	setString(&s.TelegramChatID, file.Telegram.ChatID)
	setString(&s.RedisAddr, file.Proof.RedisAddr)
	setString(&s.JournalPath, file.Journal.Path)
	setString(&s.TraceOutput, file.Tracing.Output)
	if file.Gateway.APIKeyEnv != "" {
		setString(&s.GatewayAPIKey, envValue(lookup, file.Gateway.APIKeyEnv))
	}
	if file.Telegram.TokenEnv != "" {
		setString(&s.TelegramToken, envValue(lookup, file.Telegram.TokenEnv))
	}
	if len(file.Proof.TrustedKeys) > 0 {
		s.TrustedKeys = append([]string(nil), file.Proof.TrustedKeys...)
	}
	s.RequireSignature = s.RequireSignature || file.Proof.RequireSignature
	s.AllowAnyKey = s.AllowAnyKey || file.Proof.AllowAnyKey
	s.AutoApproveLowRisk = s.AutoApproveLowRisk || file.Policy.AutoApproveLowRisk
	s.Tracing = s.Tracing || file.Tracing.Enabled

	if file.Channel.Timeout != "" {
		timeout, err := parsePositiveDuration(file.Channel.Timeout)
		if err != nil {
			return coreerrors.Configuration("project_config_invalid", "channel.timeout: %v", err)
		}
		s.Timeout = timeout
	}
	if file.Channel.PollInterval != "" {
		interval, err := parsePositiveDuration(file.Channel.PollInterval)
		if err != nil {
			return coreerrors.Configuration("project_config_invalid", "channel.poll_interval: %v", err)
		}
		s.PollInterval = interval
	}
	return nil
}

func (s *Settings) applyEnv(lookup func(string) (string, bool)) error {
	setString(&s.GatewayURL, envValue(lookup, EnvGatewayURL))
	setString(&s.GatewayAPIKey, envValue(lookup, EnvGatewayAPIKey))
	setString(&s.TelegramToken, envValue(lookup, EnvTelegramToken))
	setString(&s.TelegramChatID, envValue(lookup, EnvTelegramChatID))
	setString(&s.AgentID, envValue(lookup, EnvAgentID))
	setString(&s.AgentName, envValue(lookup, EnvAgentName))
	setString(&s.Mode, strings.ToLower(envValue(lookup, EnvMode)))
	setString(&s.JournalPath, envValue(lookup, EnvJournalPath))
	setString(&s.RedisAddr, envValue(lookup, EnvRedisAddr))
	if keys := splitList(envValue(lookup, EnvTrustedKeys)); len(keys) > 0 {
		s.TrustedKeys = keys
	}
	if raw := envValue(lookup, EnvAllowAnyKey); raw != "" {
		allow, err := strconv.ParseBool(raw)
		if err != nil {
			return coreerrors.Configuration("allow_any_key_invalid", "%s must be a boolean, got %q", EnvAllowAnyKey, raw)
		}
		s.AllowAnyKey = allow
	}
	if raw := envValue(lookup, EnvTimeoutSeconds); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return coreerrors.Configuration("timeout_invalid", "%s must be a positive number of seconds, got %q", EnvTimeoutSeconds, raw)
		}
		s.Timeout = time.Duration(seconds) * time.Second
	}
	return nil
}

func (s *Settings) applyExplicit(explicit Settings) {
	setString(&s.Mode, strings.ToLower(strings.TrimSpace(explicit.Mode)))
	setString(&s.GatewayURL, explicit.GatewayURL)
	setString(&s.GatewayAPIKey, explicit.GatewayAPIKey)
	setString(&s.TelegramToken, explicit.TelegramToken)
	setString(&s.TelegramChatID, explicit.TelegramChatID)
	setString(&s.AgentID, explicit.AgentID)
	setString(&s.AgentName, explicit.AgentName)
	setString(&s.Framework, explicit.Framework)
	setString(&s.RedisAddr, explicit.RedisAddr)
	setString(&s.JournalPath, explicit.JournalPath)
	setString(&s.TraceOutput, explicit.TraceOutput)
	if explicit.Timeout > 0 {
		s.Timeout = explicit.Timeout
	}
	if explicit.PollInterval > 0 {
		s.PollInterval = explicit.PollInterval
	}
	if len(explicit.TrustedKeys) > 0 {
		s.TrustedKeys = append([]string(nil), explicit.TrustedKeys...)
	}
	s.RequireSignature = s.RequireSignature || explicit.RequireSignature
	s.AllowAnyKey = s.AllowAnyKey || explicit.AllowAnyKey
	s.AutoApproveLowRisk = s.AutoApproveLowRisk || explicit.AutoApproveLowRisk
	s.Tracing = s.Tracing || explicit.Tracing
}

func setString(target *string, value string) {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		*target = trimmed
	}
}

func envValue(lookup func(string) (string, bool), name string) string {
	value, ok := lookup(name)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	return compact(strings.Split(raw, ","))
}

func parsePositiveDuration(raw string) (time.Duration, error) {
	duration, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if duration <= 0 {
		return 0, strconv.ErrRange
	}
	return duration, nil
}
