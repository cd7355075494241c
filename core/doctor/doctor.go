// Package doctor checks that a consent client can be built from the resolved
// settings and that the channel it would use is reachable.
package doctor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/davidahmann/acp/core/authority"
	"github.com/davidahmann/acp/core/config"
	"github.com/davidahmann/acp/core/consent"
	"github.com/davidahmann/acp/core/replay"
	"github.com/davidahmann/acp/core/sign"
	"github.com/mattn/go-isatty"
)

const (
	StatusPass = "pass"
	StatusWarn = "warn"
	StatusFail = "fail"
)

const probeTimeout = 5 * time.Second

type Options struct {
	Settings        config.Settings
	ProducerVersion string
	HTTPClient      *http.Client
	// Offline skips the authority and nonce store probes.
	Offline bool
}

type Result struct {
	CreatedAt       string   `json:"created_at"`
	ProducerVersion string   `json:"producer_version"`
	Mode            string   `json:"mode,omitempty"`
	Status          string   `json:"status"`
	Summary         string   `json:"summary"`
	FixCommands     []string `json:"fix_commands"`
	Checks          []Check  `json:"checks"`
}

type Check struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Message    string `json:"message"`
	FixCommand string `json:"fix_command,omitempty"`
}

func Run(ctx context.Context, opts Options) Result {
	producerVersion := strings.TrimSpace(opts.ProducerVersion)
	if producerVersion == "" {
		producerVersion = "0.0.0-dev"
	}
	settings := opts.Settings

	mode, modeCheck := checkMode(settings)
	checks := []Check{modeCheck}
	if modeCheck.Status != StatusFail {
		checks = append(checks, checkChannel(ctx, mode, settings, opts))
	}
	checks = append(checks,
		checkTrustedKeys(settings),
		checkJournal(settings.JournalPath),
		checkNonceStore(ctx, settings.RedisAddr, opts.Offline),
	)

	failed := 0
	warned := 0
	fixCommands := make([]string, 0, len(checks))
	seenFixes := map[string]struct{}{}
	for _, check := range checks {
		switch check.Status {
		case StatusFail:
			failed++
		case StatusWarn:
			warned++
		}
		if check.FixCommand != "" {
			if _, ok := seenFixes[check.FixCommand]; !ok {
				seenFixes[check.FixCommand] = struct{}{}
				fixCommands = append(fixCommands, check.FixCommand)
			}
		}
	}

	status := StatusPass
	if failed > 0 {
		status = StatusFail
	} else if warned > 0 {
		status = StatusWarn
	}
	sort.Strings(fixCommands)

	return Result{
		CreatedAt:       time.Now().UTC().Format(time.RFC3339Nano),
		ProducerVersion: producerVersion,
		Mode:            string(mode),
		Status:          status,
		Summary:         fmt.Sprintf("doctor: status=%s mode=%s failed=%d warned=%d", status, mode, failed, warned),
		FixCommands:     fixCommands,
		Checks:          checks,
	}
}

func checkMode(settings config.Settings) (consent.Mode, Check) {
	mode, err := consent.SelectMode(settings)
	if err != nil {
		return "", Check{
			Name:       "mode",
			Status:     StatusFail,
			Message:    err.Error(),
			FixCommand: "set " + config.EnvMode + " to local, telegram or gateway",
		}
	}
	source := "default"
	switch {
	case strings.TrimSpace(settings.Mode) != "":
		source = "explicit"
	case mode == consent.ModeGateway:
		source = "gateway url"
	case mode == consent.ModeTelegram:
		source = "telegram token"
	}
	return mode, Check{
		Name:    "mode",
		Status:  StatusPass,
		Message: fmt.Sprintf("mode %s selected (%s)", mode, source),
	}
}

func checkChannel(ctx context.Context, mode consent.Mode, settings config.Settings, opts Options) Check {
	switch mode {
	case consent.ModeGateway:
		client, err := authority.NewClient(authority.ClientOptions{
			BaseURL:    settings.GatewayURL,
			APIKey:     settings.GatewayAPIKey,
			HTTPClient: opts.HTTPClient,
		})
		if err != nil {
			return Check{Name: "channel", Status: StatusFail, Message: err.Error(), FixCommand: "export " + config.EnvGatewayURL + "=https://<authority>"}
		}
		if settings.GatewayAPIKey == "" {
			return Check{Name: "channel", Status: StatusWarn, Message: "no authority api key configured; requests are sent unauthenticated", FixCommand: "export " + config.EnvGatewayAPIKey + "=<key>"}
		}
		if opts.Offline {
			return Check{Name: "channel", Status: StatusPass, Message: "authority url is valid (not probed)"}
		}
		return probeAuthority(ctx, client.BaseURL(), opts.HTTPClient)
	case consent.ModeTelegram:
		var missing []string
		if settings.TelegramToken == "" {
			missing = append(missing, config.EnvTelegramToken)
		}
		if settings.TelegramChatID == "" {
			missing = append(missing, config.EnvTelegramChatID)
		}
		if len(missing) > 0 {
			return Check{Name: "channel", Status: StatusFail, Message: "telegram mode is missing " + strings.Join(missing, ", "), FixCommand: "export " + strings.Join(missing, "=<value> ") + "=<value>"}
		}
		return Check{Name: "channel", Status: StatusPass, Message: "telegram bot token and chat id are configured"}
	default:
		if fd := os.Stdin.Fd(); !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
			return Check{Name: "channel", Status: StatusWarn, Message: "stdin is not a terminal; local prompts will read piped input or deny on end of input"}
		}
		return Check{Name: "channel", Status: StatusPass, Message: "local terminal prompt"}
	}
}

// probeAuthority treats any HTTP answer as reachable. Only transport errors
// fail the check.
func probeAuthority(ctx context.Context, baseURL string, httpClient *http.Client) Check {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: probeTimeout}
	}
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, baseURL, nil)
	if err != nil {
		return Check{Name: "channel", Status: StatusFail, Message: fmt.Sprintf("build authority probe: %v", err)}
	}
	// #nosec G107 -- probe targets the configured authority url.
	resp, err := httpClient.Do(req)
	if err != nil {
		return Check{Name: "channel", Status: StatusFail, Message: fmt.Sprintf("authority unreachable: %v", err), FixCommand: "check " + config.EnvGatewayURL + " and network access"}
	}
	_ = resp.Body.Close()
	return Check{Name: "channel", Status: StatusPass, Message: fmt.Sprintf("authority reachable (HTTP %d)", resp.StatusCode)}
}

func checkTrustedKeys(settings config.Settings) Check {
	if len(settings.TrustedKeys) == 0 {
		if settings.RequireSignature {
			return Check{Name: "trusted_keys", Status: StatusFail, Message: "signatures are required but no trusted keys are configured", FixCommand: "export " + config.EnvTrustedKeys + "=<public key>"}
		}
		return Check{Name: "trusted_keys", Status: StatusWarn, Message: "no trusted keys configured; any well formed proof key is accepted", FixCommand: "export " + config.EnvTrustedKeys + "=<public key>"}
	}
	for index, key := range settings.TrustedKeys {
		if _, err := sign.ParsePublicKey(key); err != nil {
			return Check{Name: "trusted_keys", Status: StatusFail, Message: fmt.Sprintf("trusted key %d is invalid: %v", index+1, err)}
		}
	}
	return Check{Name: "trusted_keys", Status: StatusPass, Message: fmt.Sprintf("%d trusted key(s) parse as ed25519", len(settings.TrustedKeys))}
}

func checkJournal(path string) Check {
	if strings.TrimSpace(path) == "" {
		return Check{Name: "journal", Status: StatusPass, Message: "decision journal disabled"}
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return Check{Name: "journal", Status: StatusFail, Message: fmt.Sprintf("journal directory not accessible: %v", err), FixCommand: fmt.Sprintf("mkdir -p %s", shellQuote(dir))}
	}
	testPath := filepath.Join(dir, ".acp-doctor-writecheck")
	if err := os.WriteFile(testPath, []byte("ok"), 0o600); err != nil {
		return Check{Name: "journal", Status: StatusFail, Message: fmt.Sprintf("journal directory not writable: %v", err), FixCommand: fmt.Sprintf("chmod u+w %s", shellQuote(dir))}
	}
	_ = os.Remove(testPath)
	return Check{Name: "journal", Status: StatusPass, Message: "journal directory is writable"}
}

func checkNonceStore(ctx context.Context, redisAddr string, offline bool) Check {
	if strings.TrimSpace(redisAddr) == "" {
		return Check{Name: "nonce_store", Status: StatusPass, Message: "in-memory nonce store (replays are only caught within one process)"}
	}
	if offline {
		return Check{Name: "nonce_store", Status: StatusPass, Message: "redis nonce store configured (not probed)"}
	}
	store := replay.NewRedisStore(redisAddr, "", 0)
	defer func() {
		_ = store.Close()
	}()
	pingCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		return Check{Name: "nonce_store", Status: StatusFail, Message: fmt.Sprintf("redis nonce store unreachable: %v", err), FixCommand: "check " + config.EnvRedisAddr}
	}
	return Check{Name: "nonce_store", Status: StatusPass, Message: "redis nonce store reachable"}
}

func shellQuote(value string) string {
	if value == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}
