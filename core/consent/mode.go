package consent

import (
	"strings"

	"github.com/davidahmann/acp/core/config"
	coreerrors "github.com/davidahmann/acp/core/errors"
)

type Mode string

const (
	ModeLocal    Mode = "local"
	ModeTelegram Mode = "telegram"
	ModeGateway  Mode = "gateway"
)

// SelectMode picks the channel: an explicit mode wins, then a gateway URL,
// then a telegram token, then the local prompt.
func SelectMode(settings config.Settings) (Mode, error) {
	if explicit := strings.ToLower(strings.TrimSpace(settings.Mode)); explicit != "" {
		switch Mode(explicit) {
		case ModeLocal, ModeTelegram, ModeGateway:
			return Mode(explicit), nil
		}
		return "", coreerrors.Configuration("mode_invalid", "unknown consent mode %q (want local, telegram or gateway)", settings.Mode)
	}
	if strings.TrimSpace(settings.GatewayURL) != "" {
		return ModeGateway, nil
	}
	if strings.TrimSpace(settings.TelegramToken) != "" {
		return ModeTelegram, nil
	}
	return ModeLocal, nil
}
