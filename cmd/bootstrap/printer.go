package bootstrap

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/code-100-precent/LingClassroom/pkg/config"
	"github.com/code-100-precent/LingClassroom/pkg/logger"
	"go.uber.org/zap"
)

const defaultBanner = `
 _     _             ____ _                                       
| |   (_)_ __   __ _/ ___| | __ _ ___ ___ _ __ ___   ___  _ __ ___  
| |   | | '_ \ / _' | |   | |/ _' / __/ __| '__/ _ \ / _ \| '_ ' _ \ 
| |___| | | | | (_| | |___| | (_| \__ \__ \ | | (_) | (_) | | | | | |
|_____|_|_| |_|\__, |\____|_|\__,_|___/___/_|  \___/ \___/|_| |_| |_|
               |___/                                                `

// LogConfigInfo Print global configuration information
func LogConfigInfo(cfg *config.Config) {
	if cfg == nil {
		cfg = config.GlobalConfig
	}
	if cfg == nil {
		return
	}
	logger.Info("system config load finished", zap.String("mode", cfg.Mode))

	logger.Info("socket config",
		zap.String("ws_host", cfg.WSHost),
		zap.Bool("ws_secure", cfg.WSSecure),
		zap.Int("max_reconnect_attempts", cfg.MaxReconnectAttempts),
		zap.Duration("reconnect_base_delay", cfg.ReconnectBaseDelay),
		zap.Duration("heartbeat_interval", cfg.HeartbeatInterval),
		zap.Duration("pong_timeout", cfg.PongTimeout),
		zap.Int("outbound_queue_size", cfg.OutboundQueueSize),
	)

	logger.Info("client config",
		zap.String("api_base_url", cfg.APIBaseURL),
		zap.Bool("api_token_set", cfg.APIToken != ""),
		zap.Bool("ws_token_set", cfg.WSToken != ""),
		zap.Int("message_log_size", cfg.MessageLogSize),
		zap.Duration("notification_duration", cfg.NotificationDuration),
		zap.Duration("projector_interval", cfg.ProjectorInterval),
		zap.Bool("projector_simulate", cfg.ProjectorSimulate),
		zap.Int("projector_recent_window", cfg.ProjectorRecentWindow),
	)

	logger.Info("server config",
		zap.String("addr", cfg.ServerAddr),
		zap.String("monitor_prefix", cfg.MonitorPrefix),
		zap.Bool("socket_tokens", cfg.TokenSecret != ""),
		zap.String("cache_type", string(cfg.Cache.Type)),
	)

	logger.Info("log config",
		zap.String("log_level", cfg.Log.Level),
		zap.String("log_filename", cfg.Log.Filename),
		zap.Int("log_max_size", cfg.Log.MaxSize),
		zap.Int("log_max_age", cfg.Log.MaxAge),
		zap.Int("log_max_backups", cfg.Log.MaxBackups),
	)
}

// PrintBannerFromFile prints filename in a color gradient, falling back to
// the built-in banner when the file does not exist.
func PrintBannerFromFile(w io.Writer, filename string) error {
	data, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		data, err = []byte(defaultBanner), nil
	}
	if err != nil {
		return err
	}

	colors := []string{
		"\x1b[38;5;165m",
		"\x1b[38;5;189m",
		"\x1b[38;5;207m",
		"\x1b[38;5;219m",
		"\x1b[38;5;225m",
		"\x1b[38;5;231m",
	}
	for i, line := range strings.Split(string(data), "\n") {
		if _, err := fmt.Fprintln(w, colors[i%len(colors)]+line+"\x1b[0m"); err != nil {
			return err
		}
	}
	return nil
}
