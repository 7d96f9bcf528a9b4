package config

import (
	"log/slog"
	"testing"
	"time"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(lookupFrom(nil), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.Mode != ModeDev {
		t.Errorf("Mode = %q", cfg.Mode)
	}
	if cfg.Store != StoreMemory {
		t.Errorf("Store = %q", cfg.Store)
	}
	if cfg.ChatHistoryLimit != DefaultChatHistoryLimit {
		t.Errorf("ChatHistoryLimit = %d", cfg.ChatHistoryLimit)
	}
	// Dev mode defaults to readable text logs at debug level.
	if cfg.LogFormat != LogFormatText {
		t.Errorf("LogFormat = %q", cfg.LogFormat)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
}

func TestLoadProdModeLogDefaults(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{
		"HALLWAY_MODE": "prod",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Errorf("LogFormat = %q, want json in prod", cfg.LogFormat)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want info in prod", cfg.LogLevel)
	}
}

func TestLoadEnvValues(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{
		"HALLWAY_LISTEN_ADDR":             "0.0.0.0:9000",
		"HALLWAY_STORE":                   "nats",
		"HALLWAY_NATS_URL":                "nats://nats.internal:4222",
		"HALLWAY_CHAT_HISTORY_LIMIT":      "25",
		"HALLWAY_MAX_MESSAGES_PER_SECOND": "10",
		"HALLWAY_ALLOWED_ORIGINS":         "https://app.example.com, *",
		"HALLWAY_SHUTDOWN_TIMEOUT":        "30s",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ListenAddr != "0.0.0.0:9000" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.Store != StoreNATS {
		t.Errorf("Store = %q", cfg.Store)
	}
	if cfg.NATSURL != "nats://nats.internal:4222" {
		t.Errorf("NATSURL = %q", cfg.NATSURL)
	}
	if cfg.ChatHistoryLimit != 25 {
		t.Errorf("ChatHistoryLimit = %d", cfg.ChatHistoryLimit)
	}
	if cfg.MessagesPerSecond != 10 {
		t.Errorf("MessagesPerSecond = %d", cfg.MessagesPerSecond)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("ShutdownTimeout = %v", cfg.ShutdownTimeout)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != "https://app.example.com" || cfg.AllowedOrigins[1] != "*" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}

func TestLoadFlagsOverrideEnv(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{
		"HALLWAY_LISTEN_ADDR": "127.0.0.1:1111",
		"HALLWAY_LOG_FORMAT":  "text",
	}), []string{"--listen-addr", "127.0.0.1:2222", "--log-format", "json"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:2222" {
		t.Errorf("ListenAddr = %q, flag should win", cfg.ListenAddr)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Errorf("LogFormat = %q, flag should win", cfg.LogFormat)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		args []string
	}{
		{"bad mode", nil, []string{"--mode", "staging"}},
		{"bad store", map[string]string{"HALLWAY_STORE": "redis"}, nil},
		{"bad log level", map[string]string{"HALLWAY_LOG_LEVEL": "loud"}, nil},
		{"bad shutdown timeout", map[string]string{"HALLWAY_SHUTDOWN_TIMEOUT": "soon"}, nil},
		{"zero history limit", map[string]string{"HALLWAY_CHAT_HISTORY_LIMIT": "0"}, nil},
		{"bad origin", map[string]string{"HALLWAY_ALLOWED_ORIGINS": "example.com"}, nil},
		{"ping >= idle", nil, []string{"--ws-ping-interval", "60s", "--ws-idle-timeout", "60s"}},
		{"empty listen addr", nil, []string{"--listen-addr", ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := load(lookupFrom(tt.env), tt.args); err == nil {
				t.Fatalf("load accepted invalid input")
			}
		})
	}
}

func TestLoadICEServers(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{
		"HALLWAY_ICE_SERVERS_JSON": `[{"urls":"stun:stun.example.com:3478"}]`,
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ICEConfigError() != nil {
		t.Fatalf("ICEConfigError: %v", cfg.ICEConfigError())
	}
	if len(cfg.ICEServers) != 1 || cfg.ICEServers[0].URLs[0] != "stun:stun.example.com:3478" {
		t.Fatalf("ICEServers = %+v", cfg.ICEServers)
	}
}

func TestLoadICEConfigErrorIsDeferred(t *testing.T) {
	// Invalid ICE config must not prevent startup; it surfaces on /readyz.
	cfg, err := load(lookupFrom(map[string]string{
		"HALLWAY_ICE_SERVERS_JSON": `not json`,
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ICEConfigError() == nil {
		t.Fatalf("expected deferred ICE config error")
	}
}

func TestLoadTURNRequiresCredentials(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{
		"HALLWAY_TURN_URLS": "turn:turn.example.com:3478",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ICEConfigError() == nil {
		t.Fatalf("TURN without credentials should be a deferred ICE error")
	}
}
