// Package config loads service configuration from environment variables and
// flags. Env values become flag defaults, so flags win when both are set.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/hallwaylabs/signaling/internal/origin"
)

const (
	envVarListenAddr      = "HALLWAY_LISTEN_ADDR"
	envVarMode            = "HALLWAY_MODE"
	envVarLogFormat       = "HALLWAY_LOG_FORMAT"
	envVarLogLevel        = "HALLWAY_LOG_LEVEL"
	envVarShutdownTimeout = "HALLWAY_SHUTDOWN_TIMEOUT"
	envVarAllowedOrigins  = "HALLWAY_ALLOWED_ORIGINS"

	envVarStore         = "HALLWAY_STORE"
	envVarNATSURL       = "HALLWAY_NATS_URL"
	envVarRoomsBucket   = "HALLWAY_ROOMS_BUCKET"
	envVarHistoryBucket = "HALLWAY_HISTORY_BUCKET"
	envVarChatStream    = "HALLWAY_CHAT_STREAM"

	envVarChatHistoryLimit  = "HALLWAY_CHAT_HISTORY_LIMIT"
	envVarMaxMessageBytes   = "HALLWAY_MAX_MESSAGE_BYTES"
	envVarMessagesPerSecond = "HALLWAY_MAX_MESSAGES_PER_SECOND"
	envVarSendQueueSize     = "HALLWAY_SEND_QUEUE_SIZE"
	envVarPingInterval      = "HALLWAY_WS_PING_INTERVAL"
	envVarIdleTimeout       = "HALLWAY_WS_IDLE_TIMEOUT"
)

const (
	DefaultListenAddr           = "127.0.0.1:8080"
	DefaultShutdown             = 15 * time.Second
	DefaultMode            Mode = ModeDev
	DefaultNATSURL              = "nats://127.0.0.1:4222"
	DefaultRoomsBucket          = "hallway-rooms"
	DefaultHistoryBucket        = "hallway-chat-history"
	DefaultChatStream           = "HALLWAY_CHAT"
	DefaultChatHistoryLimit     = 50
	DefaultMaxMessageBytes      = int64(64 * 1024)
	DefaultMessagesPerSecond    = 50
	DefaultSendQueueSize        = 64
	DefaultPingInterval         = 20 * time.Second
	DefaultIdleTimeout          = 60 * time.Second
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// Store selects the membership/history backend. StoreMemory is
// single-instance only.
type Store string

const (
	StoreMemory Store = "memory"
	StoreNATS   Store = "nats"
)

type Config struct {
	ListenAddr      string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	AllowedOrigins  []string

	Store         Store
	NATSURL       string
	RoomsBucket   string
	HistoryBucket string
	ChatStream    string

	ChatHistoryLimit  int
	MaxMessageBytes   int64
	MessagesPerSecond int
	SendQueueSize     int
	PingInterval      time.Duration
	IdleTimeout       time.Duration

	ICEServers []webrtc.ICEServer

	iceConfigErr error
}

// ICEConfigError reports a deferred ICE configuration problem. The service
// still starts without ICE servers; /readyz and /ice surface the error.
func (c Config) ICEConfigError() error {
	return c.iceConfigErr
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	modeDefault := envOrDefault(lookup, envVarMode, string(DefaultMode))

	envLogFormat, _ := lookup(envVarLogFormat)
	envLogFormatSet := envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, _ := lookup(envVarLogLevel)
	envLogLevelSet := envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")
	storeStr := envOrDefault(lookup, envVarStore, string(StoreMemory))
	natsURL := envOrDefault(lookup, envVarNATSURL, DefaultNATSURL)
	roomsBucket := envOrDefault(lookup, envVarRoomsBucket, DefaultRoomsBucket)
	historyBucket := envOrDefault(lookup, envVarHistoryBucket, DefaultHistoryBucket)
	chatStream := envOrDefault(lookup, envVarChatStream, DefaultChatStream)
	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")

	shutdownTimeout := DefaultShutdown
	if raw, ok := lookup(envVarShutdownTimeout); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarShutdownTimeout, raw, err)
		}
		shutdownTimeout = d
	}

	chatHistoryLimit, err := envIntOrDefault(lookup, envVarChatHistoryLimit, DefaultChatHistoryLimit)
	if err != nil {
		return Config{}, err
	}
	messagesPerSecond, err := envIntOrDefault(lookup, envVarMessagesPerSecond, DefaultMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	sendQueueSize, err := envIntOrDefault(lookup, envVarSendQueueSize, DefaultSendQueueSize)
	if err != nil {
		return Config{}, err
	}

	maxMessageBytes := DefaultMaxMessageBytes
	if raw, ok := lookup(envVarMaxMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxMessageBytes, raw, err)
		}
		maxMessageBytes = n
	}

	pingInterval := DefaultPingInterval
	if raw, ok := lookup(envVarPingInterval); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarPingInterval, raw, err)
		}
		pingInterval = d
	}

	idleTimeout := DefaultIdleTimeout
	if raw, ok := lookup(envVarIdleTimeout); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarIdleTimeout, raw, err)
		}
		idleTimeout = d
	}

	fs := flag.NewFlagSet("hallway-signaling", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port; env "+envVarListenAddr+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod (env "+envVarMode+")")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json (env "+envVarLogFormat+")")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error (env "+envVarLogLevel+")")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (env "+envVarShutdownTimeout+")")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins (env "+envVarAllowedOrigins+")")
	fs.StringVar(&storeStr, "store", storeStr, "Membership/history backend: memory or nats (env "+envVarStore+")")
	fs.StringVar(&natsURL, "nats-url", natsURL, "NATS server URL (env "+envVarNATSURL+")")
	fs.StringVar(&roomsBucket, "rooms-bucket", roomsBucket, "KV bucket for room membership (env "+envVarRoomsBucket+")")
	fs.StringVar(&historyBucket, "history-bucket", historyBucket, "KV bucket for chat history (env "+envVarHistoryBucket+")")
	fs.StringVar(&chatStream, "chat-stream", chatStream, "JetStream stream name for the chat log (env "+envVarChatStream+")")
	fs.IntVar(&chatHistoryLimit, "chat-history-limit", chatHistoryLimit, "Messages retained per room for replay on join (env "+envVarChatHistoryLimit+")")
	fs.Int64Var(&maxMessageBytes, "max-message-bytes", maxMessageBytes, "Max inbound WebSocket message size in bytes (env "+envVarMaxMessageBytes+")")
	fs.IntVar(&messagesPerSecond, "max-messages-per-second", messagesPerSecond, "Max inbound WebSocket messages per second per connection (env "+envVarMessagesPerSecond+")")
	fs.IntVar(&sendQueueSize, "send-queue-size", sendQueueSize, "Outbound queue depth per client before slow-consumer close (env "+envVarSendQueueSize+")")
	fs.DurationVar(&pingInterval, "ws-ping-interval", pingInterval, "WebSocket ping interval (must be < --ws-idle-timeout; env "+envVarPingInterval+")")
	fs.DurationVar(&idleTimeout, "ws-idle-timeout", idleTimeout, "Close WebSocket connections with no pong for this duration (env "+envVarIdleTimeout+")")
	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config (env "+envICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "Comma-separated STUN URLs (env "+envStunURLs+")")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "Comma-separated TURN URLs (env "+envTurnURLs+")")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "TURN username (env "+envTurnUsername+")")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "TURN credential (env "+envTurnCredential+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}

	if !envLogFormatSet && !setFlags["log-format"] {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !envLogLevelSet && !setFlags["log-level"] {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}
	storeKind, err := parseStore(storeStr)
	if err != nil {
		return Config{}, err
	}
	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, err
	}

	if listenAddr == "" {
		return Config{}, fmt.Errorf("listen address must not be empty")
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("shutdown timeout must be > 0")
	}
	if storeKind == StoreNATS && strings.TrimSpace(natsURL) == "" {
		return Config{}, fmt.Errorf("%s/--nats-url must be set when store=nats", envVarNATSURL)
	}
	if chatHistoryLimit <= 0 {
		return Config{}, fmt.Errorf("%s/--chat-history-limit must be > 0", envVarChatHistoryLimit)
	}
	if maxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-message-bytes must be > 0", envVarMaxMessageBytes)
	}
	if messagesPerSecond <= 0 {
		return Config{}, fmt.Errorf("%s/--max-messages-per-second must be > 0", envVarMessagesPerSecond)
	}
	if sendQueueSize <= 0 {
		return Config{}, fmt.Errorf("%s/--send-queue-size must be > 0", envVarSendQueueSize)
	}
	if pingInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--ws-ping-interval must be > 0", envVarPingInterval)
	}
	if idleTimeout <= pingInterval {
		return Config{}, fmt.Errorf("%s/--ws-idle-timeout must be > %s/--ws-ping-interval", envVarIdleTimeout, envVarPingInterval)
	}

	cfg := Config{
		ListenAddr:        listenAddr,
		Mode:              mode,
		LogFormat:         logFormat,
		LogLevel:          level,
		ShutdownTimeout:   shutdownTimeout,
		AllowedOrigins:    allowedOrigins,
		Store:             storeKind,
		NATSURL:           natsURL,
		RoomsBucket:       roomsBucket,
		HistoryBucket:     historyBucket,
		ChatStream:        chatStream,
		ChatHistoryLimit:  chatHistoryLimit,
		MaxMessageBytes:   maxMessageBytes,
		MessagesPerSecond: messagesPerSecond,
		SendQueueSize:     sendQueueSize,
		PingInterval:      pingInterval,
		IdleTimeout:       idleTimeout,
	}

	iceServers, iceErr := parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential)
	if iceErr != nil {
		cfg.iceConfigErr = iceErr
	} else {
		cfg.ICEServers = iceServers
	}

	return cfg, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func defaultLogFormatForMode(mode string) string {
	if mode == string(ModeProd) || mode == "production" {
		return string(LogFormatJSON)
	}
	return string(LogFormatText)
}

func defaultLogLevelForMode(mode string) string {
	if mode == string(ModeProd) || mode == "production" {
		return "info"
	}
	return "debug"
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseStore(raw string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(StoreMemory):
		return StoreMemory, nil
	case string(StoreNATS):
		return StoreNATS, nil
	default:
		return "", fmt.Errorf("invalid %s %q (expected %s or %s)", envVarStore, raw, StoreMemory, StoreNATS)
	}
}

func parseAllowedOrigins(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" {
			out = append(out, entry)
			continue
		}
		normalized, _, ok := origin.Normalize(entry)
		if !ok {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		out = append(out, normalized)
	}
	return out, nil
}
