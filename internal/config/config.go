package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envVarListenAddr      = "SCREENLINK_LISTEN_ADDR"
	envVarMode            = "SCREENLINK_MODE"
	envVarLogFormat       = "SCREENLINK_LOG_FORMAT"
	envVarLogLevel        = "SCREENLINK_LOG_LEVEL"
	envVarShutdownTimeout = "SCREENLINK_SHUTDOWN_TIMEOUT"

	// Room registry knobs.
	envVarMaxRooms        = "MAX_ROOMS"
	envVarMaxUsersPerRoom = "MAX_USERS_PER_ROOM"
	envVarRoomTimeout     = "ROOM_TIMEOUT"

	// Connection supervisor knobs.
	envVarSweepInterval = "SWEEP_INTERVAL"
	envVarIdleTimeout   = "IDLE_TIMEOUT"

	// Admission control.
	envVarMaxMemoryMB = "MAX_MEMORY_MB"

	// Inbound signaling hardening.
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"

	// ICE server configuration handed to clients.
	envVarICEServers = "ICE_SERVERS"

	// coturn TURN REST (ephemeral) credentials.
	envVarTURNRESTSharedSecret   = "TURN_REST_SHARED_SECRET"
	envVarTURNRESTTTLSeconds     = "TURN_REST_TTL_SECONDS"
	envVarTURNRESTUsernamePrefix = "TURN_REST_USERNAME_PREFIX"
	envVarTURNRESTURLs           = "TURN_REST_URLS"
)

const (
	DefaultListenAddr      = "127.0.0.1:3000"
	DefaultShutdownTimeout = 15 * time.Second

	DefaultMaxRooms        = 10
	DefaultMaxUsersPerRoom = 2
	DefaultRoomTimeout     = 30 * time.Minute

	DefaultSweepInterval = 30 * time.Second
	// DefaultIdleTimeoutFactor scales SweepInterval into the idle cutoff when
	// IDLE_TIMEOUT is not set explicitly. Idle termination catches peers that
	// still answer transport probes but stopped sending application messages.
	DefaultIdleTimeoutFactor = 10

	DefaultMaxMemoryMB = 500

	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 50

	DefaultTURNRESTTTLSeconds     int64 = 24 * 3600
	DefaultTURNRESTUsernamePrefix       = "screenlink"
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

// ICEServer is one static STUN/TURN entry advertised to clients. The relay
// treats the contents as opaque configuration; it never dials these itself.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

type TURNRESTConfig struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string
	// URLs are the turn:/turns: URLs the minted credentials apply to.
	URLs []string
}

func (c TURNRESTConfig) Enabled() bool { return c.SharedSecret != "" }

type Config struct {
	ListenAddr      string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	MaxRooms        int
	MaxUsersPerRoom int
	RoomTimeout     time.Duration

	SweepInterval time.Duration
	IdleTimeout   time.Duration

	MaxMemoryMB int

	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int

	ICEServers []ICEServer
	TURNREST   TURNRESTConfig
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	fs := flag.NewFlagSet("screenlink-signaling", flag.ContinueOnError)

	listenAddr := fs.String("listen", envOrDefault(lookup, envVarListenAddr, DefaultListenAddr), "listen address")
	modeFlag := fs.String("mode", envOrDefault(lookup, envVarMode, string(ModeDev)), "dev or prod")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	mode, err := parseMode(*modeFlag)
	if err != nil {
		return Config{}, err
	}

	logFormat, err := parseLogFormat(envOrDefault(lookup, envVarLogFormat, defaultLogFormatForMode(mode)))
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(envOrDefault(lookup, envVarLogLevel, defaultLogLevelForMode(mode)))
	if err != nil {
		return Config{}, err
	}

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return Config{}, err
	}

	maxRooms, err := envIntOrDefault(lookup, envVarMaxRooms, DefaultMaxRooms)
	if err != nil {
		return Config{}, err
	}
	if maxRooms <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarMaxRooms)
	}
	maxUsers, err := envIntOrDefault(lookup, envVarMaxUsersPerRoom, DefaultMaxUsersPerRoom)
	if err != nil {
		return Config{}, err
	}
	if maxUsers <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarMaxUsersPerRoom)
	}
	roomTimeout, err := envDurationOrDefault(lookup, envVarRoomTimeout, DefaultRoomTimeout)
	if err != nil {
		return Config{}, err
	}

	sweepInterval, err := envDurationOrDefault(lookup, envVarSweepInterval, DefaultSweepInterval)
	if err != nil {
		return Config{}, err
	}
	if sweepInterval <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarSweepInterval)
	}
	idleTimeout, err := envDurationOrDefault(lookup, envVarIdleTimeout, sweepInterval*DefaultIdleTimeoutFactor)
	if err != nil {
		return Config{}, err
	}
	if idleTimeout <= sweepInterval {
		return Config{}, fmt.Errorf("%s must exceed %s", envVarIdleTimeout, envVarSweepInterval)
	}

	maxMemoryMB, err := envIntOrDefault(lookup, envVarMaxMemoryMB, DefaultMaxMemoryMB)
	if err != nil {
		return Config{}, err
	}

	maxMsgBytes, err := envIntOrDefault(lookup, envVarMaxSignalingMessageBytes, int(DefaultMaxSignalingMessageBytes))
	if err != nil {
		return Config{}, err
	}
	maxMsgRate, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}

	iceServers, err := parseICEServers(envOrDefault(lookup, envVarICEServers, ""))
	if err != nil {
		return Config{}, err
	}

	turnTTL, err := envInt64OrDefault(lookup, envVarTURNRESTTTLSeconds, DefaultTURNRESTTTLSeconds)
	if err != nil {
		return Config{}, err
	}
	turnREST := TURNRESTConfig{
		SharedSecret:   envOrDefault(lookup, envVarTURNRESTSharedSecret, ""),
		TTLSeconds:     turnTTL,
		UsernamePrefix: envOrDefault(lookup, envVarTURNRESTUsernamePrefix, DefaultTURNRESTUsernamePrefix),
		URLs:           splitCommaList(envOrDefault(lookup, envVarTURNRESTURLs, "")),
	}
	if turnREST.Enabled() && len(turnREST.URLs) == 0 {
		return Config{}, fmt.Errorf("%s requires %s", envVarTURNRESTSharedSecret, envVarTURNRESTURLs)
	}

	return Config{
		ListenAddr:      *listenAddr,
		Mode:            mode,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		ShutdownTimeout: shutdownTimeout,

		MaxRooms:        maxRooms,
		MaxUsersPerRoom: maxUsers,
		RoomTimeout:     roomTimeout,

		SweepInterval: sweepInterval,
		IdleTimeout:   idleTimeout,

		MaxMemoryMB: maxMemoryMB,

		MaxSignalingMessageBytes:      int64(maxMsgBytes),
		MaxSignalingMessagesPerSecond: maxMsgRate,

		ICEServers: iceServers,
		TURNREST:   turnREST,
	}, nil
}

// NewLogger builds the process logger from the loaded configuration.
func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}
	return slog.New(handler), nil
}

func parseICEServers(raw string) ([]ICEServer, error) {
	if raw == "" {
		return nil, nil
	}
	var servers []ICEServer
	if err := json.Unmarshal([]byte(raw), &servers); err != nil {
		return nil, fmt.Errorf("parse %s: %w", envVarICEServers, err)
	}
	for i, s := range servers {
		if len(s.URLs) == 0 {
			return nil, fmt.Errorf("%s[%d] missing urls", envVarICEServers, i)
		}
	}
	return servers, nil
}

func parseMode(raw string) (Mode, error) {
	switch Mode(raw) {
	case ModeDev, ModeProd:
		return Mode(raw), nil
	}
	return "", fmt.Errorf("invalid mode %q (want dev or prod)", raw)
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch LogFormat(raw) {
	case LogFormatText, LogFormatJSON:
		return LogFormat(raw), nil
	}
	return "", fmt.Errorf("invalid log format %q (want text or json)", raw)
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(raw) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("invalid log level %q", raw)
}

func defaultLogFormatForMode(mode Mode) string {
	if mode == ModeProd {
		return string(LogFormatJSON)
	}
	return string(LogFormatText)
}

func defaultLogLevelForMode(mode Mode) string {
	if mode == ModeProd {
		return "info"
	}
	return "debug"
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	v, ok := lookup(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func envInt64OrDefault(lookup func(string) (string, bool), key string, fallback int64) (int64, error) {
	v, ok := lookup(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	v, ok := lookup(key)
	if !ok || v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func splitCommaList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
