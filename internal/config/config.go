package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Port           string
	AllowedOrigins []string
	WSReadTimeout  time.Duration
	WSWriteTimeout time.Duration
	LogLevel       string
	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64

	// Call request lifecycle
	CallTimeout          time.Duration
	QueueOfflineRequests bool
	StatsInterval        time.Duration

	// Operator API
	AdminJWTSecret string
	OIDCIssuer     string
	SkipAuth       bool
	SimURL         string

	// ConfigFile is the TOML file that was applied, if any
	ConfigFile string
}

// defaults are keyed by environment variable name
var defaults = map[string]string{
	"PORT":                   "8080",
	"ALLOWED_ORIGINS":        "http://localhost:5173",
	"LOG_LEVEL":              "info",
	"WS_READ_TIMEOUT":        "60",
	"WS_WRITE_TIMEOUT":       "10",
	"WS_MAX_MESSAGE_SIZE":    "65536",
	"CALL_TIMEOUT":           "30s",
	"QUEUE_OFFLINE_REQUESTS": "true",
	"STATS_INTERVAL":         "5s",
	"ADMIN_JWT_SECRET":       "",
	"OIDC_ISSUER":            "",
	"SKIP_AUTH":              "false",
	"SIM_URL":                "http://localhost:8090",
}

// fileKeys maps environment variable names to their TOML location
var fileKeys = map[string][]string{
	"PORT":                   {"server", "port"},
	"ALLOWED_ORIGINS":        {"server", "allowed_origins"},
	"LOG_LEVEL":              {"server", "log_level"},
	"WS_READ_TIMEOUT":        {"websocket", "read_timeout"},
	"WS_WRITE_TIMEOUT":       {"websocket", "write_timeout"},
	"WS_MAX_MESSAGE_SIZE":    {"websocket", "max_message_size"},
	"CALL_TIMEOUT":           {"calls", "timeout"},
	"QUEUE_OFFLINE_REQUESTS": {"calls", "queue_offline_requests"},
	"STATS_INTERVAL":         {"calls", "stats_interval"},
	"ADMIN_JWT_SECRET":       {"auth", "admin_jwt_secret"},
	"OIDC_ISSUER":            {"auth", "oidc_issuer"},
	"SKIP_AUTH":              {"auth", "skip_auth"},
	"SIM_URL":                {"sim", "url"},
}

// Load loads configuration from defaults, an optional TOML file named by
// LIVETALK_CONFIG, and environment variables, in increasing precedence
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	settings := make(map[string]string, len(defaults))
	for k, v := range defaults {
		settings[k] = v
	}

	path := os.Getenv("LIVETALK_CONFIG")
	if path != "" {
		if err := applyFile(path, settings); err != nil {
			return nil, err
		}
	}
	for k := range settings {
		settings[k] = getEnv(k, settings[k])
	}

	config := &Config{
		Port:           settings["PORT"],
		AllowedOrigins: strings.Split(settings["ALLOWED_ORIGINS"], ","),
		LogLevel:       settings["LOG_LEVEL"],
		AdminJWTSecret: settings["ADMIN_JWT_SECRET"],
		OIDCIssuer:     settings["OIDC_ISSUER"],
		SimURL:         strings.TrimSuffix(settings["SIM_URL"], "/"),
		ConfigFile:     path,
	}

	// Parse WebSocket timeouts
	wsReadTimeout, err := strconv.Atoi(settings["WS_READ_TIMEOUT"])
	if err != nil {
		return nil, fmt.Errorf("invalid WS_READ_TIMEOUT: %w", err)
	}
	config.WSReadTimeout = time.Duration(wsReadTimeout) * time.Second

	wsWriteTimeout, err := strconv.Atoi(settings["WS_WRITE_TIMEOUT"])
	if err != nil {
		return nil, fmt.Errorf("invalid WS_WRITE_TIMEOUT: %w", err)
	}
	config.WSWriteTimeout = time.Duration(wsWriteTimeout) * time.Second

	maxMessageSize, err := strconv.ParseInt(settings["WS_MAX_MESSAGE_SIZE"], 10, 64)
	if err != nil || maxMessageSize <= 0 {
		return nil, fmt.Errorf("invalid WS_MAX_MESSAGE_SIZE: %q", settings["WS_MAX_MESSAGE_SIZE"])
	}

	// Calculate WebSocket constants
	config.PongWait = config.WSReadTimeout
	config.PingPeriod = (config.PongWait * 9) / 10 // Must be less than pongWait
	config.WriteWait = config.WSWriteTimeout
	config.MaxMessageSize = maxMessageSize

	config.CallTimeout, err = time.ParseDuration(settings["CALL_TIMEOUT"])
	if err != nil || config.CallTimeout <= 0 {
		return nil, fmt.Errorf("invalid CALL_TIMEOUT: %q", settings["CALL_TIMEOUT"])
	}

	config.StatsInterval, err = time.ParseDuration(settings["STATS_INTERVAL"])
	if err != nil || config.StatsInterval <= 0 {
		return nil, fmt.Errorf("invalid STATS_INTERVAL: %q", settings["STATS_INTERVAL"])
	}

	config.QueueOfflineRequests, err = strconv.ParseBool(settings["QUEUE_OFFLINE_REQUESTS"])
	if err != nil {
		return nil, fmt.Errorf("invalid QUEUE_OFFLINE_REQUESTS: %w", err)
	}

	config.SkipAuth, err = strconv.ParseBool(settings["SKIP_AUTH"])
	if err != nil {
		return nil, fmt.Errorf("invalid SKIP_AUTH: %w", err)
	}

	// Trim spaces from allowed origins
	for i, origin := range config.AllowedOrigins {
		config.AllowedOrigins[i] = strings.TrimSpace(origin)
	}

	return config, nil
}

// applyFile overlays every key the TOML file defines onto settings
func applyFile(path string, settings map[string]string) error {
	var raw map[string]any
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	for env, key := range fileKeys {
		if !meta.IsDefined(key...) {
			continue
		}
		section, _ := raw[key[0]].(map[string]any)
		settings[env] = fileValue(section[key[1]])
	}

	known := make(map[string]bool, len(fileKeys))
	for _, key := range fileKeys {
		known[strings.Join(key, ".")] = true
	}
	var unknown []string
	for _, k := range meta.Keys() {
		if len(k) > 1 && !known[k.String()] {
			unknown = append(unknown, k.String())
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("unknown keys in config file %s: %s", path, strings.Join(unknown, ", "))
	}
	return nil
}

// fileValue renders a TOML value the way the matching env var would spell it
func fileValue(v any) string {
	switch val := v.(type) {
	case []any:
		parts := make([]string, 0, len(val))
		for _, p := range val {
			parts = append(parts, fmt.Sprint(p))
		}
		return strings.Join(parts, ",")
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
