package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates every setting the gateway reads from the environment.
type Config struct {
	Server    ServerConfig
	Heartbeat HeartbeatConfig
	AI        AIConfig
	DB        DBConfig
	Tools     ToolsConfig
}

// Load parses the configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	heartbeat, err := loadHeartbeatConfig()
	if err != nil {
		return nil, err
	}

	tools, err := loadToolsConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		Heartbeat: heartbeat,
		AI:        loadAIConfig(),
		DB:        loadDBConfig(),
		Tools:     tools,
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" as-is.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// HeartbeatConfig drives the liveness protocol on WebSocket sessions.
type HeartbeatConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

func loadHeartbeatConfig() (HeartbeatConfig, error) {
	interval, err := parseSecondsEnv("HEARTBEAT_INTERVAL", 5*time.Second)
	if err != nil {
		return HeartbeatConfig{}, err
	}

	timeout, err := parseSecondsEnv("HEARTBEAT_TIMEOUT", 10*time.Second)
	if err != nil {
		return HeartbeatConfig{}, err
	}

	if timeout <= interval {
		return HeartbeatConfig{}, fmt.Errorf("HEARTBEAT_TIMEOUT (%s) must exceed HEARTBEAT_INTERVAL (%s)", timeout, interval)
	}

	return HeartbeatConfig{Interval: interval, Timeout: timeout}, nil
}

// AIConfig describes the chat-completion backend.
type AIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Enabled reports whether the backend credentials were provided.
func (c AIConfig) Enabled() bool {
	return c.APIKey != ""
}

func loadAIConfig() AIConfig {
	return AIConfig{
		APIKey:  strings.TrimSpace(os.Getenv("GPT_API_KEY")),
		BaseURL: getEnvOrDefault("GPT_BASE_URL", "https://api.openai.com/v1"),
		Model:   getEnvOrDefault("GPT_MODEL", "gpt-4o-mini"),
	}
}

// DBConfig describes the MySQL connection. When no host is set the
// gateway falls back to the in-memory store.
type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

// Enabled reports whether a database was configured.
func (c DBConfig) Enabled() bool {
	return c.Host != ""
}

// DSN builds the driver connection string. parseTime is required so
// DATETIME columns scan into time.Time.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&charset=utf8mb4",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

func loadDBConfig() DBConfig {
	return DBConfig{
		Host:     strings.TrimSpace(os.Getenv("DB_HOST")),
		Port:     getEnvOrDefault("DB_PORT", "3306"),
		User:     getEnvOrDefault("DB_USER", "root"),
		Password: os.Getenv("DB_PASSWORD"),
		Name:     getEnvOrDefault("DB_NAME", "zhilian"),
	}
}

// ToolsConfig describes the tool dispatch layer and the external tool
// servers. Empty addresses leave the matching tool unregistered.
type ToolsConfig struct {
	CallTimeout time.Duration
	PythonAddr  string
	SearchAddr  string
	WeatherAddr string
}

func loadToolsConfig() (ToolsConfig, error) {
	timeout, err := parseSecondsEnv("TOOL_TIMEOUT", 10*time.Second)
	if err != nil {
		return ToolsConfig{}, err
	}

	return ToolsConfig{
		CallTimeout: timeout,
		PythonAddr:  strings.TrimSpace(os.Getenv("TOOL_PYTHON_ADDR")),
		SearchAddr:  strings.TrimSpace(os.Getenv("TOOL_SEARCH_ADDR")),
		WeatherAddr: strings.TrimSpace(os.Getenv("TOOL_WEATHER_ADDR")),
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// parseSecondsEnv reads a whole-second duration from the environment.
func parseSecondsEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: want a positive number of seconds", key, raw)
	}
	return time.Duration(val) * time.Second, nil
}
