package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	API      APIConfig      `yaml:"api"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	JWT      JWTConfig      `yaml:"jwt"`
	Log      LogConfig      `yaml:"log"`
	EPC      EPCConfig      `yaml:"epc"`
	Session  SessionConfig  `yaml:"session"`
	Events   EventsConfig   `yaml:"events"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Acs      []AcsConfig    `yaml:"acs"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Name        string        `yaml:"name"`
	Version     string        `yaml:"version"`
	PollTimeout time.Duration `yaml:"poll_timeout"`
}

// APIConfig represents the REST API configuration
type APIConfig struct {
	Enabled           bool     `yaml:"enabled"`
	Host              string   `yaml:"host"`
	Port              int      `yaml:"port"`
	AdminUser         string   `yaml:"admin_user"`
	AdminPasswordHash string   `yaml:"admin_password_hash"`
	CORSOrigins       []string `yaml:"cors_origins"`
}

// DatabaseConfig represents database configuration. An empty DSN keeps the
// event journal in memory.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// NATSConfig represents NATS configuration. An empty URL disables NATS.
type NATSConfig struct {
	URL               string        `yaml:"url"`
	ClientID          string        `yaml:"client_id"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	EPCSubject        string        `yaml:"epc_subject"`
	EventSubject      string        `yaml:"event_subject"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
}

// MQTTConfig represents MQTT event forwarding. An empty broker disables it.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// WebhookConfig represents HTTP event forwarding. An empty URL disables it.
type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// JWTConfig represents JWT configuration
type JWTConfig struct {
	Secret          string        `yaml:"secret"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// EPCConfig represents the local control socket
type EPCConfig struct {
	Socket string `yaml:"socket"`
}

// SessionConfig tunes CWMP sessions
type SessionConfig struct {
	TLSHandshakeTimeout time.Duration `yaml:"tls_handshake_timeout"`
	WriteTimeout        time.Duration `yaml:"write_timeout"`
	ArenaLimit          int           `yaml:"arena_limit"`
	MaxRequestSize      int           `yaml:"max_request_size"`
	ConnReqTimeout      time.Duration `yaml:"connreq_timeout"`
}

// EventsConfig sizes the event pipeline
type EventsConfig struct {
	QueueSize      int `yaml:"queue_size"`
	MemoryCapacity int `yaml:"memory_capacity"`
}

// MetricsConfig represents Prometheus metrics exposure
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AcsConfig is an ACS created at startup
type AcsConfig struct {
	Name       string      `yaml:"name"`
	Port       int         `yaml:"port"`
	URL        string      `yaml:"url"`
	SSL        bool        `yaml:"ssl"`
	Cert       string      `yaml:"cert"`
	AuthMode   string      `yaml:"auth_mode"`
	HTTPRoot   string      `yaml:"http_root"`
	TrafficLog bool        `yaml:"traffic_log"`
	Enabled    bool        `yaml:"enabled"`
	Cpes       []CpeConfig `yaml:"cpes"`
}

// CpeConfig is a CPE created at startup
type CpeConfig struct {
	Name         string `yaml:"name"`
	Login        string `yaml:"login"`
	Password     string `yaml:"password"`
	CRURL        string `yaml:"cr_url"`
	CRLogin      string `yaml:"cr_login"`
	CRPassword   string `yaml:"cr_password"`
	HoldRequests bool   `yaml:"hold_requests"`
	SyncMode     bool   `yaml:"sync_mode"`
	ChunkMode    bool   `yaml:"chunk_mode"`
	TrafficLog   bool   `yaml:"traffic_log"`
}

// Load loads configuration from file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies environment overrides and defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Apply environment overrides
	cfg.applyEnvOverrides()
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyEnvOverrides()
	cfg.setDefaults()
	return &cfg
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.JWT.Secret = jwtSecret
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}

	if sock := os.Getenv("ACSE_EPC_SOCKET"); sock != "" {
		c.EPC.Socket = sock
	}
}

func (c *Config) setDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "acse"
	}
	if c.Server.PollTimeout == 0 {
		c.Server.PollTimeout = 500 * time.Millisecond
	}

	if c.API.Host == "" {
		c.API.Host = "127.0.0.1"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.AdminUser == "" {
		c.API.AdminUser = "admin"
	}

	if c.NATS.ClientID == "" {
		c.NATS.ClientID = "acse"
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = -1
	}
	if c.NATS.ReconnectInterval == 0 {
		c.NATS.ReconnectInterval = 2 * time.Second
	}
	if c.NATS.EPCSubject == "" {
		c.NATS.EPCSubject = "acse.epc"
	}
	if c.NATS.EventSubject == "" {
		c.NATS.EventSubject = "acse.event"
	}
	if c.NATS.RequestTimeout == 0 {
		c.NATS.RequestTimeout = 5 * time.Second
	}

	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "acse-events"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "acse"
	}

	if c.Webhook.Timeout == 0 {
		c.Webhook.Timeout = 5 * time.Second
	}

	if c.JWT.AccessTokenTTL == 0 {
		c.JWT.AccessTokenTTL = 15 * time.Minute
	}
	if c.JWT.RefreshTokenTTL == 0 {
		c.JWT.RefreshTokenTTL = 24 * time.Hour
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}

	if c.EPC.Socket == "" {
		c.EPC.Socket = "/tmp/acse-epc.sock"
	}

	if c.Session.TLSHandshakeTimeout == 0 {
		c.Session.TLSHandshakeTimeout = 5 * time.Second
	}
	if c.Session.WriteTimeout == 0 {
		c.Session.WriteTimeout = 5 * time.Second
	}
	if c.Session.ArenaLimit == 0 {
		c.Session.ArenaLimit = 8 << 20
	}
	if c.Session.MaxRequestSize == 0 {
		c.Session.MaxRequestSize = 4 << 20
	}
	if c.Session.ConnReqTimeout == 0 {
		c.Session.ConnReqTimeout = 10 * time.Second
	}

	if c.Events.QueueSize == 0 {
		c.Events.QueueSize = 1024
	}
	if c.Events.MemoryCapacity == 0 {
		c.Events.MemoryCapacity = 4096
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	for i := range c.Acs {
		if c.Acs[i].AuthMode == "" {
			c.Acs[i].AuthMode = "digest"
		}
	}
}

func (c *Config) validate() error {
	if c.API.Enabled && c.JWT.Secret == "" {
		return fmt.Errorf("api enabled without jwt secret")
	}
	seen := make(map[string]bool)
	for _, a := range c.Acs {
		if a.Name == "" {
			return fmt.Errorf("acs without name")
		}
		if seen[a.Name] {
			return fmt.Errorf("duplicate acs %q", a.Name)
		}
		seen[a.Name] = true
		if a.Enabled && (a.Port <= 0 || a.Port > 65535) {
			return fmt.Errorf("acs %q: invalid port %d", a.Name, a.Port)
		}
		if a.SSL && a.Cert == "" {
			return fmt.Errorf("acs %q: ssl requires cert", a.Name)
		}
	}
	return nil
}

// PrintConfigSummary prints the configuration summary
func (c *Config) PrintConfigSummary() {
	fmt.Printf("=== ACS Emulator Configuration ===\n")
	fmt.Printf("Server: %s %s\n", c.Server.Name, c.Server.Version)
	fmt.Printf("EPC socket: %s\n", c.EPC.Socket)
	if c.API.Enabled {
		fmt.Printf("REST API: %s:%d\n", c.API.Host, c.API.Port)
	}
	if c.NATS.URL != "" {
		fmt.Printf("NATS: %s (epc %s, events %s)\n", c.NATS.URL, c.NATS.EPCSubject, c.NATS.EventSubject)
	}
	if c.MQTT.Broker != "" {
		fmt.Printf("MQTT: %s (prefix %s)\n", c.MQTT.Broker, c.MQTT.TopicPrefix)
	}
	if c.Database.DSN != "" {
		fmt.Printf("Event journal: postgres\n")
	} else {
		fmt.Printf("Event journal: memory (%d entries)\n", c.Events.MemoryCapacity)
	}
	for _, a := range c.Acs {
		scheme := "http"
		if a.SSL {
			scheme = "https"
		}
		fmt.Printf("ACS %s: %s port %d url %q auth %s enabled=%v cpes=%d\n",
			a.Name, scheme, a.Port, a.URL, a.AuthMode, a.Enabled, len(a.Cpes))
	}
	fmt.Printf("==================================\n")
}
