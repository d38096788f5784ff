package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/lewisedginton/mesh_llm_relay/pkg/logger"
)

// Transport names accepted by RADIO_TRANSPORT.
const (
	TransportSerial = "serial"
	TransportTCP    = "tcp"
)

// MaxTextPayload is the largest text payload a Meshtastic packet can carry.
const MaxTextPayload = 233

// AppConfig holds all application configuration
type AppConfig struct {
	ServiceName string `env:"SERVICE_NAME" yaml:"service_name" default:"mesh-llm-relay"`
	Version     string `env:"VERSION" yaml:"version" default:"dev"`

	Radio      RadioConfig      `yaml:"radio"`
	Ollama     OllamaConfig     `yaml:"ollama"`
	Relay      RelayConfig      `yaml:"relay"`
	Logging    LoggingConfig    `yaml:"logging"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Health     HealthConfig     `yaml:"health"`
}

// RadioConfig selects and tunes the Meshtastic link.
type RadioConfig struct {
	Transport         string        `env:"RADIO_TRANSPORT" yaml:"transport" default:"serial"`
	SerialPort        string        `env:"RADIO_SERIAL_PORT" yaml:"serial_port"`
	BaudRate          int           `env:"RADIO_BAUD_RATE" yaml:"baud_rate" default:"115200"`
	TCPAddress        string        `env:"RADIO_TCP_ADDRESS" yaml:"tcp_address" default:"localhost:4403"`
	ConnectTimeout    time.Duration `env:"RADIO_CONNECT_TIMEOUT" yaml:"connect_timeout" default:"30s"`
	HeartbeatInterval time.Duration `env:"RADIO_HEARTBEAT_INTERVAL" yaml:"heartbeat_interval" default:"5m"`
	Channel           uint32        `env:"RADIO_CHANNEL" yaml:"channel"`
	HopLimit          uint32        `env:"RADIO_HOP_LIMIT" yaml:"hop_limit" default:"3"`
	WantAck           bool          `env:"RADIO_WANT_ACK" yaml:"want_ack"`
}

// OllamaConfig points at the inference endpoint.
type OllamaConfig struct {
	BaseURL string        `env:"OLLAMA_BASE_URL" yaml:"base_url" default:"http://localhost:11434"`
	Model   string        `env:"OLLAMA_MODEL" yaml:"model" default:"llama2"`
	Timeout time.Duration `env:"OLLAMA_TIMEOUT" yaml:"timeout" default:"10s"`
}

// RelayConfig controls message filtering and reply shaping.
type RelayConfig struct {
	TriggerToken   string `env:"RELAY_TRIGGER_TOKEN" yaml:"trigger_token" default:"@ai"`
	MaxReplyLength int    `env:"RELAY_MAX_REPLY_LENGTH" yaml:"max_reply_length" default:"200"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL" yaml:"level" default:"info"`
	Format string `env:"LOG_FORMAT" yaml:"format" default:"text"`
}

// MonitoringConfig holds the monitoring HTTP server configuration.
type MonitoringConfig struct {
	Enabled            bool     `env:"MONITORING_ENABLED" yaml:"enabled" default:"true"`
	Port               int      `env:"MONITORING_PORT" yaml:"port" default:"9090"`
	PathPrefix         string   `env:"MONITORING_PATH_PREFIX" yaml:"path_prefix"`
	CORSAllowedOrigins []string `env:"MONITORING_CORS_ALLOWED_ORIGINS" yaml:"cors_allowed_origins" default:"http://localhost:3000"`
}

// HealthConfig holds health check configuration
type HealthConfig struct {
	Timeout          time.Duration `env:"HEALTH_TIMEOUT" yaml:"timeout" default:"5s"`
	FailureThreshold int           `env:"HEALTH_FAILURE_THRESHOLD" yaml:"failure_threshold" default:"3"`
}

// Validate validates the configuration and returns an error if invalid
func (c *AppConfig) Validate() error {
	var result error

	switch c.Radio.Transport {
	case TransportSerial:
		if c.Radio.BaudRate <= 0 {
			result = multierror.Append(result, fmt.Errorf("radio_baud_rate must be greater than 0, got %d", c.Radio.BaudRate))
		}
	case TransportTCP:
		if c.Radio.TCPAddress == "" {
			result = multierror.Append(result, fmt.Errorf("radio_tcp_address is required for the tcp transport"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("radio_transport must be one of [serial, tcp], got %q", c.Radio.Transport))
	}
	if c.Radio.ConnectTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("radio_connect_timeout must be greater than 0"))
	}
	if c.Radio.HeartbeatInterval < 0 {
		result = multierror.Append(result, fmt.Errorf("radio_heartbeat_interval cannot be negative"))
	}
	if c.Radio.HopLimit > 7 {
		result = multierror.Append(result, fmt.Errorf("radio_hop_limit must be between 0 and 7, got %d", c.Radio.HopLimit))
	}

	if u, err := url.Parse(c.Ollama.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		result = multierror.Append(result, fmt.Errorf("ollama_base_url must be an absolute URL, got %q", c.Ollama.BaseURL))
	}
	if c.Ollama.Timeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("ollama_timeout must be greater than 0"))
	}

	if strings.TrimSpace(c.Relay.TriggerToken) == "" {
		result = multierror.Append(result, fmt.Errorf("relay_trigger_token cannot be empty"))
	}
	if c.Relay.MaxReplyLength < 1 || c.Relay.MaxReplyLength > MaxTextPayload {
		result = multierror.Append(result, fmt.Errorf("relay_max_reply_length must be between 1 and %d, got %d", MaxTextPayload, c.Relay.MaxReplyLength))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		result = multierror.Append(result, fmt.Errorf("log_level must be one of [debug, info, warn, error], got %q", c.Logging.Level))
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		result = multierror.Append(result, fmt.Errorf("log_format must be either 'json' or 'text', got %q", c.Logging.Format))
	}

	if c.Monitoring.Enabled && (c.Monitoring.Port < 1 || c.Monitoring.Port > 65535) {
		result = multierror.Append(result, fmt.Errorf("monitoring_port must be between 1 and 65535, got %d", c.Monitoring.Port))
	}
	if c.Monitoring.PathPrefix != "" && !strings.HasPrefix(c.Monitoring.PathPrefix, "/") {
		result = multierror.Append(result, fmt.Errorf("monitoring_path_prefix must start with '/', got %q", c.Monitoring.PathPrefix))
	}

	if c.Health.Timeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("health_timeout must be greater than 0"))
	}
	if c.Health.FailureThreshold < 1 {
		result = multierror.Append(result, fmt.Errorf("health_failure_threshold must be at least 1"))
	}

	return result
}

// GetLogLevel returns the parsed logger level
func (c *AppConfig) GetLogLevel() logger.Level {
	return logger.ParseLevel(c.Logging.Level)
}

// LogConfig logs the effective configuration.
func (c *AppConfig) LogConfig(log logger.Logger) {
	radioTarget := c.Radio.TCPAddress
	if c.Radio.Transport == TransportSerial {
		radioTarget = c.Radio.SerialPort
		if radioTarget == "" {
			radioTarget = "auto"
		}
	}
	log.Info("Application configuration loaded",
		logger.StringField("service_name", c.ServiceName),
		logger.StringField("version", c.Version),
		logger.StringField("radio_transport", c.Radio.Transport),
		logger.StringField("radio_target", radioTarget),
		logger.StringField("ollama_url", c.Ollama.BaseURL),
		logger.StringField("ollama_model", c.Ollama.Model),
		logger.DurationField("ollama_timeout", c.Ollama.Timeout),
		logger.StringField("trigger_token", c.Relay.TriggerToken),
		logger.IntField("max_reply_length", c.Relay.MaxReplyLength),
		logger.StringField("log_level", c.Logging.Level),
		logger.BoolField("monitoring_enabled", c.Monitoring.Enabled),
		logger.IntField("monitoring_port", c.Monitoring.Port),
	)
}
