package config

import (
	"log/slog"
	"time"
)

// StreamerConfig is the root configuration for a streamer instance.
type StreamerConfig struct {
	Instance      InstanceConfig      `yaml:"instance"`
	API           APIConfig           `yaml:"api"`
	Subscriptions SubscriptionsConfig `yaml:"subscriptions"`
	Connections   ConnectionsConfig   `yaml:"connections"`
	Database      DatabaseConfig      `yaml:"database"`
	Writers       WritersConfig       `yaml:"writers"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Ledger        LedgerConfig        `yaml:"ledger"`
	Logging       LoggingConfig       `yaml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// InstanceConfig identifies this streamer.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// APIConfig holds broker credentials and endpoint selection.
type APIConfig struct {
	Environment  string `yaml:"environment"` // real | virtual
	WSURL        string `yaml:"ws_url"`      // Overrides the environment's endpoint
	AppKey       string `yaml:"app_key"`
	AppSecret    string `yaml:"app_secret"`
	ApprovalKey  string `yaml:"approval_key"` // Websocket approval key
	HTSID        string `yaml:"hts_id"`       // Personal-fill subscription key
	CustomerType string `yaml:"customer_type"`
}

// SubscriptionsConfig lists what to subscribe at startup.
type SubscriptionsConfig struct {
	TradeTicks    []string `yaml:"trade_ticks"` // Instrument short codes
	OrderBooks    []string `yaml:"order_books"`
	PersonalFills bool     `yaml:"personal_fills"`
}

// ConnectionsConfig holds connection manager settings.
type ConnectionsConfig struct {
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	AckTimeout           time.Duration `yaml:"ack_timeout"`
	DialMaxAttempts      int           `yaml:"dial_max_attempts"`
	DialBaseDelay        time.Duration `yaml:"dial_base_delay"`
	DialMaxDelay         time.Duration `yaml:"dial_max_delay"`
	QueueSize            int           `yaml:"queue_size"`
	ResubscribeBaseDelay time.Duration `yaml:"resubscribe_base_delay"`
	ResubscribeMaxDelay  time.Duration `yaml:"resubscribe_max_delay"`
}

// DatabaseConfig holds the TimescaleDB connection for the writers.
type DatabaseConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Hypertables bool     `yaml:"hypertables"` // Convert market tables with create_hypertable
	Timescale   DBConfig `yaml:"timescale"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// WritersConfig holds batch writer settings.
type WritersConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	BufferSize    int           `yaml:"buffer_size"`
}

// KafkaConfig holds publisher settings.
type KafkaConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Brokers     []string      `yaml:"brokers"`
	TopicPrefix string        `yaml:"topic_prefix"` // Topics are <prefix>.<channel>
	ClientID    string        `yaml:"client_id"`
	Linger      time.Duration `yaml:"linger"`
}

// LedgerConfig holds the SQLite fill journal settings.
type LedgerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// MetricsConfig holds the health endpoint settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// SlogLevel returns the configured level. Unknown names read as info;
// Validate rejects them first.
func (l LoggingConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}
