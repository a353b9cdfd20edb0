package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultEnvironment          = "virtual"
	DefaultCustomerType         = "P"
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultAckTimeout           = 10 * time.Second
	DefaultDialMaxAttempts      = 3
	DefaultDialBaseDelay        = 500 * time.Millisecond
	DefaultDialMaxDelay         = 5 * time.Second
	DefaultQueueSize            = 1024
	DefaultResubscribeBaseDelay = 1 * time.Second
	DefaultResubscribeMaxDelay  = 60 * time.Second
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultBatchSize            = 1000
	DefaultFlushInterval        = 1 * time.Second
	DefaultDBWriteTimeout       = 10 * time.Second
	DefaultBufferSize           = 10000
	DefaultTopicPrefix          = "kis"
	DefaultKafkaClientID        = "kis-stream"
	DefaultKafkaLinger          = 10 * time.Millisecond
	DefaultLedgerPath           = "fills.db"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
	DefaultMetricsPort          = 9090
	DefaultMetricsPath          = "/health"
)

func (c *StreamerConfig) applyDefaults() {
	// API defaults
	if c.API.Environment == "" {
		c.API.Environment = DefaultEnvironment
	}
	if c.API.CustomerType == "" {
		c.API.CustomerType = DefaultCustomerType
	}

	// Connections defaults
	if c.Connections.HandshakeTimeout == 0 {
		c.Connections.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Connections.WriteTimeout == 0 {
		c.Connections.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connections.AckTimeout == 0 {
		c.Connections.AckTimeout = DefaultAckTimeout
	}
	if c.Connections.DialMaxAttempts == 0 {
		c.Connections.DialMaxAttempts = DefaultDialMaxAttempts
	}
	if c.Connections.DialBaseDelay == 0 {
		c.Connections.DialBaseDelay = DefaultDialBaseDelay
	}
	if c.Connections.DialMaxDelay == 0 {
		c.Connections.DialMaxDelay = DefaultDialMaxDelay
	}
	if c.Connections.QueueSize == 0 {
		c.Connections.QueueSize = DefaultQueueSize
	}
	if c.Connections.ResubscribeBaseDelay == 0 {
		c.Connections.ResubscribeBaseDelay = DefaultResubscribeBaseDelay
	}
	if c.Connections.ResubscribeMaxDelay == 0 {
		c.Connections.ResubscribeMaxDelay = DefaultResubscribeMaxDelay
	}

	// Database defaults
	applyDBDefaults(&c.Database.Timescale)

	// Writers defaults
	if c.Writers.BatchSize == 0 {
		c.Writers.BatchSize = DefaultBatchSize
	}
	if c.Writers.FlushInterval == 0 {
		c.Writers.FlushInterval = DefaultFlushInterval
	}
	if c.Writers.WriteTimeout == 0 {
		c.Writers.WriteTimeout = DefaultDBWriteTimeout
	}
	if c.Writers.BufferSize == 0 {
		c.Writers.BufferSize = DefaultBufferSize
	}

	// Kafka defaults
	if c.Kafka.TopicPrefix == "" {
		c.Kafka.TopicPrefix = DefaultTopicPrefix
	}
	if c.Kafka.ClientID == "" {
		c.Kafka.ClientID = DefaultKafkaClientID
	}
	if c.Kafka.Linger == 0 {
		c.Kafka.Linger = DefaultKafkaLinger
	}

	// Ledger defaults
	if c.Ledger.Path == "" {
		c.Ledger.Path = DefaultLedgerPath
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
