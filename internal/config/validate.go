package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rickgao/kis-stream/internal/model"
)

// Validate checks that all required fields are set and values are valid.
func (c *StreamerConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := c.API.validate(); err != nil {
		return err
	}

	if err := c.Subscriptions.validate(); err != nil {
		return err
	}
	if c.Subscriptions.PersonalFills && c.API.HTSID == "" {
		return errors.New("api.hts_id is required when subscriptions.personal_fills is set")
	}

	if c.Connections.DialMaxAttempts < 1 {
		return errors.New("connections.dial_max_attempts must be >= 1")
	}
	if c.Connections.AckTimeout < 0 {
		return errors.New("connections.ack_timeout must be >= 0")
	}
	if c.Connections.QueueSize < 1 {
		return errors.New("connections.queue_size must be >= 1")
	}

	if c.Database.Enabled {
		if err := c.Database.Timescale.validate("database.timescale"); err != nil {
			return err
		}
	}

	if c.Writers.BatchSize < 1 {
		return errors.New("writers.batch_size must be >= 1")
	}
	if c.Writers.BufferSize < 1 {
		return errors.New("writers.buffer_size must be >= 1")
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("kafka.brokers is required when kafka is enabled")
		}
		if strings.TrimSpace(c.Kafka.TopicPrefix) == "" {
			return errors.New("kafka.topic_prefix must not be blank")
		}
	}

	if c.Ledger.Enabled && c.Ledger.Path == "" {
		return errors.New("ledger.path is required when the ledger is enabled")
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (a *APIConfig) validate() error {
	if _, err := model.ParseEnvironment(a.Environment); err != nil {
		return fmt.Errorf("api.environment: %w", err)
	}
	if a.AppKey == "" {
		return errors.New("api.app_key is required")
	}
	if a.AppSecret == "" {
		return errors.New("api.app_secret is required")
	}
	if a.ApprovalKey == "" {
		return errors.New("api.approval_key is required")
	}
	switch model.CustomerType(a.CustomerType) {
	case model.CustomerPersonal, model.CustomerBusiness:
	default:
		return fmt.Errorf("api.customer_type must be P or B, got %q", a.CustomerType)
	}
	return nil
}

func (s *SubscriptionsConfig) validate() error {
	if len(s.TradeTicks) == 0 && len(s.OrderBooks) == 0 && !s.PersonalFills {
		return errors.New("subscriptions: nothing to subscribe")
	}
	for name, codes := range map[string][]string{
		"trade_ticks": s.TradeTicks,
		"order_books": s.OrderBooks,
	} {
		seen := make(map[string]bool, len(codes))
		for _, code := range codes {
			if strings.TrimSpace(code) == "" {
				return fmt.Errorf("subscriptions.%s contains a blank code", name)
			}
			if seen[code] {
				return fmt.Errorf("subscriptions.%s lists %s twice", name, code)
			}
			seen[code] = true
		}
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
