// Package config loads the verifier configuration from defaults, an
// optional YAML file and VERIFY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/opensource-finance/osprey-verify/internal/domain"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. VERIFY_TMS_BASE_URL.
const EnvPrefix = "VERIFY"

// Load reads configuration. An empty path skips the file.
func Load(path string) (*domain.Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg domain.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults mirrors domain.DefaultConfig so every key is known to viper
// and can be overridden from the environment.
func setDefaults(v *viper.Viper) {
	d := domain.DefaultConfig()

	// Server defaults
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.allowed_origins", []string{})

	// TMS defaults
	v.SetDefault("tms.base_url", d.TMS.BaseURL)
	v.SetDefault("tms.request_timeout", d.TMS.RequestTimeout)
	v.SetDefault("tms.currency", d.TMS.Currency)
	v.SetDefault("tms.tenant_id", d.TMS.TenantID)

	// Mock defaults
	v.SetDefault("mock.server.host", d.Mock.Server.Host)
	v.SetDefault("mock.server.port", d.Mock.Server.Port)
	v.SetDefault("mock.server.read_timeout", d.Mock.Server.ReadTimeout)
	v.SetDefault("mock.server.write_timeout", d.Mock.Server.WriteTimeout)
	v.SetDefault("mock.high_value_flag", d.Mock.HighValueFlag)
	v.SetDefault("mock.log_buffer_lines", d.Mock.LogBufferLines)
	v.SetDefault("mock.publish_events", d.Mock.PublishEvents)
	v.SetDefault("mock.embedded", d.Mock.Embedded)
	v.SetDefault("mock.correlation.type", d.Mock.Correlation.Type)
	v.SetDefault("mock.correlation.max_size", d.Mock.Correlation.MaxSize)
	v.SetDefault("mock.correlation.ttl", d.Mock.Correlation.TTL)
	v.SetDefault("mock.correlation.redis_addr", "localhost:6379")
	v.SetDefault("mock.correlation.redis_password", "")
	v.SetDefault("mock.correlation.redis_db", 0)

	// Velocity gate defaults
	v.SetDefault("velocity.window", d.Velocity.Window)
	v.SetDefault("velocity.limit", d.Velocity.Limit)
	v.SetDefault("velocity.store", d.Velocity.Store)
	v.SetDefault("velocity.redis_addr", "localhost:6379")
	v.SetDefault("velocity.redis_password", "")
	v.SetDefault("velocity.redis_db", 0)

	// Scenario amount policy defaults
	v.SetDefault("scenario.step_ratio", d.Scenario.StepRatio)
	v.SetDefault("scenario.cycle", d.Scenario.Cycle)
	v.SetDefault("scenario.jitter_min", d.Scenario.JitterMin)
	v.SetDefault("scenario.jitter_max", d.Scenario.JitterMax)
	v.SetDefault("scenario.velocity_base", d.Scenario.VelocityBase)
	v.SetDefault("scenario.fan_in_base", d.Scenario.FanInBase)
	v.SetDefault("scenario.structuring_base", d.Scenario.StructuringBase)
	v.SetDefault("scenario.structuring_jitter", d.Scenario.StructuringJitter)
	v.SetDefault("scenario.high_value_baseline_base", d.Scenario.HighValueBaselineBase)
	v.SetDefault("scenario.high_value_target", d.Scenario.HighValueTarget)

	// Simulation defaults
	v.SetDefault("simulation.post_baseline_delay", d.Simulation.PostBaselineDelay)
	v.SetDefault("simulation.post_attack_delay", d.Simulation.PostAttackDelay)
	v.SetDefault("simulation.post_detect_delay", d.Simulation.PostDetectDelay)
	v.SetDefault("simulation.quick_status_delay", d.Simulation.QuickStatusDelay)
	v.SetDefault("simulation.full_transaction_delay", d.Simulation.FullTransactionDelay)
	v.SetDefault("simulation.baseline_amount", d.Simulation.BaselineAmount)
	v.SetDefault("simulation.baseline_creditor", d.Simulation.BaselineCreditor)
	v.SetDefault("simulation.block_creditor", d.Simulation.BlockCreditor)
	v.SetDefault("simulation.mule_creditor", d.Simulation.MuleCreditor)
	v.SetDefault("simulation.default_account", d.Simulation.DefaultAccount)
	v.SetDefault("simulation.default_rule", d.Simulation.DefaultRule)
	v.SetDefault("simulation.default_attack_count", d.Simulation.DefaultAttackCount)
	v.SetDefault("simulation.max_attack_count", d.Simulation.MaxAttackCount)
	v.SetDefault("simulation.detect_mode", d.Simulation.DetectMode)
	v.SetDefault("simulation.log_tail", d.Simulation.LogTail)

	// Log source defaults
	v.SetDefault("log_source.type", d.LogSource.Type)
	v.SetDefault("log_source.url", d.LogSource.URL)
	v.SetDefault("log_source.prefix", d.LogSource.Prefix)
	v.SetDefault("log_source.suffix", d.LogSource.Suffix)

	// History defaults
	v.SetDefault("history.driver", d.History.Driver)
	v.SetDefault("history.max_records", d.History.MaxRecords)
	v.SetDefault("history.sqlite_path", d.History.SQLitePath)
	v.SetDefault("history.postgres_host", "localhost")
	v.SetDefault("history.postgres_port", 5432)
	v.SetDefault("history.postgres_user", "")
	v.SetDefault("history.postgres_password", "")
	v.SetDefault("history.postgres_db", "osprey_verify")
	v.SetDefault("history.postgres_ssl_mode", "disable")
	v.SetDefault("history.max_open_conns", 0)
	v.SetDefault("history.max_idle_conns", 0)
	v.SetDefault("history.conn_max_lifetime", "0s")

	// Event bus defaults
	v.SetDefault("event_bus.type", d.EventBus.Type)
	v.SetDefault("event_bus.channel_buffer_size", d.EventBus.ChannelBufferSize)
	v.SetDefault("event_bus.namespace", "verify")
	v.SetDefault("event_bus.nats_url", "nats://localhost:4222")
	v.SetDefault("event_bus.nats_token", "")
	v.SetDefault("event_bus.nats_max_reconnects", 10)
	v.SetDefault("event_bus.nats_reconnect_wait", 5)

	// Observability defaults
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
}

// Validate checks that all configuration values are usable.
func Validate(c *domain.Config) error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port > 0 && c.Server.Port < 65536, "server.port must be between 1 and 65535")
	check(c.TMS.BaseURL != "", "tms.base_url is required")
	check(c.TMS.RequestTimeout > 0, "tms.request_timeout must be positive")
	check(c.TMS.Currency != "", "tms.currency is required")

	check(c.Velocity.Window > 0, "velocity.window must be positive")
	check(c.Velocity.Limit >= 1, "velocity.limit must be at least 1")
	check(oneOf(c.Velocity.Store, "memory", "redis"), "velocity.store must be one of: memory, redis")

	check(c.Mock.HighValueFlag >= 0, "mock.high_value_flag must not be negative")
	check(c.Mock.LogBufferLines >= 1, "mock.log_buffer_lines must be at least 1")
	check(oneOf(c.Mock.Correlation.Type, "memory", "redis"), "mock.correlation.type must be one of: memory, redis")

	check(c.Scenario.StepRatio >= 0, "scenario.step_ratio must not be negative")
	check(c.Scenario.Cycle >= 1, "scenario.cycle must be at least 1")
	check(c.Scenario.JitterMin >= 0 && c.Scenario.JitterMin <= c.Scenario.JitterMax,
		"scenario.jitter_min must be between 0 and scenario.jitter_max")

	check(c.Simulation.MaxAttackCount >= 3, "simulation.max_attack_count must be at least 3")
	check(c.Simulation.DefaultAttackCount >= 3 && c.Simulation.DefaultAttackCount <= c.Simulation.MaxAttackCount,
		"simulation.default_attack_count must be between 3 and simulation.max_attack_count")
	check(c.Simulation.BaselineAmount > 0, "simulation.baseline_amount must be positive")
	check(oneOf(c.Simulation.DetectMode, "logs", "events"), "simulation.detect_mode must be one of: logs, events")
	check(c.Simulation.LogTail >= 1, "simulation.log_tail must be at least 1")
	if _, err := domain.ParseTypology(c.Simulation.DefaultRule); err != nil {
		errs = append(errs, fmt.Errorf("simulation.default_rule: %w", err))
	}

	check(oneOf(c.LogSource.Type, "http", "docker"), "log_source.type must be one of: http, docker")
	check(oneOf(c.History.Driver, "memory", "sqlite", "postgres"), "history.driver must be one of: memory, sqlite, postgres")
	check(oneOf(c.EventBus.Type, "channel", "nats"), "event_bus.type must be one of: channel, nats")

	check(oneOf(c.Logging.Level, "debug", "info", "warn", "error"), "logging.level must be one of: debug, info, warn, error")
	check(oneOf(c.Logging.Format, "json", "text"), "logging.format must be one of: json, text")

	return errors.Join(errs...)
}

func oneOf(s string, allowed ...string) bool {
	for _, a := range allowed {
		if s == a {
			return true
		}
	}
	return false
}
