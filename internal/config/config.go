// Package config loads service configuration from environment variables and
// an optional config file via viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Service       ServiceConfig
	Server        ServerConfig
	Database      DatabaseConfig
	NATS          NATSConfig
	Workflow      WorkflowConfig
	Notifications NotificationConfig
}

// ServiceConfig identifies the running service.
type ServiceConfig struct {
	Name        string
	Version     string
	Environment string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds Postgres settings.
type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	SSLMode     string
	MaxConns    int32
	MinConns    int32
	MaxConnTime time.Duration
	MaxIdleTime time.Duration
}

// NATSConfig holds the outbound messaging settings.
type NATSConfig struct {
	URL         string
	MailSubject string
}

// WorkflowConfig holds engine knobs.
type WorkflowConfig struct {
	// FallbackRejectRoles may reject entities whose type has no active
	// workflow configuration. Kept configurable rather than hardcoded.
	FallbackRejectRoles []string
}

// NotificationConfig holds orchestrator and sweeper knobs.
type NotificationConfig struct {
	Enabled          bool
	DedupeWindow     time.Duration
	SweepInterval    time.Duration
	SweepBatchSize   int
	MaxRetries       int
	RetryDelay       time.Duration
	QuietHoursBuffer time.Duration
}

// Load reads configuration from APPROVALS_* environment variables and an
// optional config.yaml in the working directory.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("APPROVALS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		// The config file is optional; only real read failures are fatal.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		Service: ServiceConfig{
			Name:        v.GetString("service.name"),
			Version:     v.GetString("service.version"),
			Environment: v.GetString("service.environment"),
		},
		Server: ServerConfig{
			Port:            v.GetInt("server.port"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			IdleTimeout:     v.GetDuration("server.idle_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Database: DatabaseConfig{
			Host:        v.GetString("database.host"),
			Port:        v.GetInt("database.port"),
			User:        v.GetString("database.user"),
			Password:    v.GetString("database.password"),
			Database:    v.GetString("database.name"),
			SSLMode:     v.GetString("database.sslmode"),
			MaxConns:    int32(v.GetInt("database.max_conns")),
			MinConns:    int32(v.GetInt("database.min_conns")),
			MaxConnTime: v.GetDuration("database.max_conn_time"),
			MaxIdleTime: v.GetDuration("database.max_idle_time"),
		},
		NATS: NATSConfig{
			URL:         v.GetString("nats.url"),
			MailSubject: v.GetString("nats.mail_subject"),
		},
		Workflow: WorkflowConfig{
			FallbackRejectRoles: v.GetStringSlice("workflow.fallback_reject_roles"),
		},
		Notifications: NotificationConfig{
			Enabled:          v.GetBool("notifications.enabled"),
			DedupeWindow:     v.GetDuration("notifications.dedupe_window"),
			SweepInterval:    v.GetDuration("notifications.sweep_interval"),
			SweepBatchSize:   v.GetInt("notifications.sweep_batch_size"),
			MaxRetries:       v.GetInt("notifications.max_retries"),
			RetryDelay:       v.GetDuration("notifications.retry_delay"),
			QuietHoursBuffer: v.GetDuration("notifications.quiet_hours_buffer"),
		},
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "be-plt-approvals")
	v.SetDefault("service.version", "dev")
	v.SetDefault("service.environment", "development")

	v.SetDefault("server.port", 8086)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "approvals")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_time", time.Hour)
	v.SetDefault("database.max_idle_time", 30*time.Minute)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.mail_subject", "notifications.mail.send")

	v.SetDefault("workflow.fallback_reject_roles", []string{"COMPANY_ADMIN", "SUPER_ADMIN"})

	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.dedupe_window", 10*time.Minute)
	v.SetDefault("notifications.sweep_interval", time.Minute)
	v.SetDefault("notifications.sweep_batch_size", 50)
	v.SetDefault("notifications.max_retries", 3)
	v.SetDefault("notifications.retry_delay", 5*time.Minute)
	v.SetDefault("notifications.quiet_hours_buffer", time.Minute)
}
