/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all configuration for the daemon
type Config struct {
	// configFileUsed is the path to the config file that was loaded (empty if none)
	configFileUsed string

	// LogLevel is the logging level (debug, info, warn, error)
	LogLevel string `mapstructure:"log-level"`

	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Storage configuration
	Storage StorageConfig `mapstructure:"storage"`

	// Monitor configuration
	Monitor MonitorConfig `mapstructure:"monitor"`

	// Notify configuration
	Notify NotifyConfig `mapstructure:"notify"`

	// Clean configuration
	Clean CleanConfig `mapstructure:"clean"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	// Port is the HTTP listen port
	Port int `mapstructure:"port" json:"port"`
}

// StorageConfig configures the storage backend
type StorageConfig struct {
	// Type is the storage backend type (sqlite, mysql, postgres)
	Type string `mapstructure:"type" json:"type"`

	// SQLite configuration
	SQLite SQLiteConfig `mapstructure:"sqlite" json:"sqlite,omitempty"`

	// MySQL configuration
	MySQL MySQLConfig `mapstructure:"mysql" json:"mysql,omitempty"`

	// PostgreSQL configuration
	PostgreSQL PostgreSQLConfig `mapstructure:"postgres" json:"postgres,omitempty"`

	// OutputDir, when set, stores captured job output as files under
	// this directory instead of in the database
	OutputDir string `mapstructure:"output-dir" json:"outputDir,omitempty"`
}

// SQLiteConfig configures SQLite storage
type SQLiteConfig struct {
	// Path to database file
	Path string `mapstructure:"path" json:"path"`
}

// MySQLConfig configures MySQL/MariaDB storage
type MySQLConfig struct {
	// Host is the database host
	Host string `mapstructure:"host" json:"host,omitempty"`

	// Port is the database port
	Port int `mapstructure:"port" json:"port,omitempty"`

	// Database name
	Database string `mapstructure:"database" json:"database,omitempty"`

	// Username for authentication
	Username string `mapstructure:"username" json:"username,omitempty"`

	// Password for authentication (omitted from JSON for security)
	Password string `mapstructure:"password" json:"-"`
}

// PostgreSQLConfig configures PostgreSQL storage
type PostgreSQLConfig struct {
	// Host is the database host
	Host string `mapstructure:"host" json:"host,omitempty"`

	// Port is the database port
	Port int `mapstructure:"port" json:"port,omitempty"`

	// Database name
	Database string `mapstructure:"database" json:"database,omitempty"`

	// Username for authentication
	Username string `mapstructure:"username" json:"username,omitempty"`

	// Password for authentication (omitted from JSON for security)
	Password string `mapstructure:"password" json:"-"`

	// SSLMode for connection
	SSLMode string `mapstructure:"ssl-mode" json:"sslMode,omitempty"`
}

// MonitorConfig configures the alarm engine
type MonitorConfig struct {
	// PollInterval is how often the monitor checks for new events
	PollInterval time.Duration `mapstructure:"poll-interval" json:"pollInterval"`
}

// NotifyConfig configures notification delivery
type NotifyConfig struct {
	// DailyTime is the cron schedule on which notifications without
	// their own schedule fire
	DailyTime string `mapstructure:"daily-time" json:"dailyTime"`

	// DailyTimezone is the timezone for the daily schedule
	DailyTimezone string `mapstructure:"daily-timezone" json:"dailyTimezone"`

	// SMTP configuration for email reports
	SMTP SMTPConfig `mapstructure:"smtp" json:"smtp"`
}

// SMTPConfig configures the email relay
type SMTPConfig struct {
	// Host is the relay address (host:port)
	Host string `mapstructure:"host" json:"host"`

	// From is the envelope sender
	From string `mapstructure:"from" json:"from"`

	// Subject line for report emails
	Subject string `mapstructure:"subject" json:"subject"`
}

// CleanConfig configures event retention
type CleanConfig struct {
	// Schedule is the cron expression on which old events are removed
	Schedule string `mapstructure:"schedule" json:"schedule"`

	// Timezone for the clean schedule
	Timezone string `mapstructure:"timezone" json:"timezone"`

	// KeepDays is how many days of events to retain
	KeepDays int `mapstructure:"keep-days" json:"keepDays"`
}

// DSN builds a MySQL connection string
func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.Username, c.Password, c.Host, c.Port, c.Database)
}

// DSN builds a PostgreSQL connection string
func (c PostgreSQLConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode)
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Server: ServerConfig{
			Port: 8000,
		},
		Storage: StorageConfig{
			Type: "sqlite",
			SQLite: SQLiteConfig{
				Path: "/var/lib/crabd/crabd.db",
			},
			MySQL: MySQLConfig{
				Port: 3306,
			},
			PostgreSQL: PostgreSQLConfig{
				Port:    5432,
				SSLMode: "require",
			},
		},
		Monitor: MonitorConfig{
			PollInterval: 5 * time.Second,
		},
		Notify: NotifyConfig{
			DailyTime:     "0 8 * * *",
			DailyTimezone: "UTC",
			SMTP: SMTPConfig{
				Host:    "localhost:25",
				From:    "crabd@localhost",
				Subject: "Cron job report",
			},
		},
		Clean: CleanConfig{
			Schedule: "30 4 * * *",
			Timezone: "UTC",
			KeepDays: 90,
		},
	}
}

// BindFlags binds configuration flags to pflags
func BindFlags(flags *pflag.FlagSet) {
	defaults := DefaultConfig()

	// Top-level
	flags.String("config", "", "Path to config file")
	flags.String("log-level", defaults.LogLevel, "Log level (debug, info, warn, error)")

	// Server
	flags.Int("server.port", defaults.Server.Port, "HTTP listen port")

	// Storage
	flags.String("storage.type", defaults.Storage.Type, "Storage backend type (sqlite, mysql, postgres)")
	flags.String("storage.sqlite.path", defaults.Storage.SQLite.Path, "Path to SQLite database file")
	flags.String("storage.mysql.host", "", "MySQL host")
	flags.Int("storage.mysql.port", defaults.Storage.MySQL.Port, "MySQL port")
	flags.String("storage.mysql.database", "", "MySQL database name")
	flags.String("storage.mysql.username", "", "MySQL username")
	flags.String("storage.mysql.password", "", "MySQL password")
	flags.String("storage.postgres.host", "", "PostgreSQL host")
	flags.Int("storage.postgres.port", defaults.Storage.PostgreSQL.Port, "PostgreSQL port")
	flags.String("storage.postgres.database", "", "PostgreSQL database name")
	flags.String("storage.postgres.username", "", "PostgreSQL username")
	flags.String("storage.postgres.password", "", "PostgreSQL password")
	flags.String("storage.postgres.ssl-mode", defaults.Storage.PostgreSQL.SSLMode, "PostgreSQL SSL mode")
	flags.String("storage.output-dir", "", "Directory for file-based job output storage (empty = store in database)")

	// Monitor
	flags.Duration("monitor.poll-interval", defaults.Monitor.PollInterval, "How often the monitor checks for new events")

	// Notify
	flags.String("notify.daily-time", defaults.Notify.DailyTime, "Cron schedule for notifications without their own schedule")
	flags.String("notify.daily-timezone", defaults.Notify.DailyTimezone, "Timezone for the daily notification schedule")
	flags.String("notify.smtp.host", defaults.Notify.SMTP.Host, "SMTP relay address (host:port)")
	flags.String("notify.smtp.from", defaults.Notify.SMTP.From, "Envelope sender for report emails")
	flags.String("notify.smtp.subject", defaults.Notify.SMTP.Subject, "Subject line for report emails")

	// Clean
	flags.String("clean.schedule", defaults.Clean.Schedule, "Cron expression for the retention cleaner")
	flags.String("clean.timezone", defaults.Clean.Timezone, "Timezone for the clean schedule")
	flags.Int("clean.keep-days", defaults.Clean.KeepDays, "How many days of events to retain")
}

// Load loads configuration from flags, environment, and config file
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// Set defaults from DefaultConfig
	defaults := DefaultConfig()
	v.SetDefault("log-level", defaults.LogLevel)
	v.SetDefault("server.port", defaults.Server.Port)
	v.SetDefault("storage.type", defaults.Storage.Type)
	v.SetDefault("storage.sqlite.path", defaults.Storage.SQLite.Path)
	v.SetDefault("storage.mysql.port", defaults.Storage.MySQL.Port)
	v.SetDefault("storage.postgres.port", defaults.Storage.PostgreSQL.Port)
	v.SetDefault("storage.postgres.ssl-mode", defaults.Storage.PostgreSQL.SSLMode)
	v.SetDefault("monitor.poll-interval", defaults.Monitor.PollInterval)
	v.SetDefault("notify.daily-time", defaults.Notify.DailyTime)
	v.SetDefault("notify.daily-timezone", defaults.Notify.DailyTimezone)
	v.SetDefault("notify.smtp.host", defaults.Notify.SMTP.Host)
	v.SetDefault("notify.smtp.from", defaults.Notify.SMTP.From)
	v.SetDefault("notify.smtp.subject", defaults.Notify.SMTP.Subject)
	v.SetDefault("clean.schedule", defaults.Clean.Schedule)
	v.SetDefault("clean.timezone", defaults.Clean.Timezone)
	v.SetDefault("clean.keep-days", defaults.Clean.KeepDays)

	// Bind flags
	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("binding flags: %w", err)
	}

	// Environment variables
	v.SetEnvPrefix("CRABD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	// Config file
	var configFileUsed string
	if configFile, _ := flags.GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		configFileUsed = v.ConfigFileUsed()
	} else {
		// Try default locations
		v.SetConfigName("crabd")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/crabd")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err == nil {
			configFileUsed = v.ConfigFileUsed()
		}
		// Ignore error if no config file found - will use defaults
	}

	// Unmarshal into Config struct
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Store which config file was used (empty string if none)
	cfg.configFileUsed = configFileUsed

	return cfg, nil
}

// ConfigFileUsed returns the path to the config file that was loaded (empty if none)
func (c *Config) ConfigFileUsed() string {
	return c.configFileUsed
}
