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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(flags)
	return flags
}

func TestLoadDefaults(t *testing.T) {
	flags := newFlags()
	require.NoError(t, flags.Parse(nil))

	cfg, err := Load(flags)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, 5*time.Second, cfg.Monitor.PollInterval)
	assert.Equal(t, "0 8 * * *", cfg.Notify.DailyTime)
	assert.Equal(t, 90, cfg.Clean.KeepDays)
	assert.Empty(t, cfg.ConfigFileUsed())
}

func TestLoadFlagsOverrideDefaults(t *testing.T) {
	flags := newFlags()
	require.NoError(t, flags.Parse([]string{
		"--server.port=9000",
		"--storage.type=mysql",
		"--storage.mysql.host=db.internal",
		"--clean.keep-days=7",
	}))

	cfg, err := Load(flags)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "mysql", cfg.Storage.Type)
	assert.Equal(t, "db.internal", cfg.Storage.MySQL.Host)
	assert.Equal(t, 7, cfg.Clean.KeepDays)
}

func TestLoadEnvironmentOverridesDefaults(t *testing.T) {
	t.Setenv("CRABD_LOG_LEVEL", "debug")
	t.Setenv("CRABD_SERVER_PORT", "8123")

	flags := newFlags()
	require.NoError(t, flags.Parse(nil))

	cfg, err := Load(flags)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 8123, cfg.Server.Port)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "crabd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log-level: warn
server:
  port: 8777
notify:
  smtp:
    host: relay.internal:587
`), 0o644))

	flags := newFlags()
	require.NoError(t, flags.Parse([]string{"--config=" + path}))

	cfg, err := Load(flags)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 8777, cfg.Server.Port)
	assert.Equal(t, "relay.internal:587", cfg.Notify.SMTP.Host)
	assert.Equal(t, path, cfg.ConfigFileUsed())
}

func TestLoadMissingConfigFileFails(t *testing.T) {
	flags := newFlags()
	require.NoError(t, flags.Parse([]string{"--config=/nonexistent/crabd.yaml"}))

	_, err := Load(flags)
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	mysql := MySQLConfig{
		Host: "db", Port: 3306, Database: "crab",
		Username: "crab", Password: "secret",
	}
	assert.Equal(t,
		"crab:secret@tcp(db:3306)/crab?charset=utf8mb4&parseTime=True&loc=UTC",
		mysql.DSN())

	postgres := PostgreSQLConfig{
		Host: "db", Port: 5432, Database: "crab",
		Username: "crab", Password: "secret", SSLMode: "disable",
	}
	assert.Equal(t,
		"host=db port=5432 user=crab password=secret dbname=crab sslmode=disable TimeZone=UTC",
		postgres.DSN())
}
