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

// crabd is the cron job monitoring daemon: it accepts reports from
// cron job wrapper clients, raises alarms for jobs that are late,
// missed or stuck, and serves the dashboard API.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/crabsoc/crabd/internal/api"
	"github.com/crabsoc/crabd/internal/clean"
	"github.com/crabsoc/crabd/internal/config"
	"github.com/crabsoc/crabd/internal/monitor"
	"github.com/crabsoc/crabd/internal/notify"
	"github.com/crabsoc/crabd/internal/store"
)

func main() {
	flags := pflag.NewFlagSet("crabd", pflag.ExitOnError)
	config.BindFlags(flags)
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		log.Fatal().Err(err).Msg("loading configuration")
	}
	setupLogging(cfg.LogLevel)
	if cfg.ConfigFileUsed() != "" {
		log.Info().Str("path", cfg.ConfigFileUsed()).Msg("loaded config file")
	}

	st, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("opening store")
	}
	defer st.Close()
	if err := st.Init(); err != nil {
		log.Fatal().Err(err).Msg("initializing store schema")
	}
	if cfg.Storage.OutputDir != "" {
		st.SetOutputStore(store.NewFileOutputStore(cfg.Storage.OutputDir))
	}

	mon := monitor.New(st, cfg.Monitor.PollInterval)

	reporter := notify.NewEmailReporter(st,
		cfg.Notify.SMTP.Host, cfg.Notify.SMTP.From, cfg.Notify.SMTP.Subject)
	notifier, err := notify.New(st, reporter,
		cfg.Notify.DailyTime, cfg.Notify.DailyTimezone)
	if err != nil {
		log.Fatal().Err(err).Msg("creating notifier")
	}

	cleaner, err := clean.New(st,
		cfg.Clean.Schedule, cfg.Clean.Timezone, cfg.Clean.KeepDays)
	if err != nil {
		log.Fatal().Err(err).Msg("creating cleaner")
	}

	server := api.NewServer(api.ServerOptions{
		Store:   st,
		Monitor: mon,
		Port:    cfg.Server.Port,
		Services: map[string]func() bool{
			"monitor": mon.Alive,
			"notify":  notifier.Alive,
			"clean":   cleaner.Alive,
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && err != context.Canceled {
				log.Error().Str("worker", name).Err(err).Msg("worker stopped")
				stop()
			}
		}()
	}

	run("monitor", mon.Run)
	run("notify", notifier.Run)
	run("clean", cleaner.Run)
	run("api", server.Start)

	log.Info().Msg("crabd started")
	<-ctx.Done()
	log.Info().Msg("shutting down")
	wg.Wait()
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
}

func openStore(cfg *config.Config) (*store.Store, error) {
	switch cfg.Storage.Type {
	case "mysql":
		return store.New("mysql", cfg.Storage.MySQL.DSN())
	case "postgres":
		return store.New("postgres", cfg.Storage.PostgreSQL.DSN())
	default:
		return store.New("sqlite", cfg.Storage.SQLite.Path)
	}
}
