// Command umbra runs a protected submission pipeline committee in a
// single process: every committee member's full component stack, wired
// over the in-process transport. Multi-process deployments reuse the
// same member stack behind a networked transport.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/umbra-net/umbra-go/config"
	"github.com/umbra-net/umbra-go/model/bootstrap"
	"github.com/umbra-net/umbra-go/module"
	"github.com/umbra-net/umbra-go/module/irrecoverable"
	"github.com/umbra-net/umbra-go/module/metrics"
	"github.com/umbra-net/umbra-go/module/util"
	"github.com/umbra-net/umbra-go/network/intranet"
	"github.com/umbra-net/umbra-go/network/relay"
	"github.com/umbra-net/umbra-go/network/relay/memory"
	"github.com/umbra-net/umbra-go/network/relay/natsrelay"
)

func main() {
	flags := pflag.NewFlagSet("umbra", pflag.ExitOnError)
	defaults := config.DefaultConfig()
	config.InitFlags(flags, defaults)
	configFile := flags.String("config", "", "path to a YAML config file")
	committeeFile := flags.String("committee", "", "path to the committee key file; defaults to <datadir>/committee.json")
	err := flags.Parse(os.Args[1:])
	if err != nil {
		os.Exit(1)
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	conf, err := config.Load(flags, *configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("could not load configuration")
	}
	level, err := zerolog.ParseLevel(conf.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Str("loglevel", conf.LogLevel).Msg("invalid log level")
	}
	log = log.Level(level)

	err = os.MkdirAll(conf.DataDir, 0700)
	if err != nil {
		log.Fatal().Err(err).Str("datadir", conf.DataDir).Msg("could not create data dir")
	}

	boot := loadCommittee(log, conf, *committeeFile)

	client := buildRelayClient(log, conf)

	metricsServer := metrics.NewServer(log, conf.Metrics.Port, false)
	<-metricsServer.Ready()

	hub := intranet.NewHub()
	nodes := make([]*memberNode, 0, len(boot.Members))
	for i := range boot.Members {
		// the prometheus default registry admits each collector once
		col := noopCollectors()
		if i == 0 {
			col = promCollectors()
		}
		node, err := buildMember(log, conf, hub, boot, i, col, client)
		if err != nil {
			log.Fatal().Err(err).Int("member", i).Msg("could not build committee member")
		}
		nodes = append(nodes, node)
	}

	ctx, cancel := context.WithCancel(context.Background())
	signalerCtx, errChan := irrecoverable.WithSignaler(ctx)

	all := make([]module.ReadyDoneAware, 0, len(nodes)*5)
	for _, node := range nodes {
		for _, c := range node.components {
			c.Start(signalerCtx)
			all = append(all, c)
		}
	}
	<-util.AllReady(all...)
	log.Info().
		Int("members", len(nodes)).
		Int("threshold", boot.View.Threshold).
		Msg("pipeline committee up")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errChan:
		log.Err(err).Msg("irrecoverable error, shutting down")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	cancel()
	<-util.AllDone(all...)
	<-metricsServer.Done()
	var closeErr *multierror.Error
	for _, node := range nodes {
		closeErr = multierror.Append(closeErr, node.db.Close())
	}
	if err := closeErr.ErrorOrNil(); err != nil {
		log.Err(err).Msg("could not close protocol databases")
	}
	log.Info().Msg("node shut down")
}

// loadCommittee reads the committee key file, dealing and persisting a
// fresh ephemeral committee when none exists yet.
func loadCommittee(log zerolog.Logger, conf *config.Config, path string) *bootstrap.Committee {
	if path == "" {
		path = filepath.Join(conf.DataDir, "committee.json")
	}

	boot, err := bootstrap.ReadFile(path)
	if err == nil {
		log.Info().Str("path", path).Int("members", boot.View.Size()).Msg("loaded committee keys")
		return boot
	}
	if !errors.Is(err, os.ErrNotExist) {
		log.Fatal().Err(err).Str("path", path).Msg("could not load committee file")
	}

	log.Warn().
		Int("t", conf.Threshold.T).
		Int("n", conf.Threshold.N).
		Str("path", path).
		Msg("no committee file found, dealing ephemeral committee")
	boot, err = bootstrap.Deal(conf.Threshold.T, conf.Threshold.N)
	if err != nil {
		log.Fatal().Err(err).Msg("could not deal committee keys")
	}
	err = boot.WriteFile(path)
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("could not persist committee keys")
	}
	return boot
}

// buildRelayClient connects the downstream relay, or falls back to the
// in-memory relay for local runs without one.
func buildRelayClient(log zerolog.Logger, conf *config.Config) relay.Client {
	if conf.Relay.URL == "" {
		log.Warn().Msg("no relay url configured, publishing to in-memory relay")
		return memory.New()
	}

	rc := natsrelay.DefaultConfig()
	rc.URL = conf.Relay.URL
	client, err := natsrelay.New(log, rc)
	if err != nil {
		log.Fatal().Err(err).Str("url", conf.Relay.URL).Msg("could not connect downstream relay")
	}
	return client
}
