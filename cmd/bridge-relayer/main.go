package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/bridgerelay/internal/config"
	"github.com/yourusername/bridgerelay/internal/gateway"
	"github.com/yourusername/bridgerelay/internal/gateway/evm"
	"github.com/yourusername/bridgerelay/internal/gateway/solana"
	"github.com/yourusername/bridgerelay/internal/gateway/stellar"
	"github.com/yourusername/bridgerelay/internal/metrics"
	"github.com/yourusername/bridgerelay/internal/relay"
)

const Version = "0.1.0"

// Exit codes: 0 clean shutdown, 1 configuration error, 2 unrecoverable
// runtime error.
const (
	exitOK      = 0
	exitConfig  = 1
	exitRuntime = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", os.Getenv(config.EnvConfigPath), "path to the relayer config file")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("bridge-relayer v%s\n", Version)
		return exitOK
	}
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "bridge-relayer: no config file (use -config or "+config.EnvConfigPath+")")
		return exitConfig
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bridge-relayer:", err)
		return exitConfig
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	entry := log.WithField("app", "bridge-relayer")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gateways, err := openGateways(ctx, cfg)
	if err != nil {
		entry.WithError(err).Error("gateway setup failed")
		return exitConfig
	}

	store, err := openStore(cfg)
	if err != nil {
		entry.WithError(err).Error("state store setup failed")
		closeAll(gateways)
		return exitConfig
	}

	swap, err := relay.NewSwapProtection(cfg.SlippageBps)
	if err != nil {
		entry.WithError(err).Error("swap protection setup failed")
		closeAll(gateways)
		store.Close()
		return exitConfig
	}

	var directions []*relay.Direction
	for _, dir := range cfg.Directions {
		src := cfg.Chains[dir.Source]
		directions = append(directions, &relay.Direction{
			Name:   dir.Name,
			Source: gateways[dir.Source],
			Dest:   gateways[dir.Dest],
			Kind:   gateway.EventKind(dir.Kind),
			SourceCfg: relay.EventSourceConfig{
				Kind:          gateway.EventKind(dir.Kind),
				Confirmations: src.RequiredConfirmations,
				PollInterval:  src.PollInterval(),
				MaxBlockRange: src.MaxBlockRange,
			},
			Workers: cfg.WorkerPoolSize,
		})
	}

	opts := relay.DefaultOptions()
	opts.CallTimeout = cfg.CallTimeout()
	opts.ShutdownGrace = cfg.ShutdownGrace()
	opts.MetricsAddr = cfg.MetricsAddr

	supervisor := relay.NewSupervisor(directions, store, swap, opts, entry, metrics.NewRecorder())
	if err := supervisor.Run(ctx); err != nil {
		entry.WithError(err).Error("relayer terminated")
		return exitRuntime
	}
	return exitOK
}

// openGateways dials every configured chain, verifying connectivity and
// signer sanity. Any failure here is a configuration error.
func openGateways(ctx context.Context, cfg *config.Config) (map[string]gateway.Gateway, error) {
	gateways := make(map[string]gateway.Gateway)
	for id, chain := range cfg.Chains {
		var (
			gw  gateway.Gateway
			err error
		)
		switch chain.Kind {
		case config.ChainEVM:
			gw, err = evm.Dial(ctx, evm.Config{
				ChainID:       id,
				Endpoint:      chain.Endpoint,
				BridgeAddress: chain.BridgeAddress,
				SignerSecret:  cfg.SignerSecret,
			})
		case config.ChainStellar:
			gw, err = stellar.Dial(ctx, stellar.Config{
				ChainID:       id,
				HorizonURL:    chain.Endpoint,
				BridgeAccount: chain.BridgeAddress,
			})
		case config.ChainSolana:
			gw, err = solana.Dial(ctx, solana.Config{
				ChainID:       id,
				Endpoint:      chain.Endpoint,
				BridgeProgram: chain.BridgeAddress,
			})
		}
		if err != nil {
			closeAll(gateways)
			return nil, err
		}
		gateways[id] = gw
	}
	return gateways, nil
}

func openStore(cfg *config.Config) (relay.StateStore, error) {
	if cfg.StateStorePath == "" {
		return relay.NewMemoryStore(), nil
	}
	return relay.OpenBoltStore(cfg.StateStorePath)
}

func closeAll(gateways map[string]gateway.Gateway) {
	for _, gw := range gateways {
		_ = gw.Close()
	}
}
