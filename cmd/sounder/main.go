// Command sounder runs the OFDM channel sounder: a transmitter repeating a
// known frame, a receiver scoring the recovered bits, or both at once over
// one radio. It can also discover IIOD radios on the local network.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sdrlink/plutosounder/iiod"
	"github.com/sdrlink/plutosounder/internal/config"
	"github.com/sdrlink/plutosounder/internal/logging"
	"github.com/sdrlink/plutosounder/internal/radio"
	"github.com/sdrlink/plutosounder/internal/sounder"
	"github.com/sdrlink/plutosounder/internal/telemetry"
)

type cliOptions struct {
	mode            string
	configPath      string
	logLevel        string
	logFormat       string
	webAddr         string
	discoverTimeout time.Duration
	sshPassword     string
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "sounder: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cli, cfg, err := parseArgs(args, os.LookupEnv)
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(cli.logLevel)
	if err != nil {
		return err
	}
	log := logging.New(level, cli.logFormat == "json", os.Stderr)
	logging.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cli.mode == "discover" {
		return runDiscover(ctx, cli, log)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	port, err := openPort(ctx, cli, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := port.Close(); err != nil {
			log.Warn("close radio", logging.F("error", err.Error()))
		}
	}()

	if id, err := port.Identity(ctx); err == nil {
		log.Info("radio attached", logging.F("identity", id))
	}
	if err := sounder.ConfigurePort(ctx, cfg, port); err != nil {
		return err
	}

	reporter, shutdownWeb := buildReporter(cli, log)
	defer shutdownWeb()

	switch cli.mode {
	case "tx":
		tx, err := sounder.NewTransmitter(cfg, port, log)
		if err != nil {
			return err
		}
		report, err := tx.Run(ctx)
		if err != nil {
			return err
		}
		return printReport(report)
	case "rx":
		rx, err := sounder.NewReceiver(cfg, port, reporter, log)
		if err != nil {
			return err
		}
		report, err := rx.Run(ctx)
		if err != nil {
			return err
		}
		return printReport(report)
	case "trx":
		report, err := sounder.RunDual(ctx, cfg, port, reporter, log)
		if err != nil {
			return err
		}
		return printReport(report)
	default:
		return fmt.Errorf("unknown mode %q (want tx, rx, trx or discover)", cli.mode)
	}
}

// parseArgs resolves the configuration in order: defaults, YAML file,
// environment, flags.
func parseArgs(args []string, lookup func(string) (string, bool)) (cliOptions, config.Parameters, error) {
	configPath := envString(lookup, "SOUNDER_CONFIG", "")
	for i, a := range args {
		if (a == "-config" || a == "--config") && i+1 < len(args) {
			configPath = args[i+1]
		}
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return cliOptions{}, config.Parameters{}, err
		}
		cfg = loaded
	}

	cli := cliOptions{}
	fs := flag.NewFlagSet("sounder", flag.ContinueOnError)
	fs.StringVar(&cli.mode, "mode", envString(lookup, "SOUNDER_MODE", "trx"), "Run mode: tx, rx, trx or discover")
	fs.StringVar(&cli.configPath, "config", configPath, "Path to a YAML parameter file")
	fs.StringVar(&cli.logLevel, "log-level", envString(lookup, "SOUNDER_LOG_LEVEL", "info"), "Log level: debug, info, warn or error")
	fs.StringVar(&cli.logFormat, "log-format", envString(lookup, "SOUNDER_LOG_FORMAT", "text"), "Log format: text or json")
	fs.StringVar(&cli.webAddr, "web-addr", envString(lookup, "SOUNDER_WEB_ADDR", ""), "Optional telemetry listen address (e.g. :8080)")
	fs.DurationVar(&cli.discoverTimeout, "discover-timeout", 3*time.Second, "mDNS browse duration in discover mode")
	fs.StringVar(&cli.sshPassword, "ssh-password", envString(lookup, "SOUNDER_SSH_PASSWORD", ""), "Enable the sysfs attribute fallback with this SSH password")

	fs.StringVar(&cfg.Radio.Backend, "backend", envString(lookup, "SOUNDER_BACKEND", cfg.Radio.Backend), "Radio backend: pluto or loopback")
	fs.StringVar(&cfg.Radio.URI, "uri", envString(lookup, "SOUNDER_URI", cfg.Radio.URI), "IIOD endpoint, host or host:port")
	fs.Float64Var(&cfg.Radio.CenterFrequencyHz, "center-frequency", envFloat(lookup, "SOUNDER_CENTER_FREQUENCY", cfg.Radio.CenterFrequencyHz), "Carrier frequency in Hz")
	fs.Float64Var(&cfg.Radio.TxGainDB, "tx-gain", envFloat(lookup, "SOUNDER_TX_GAIN", cfg.Radio.TxGainDB), "Transmit gain in dB")
	fs.Float64Var(&cfg.Radio.RxGainDB, "rx-gain", envFloat(lookup, "SOUNDER_RX_GAIN", cfg.Radio.RxGainDB), "Receive gain in dB")
	fs.IntVar(&cfg.FrameCount, "frames", envInt(lookup, "SOUNDER_FRAMES", cfg.FrameCount), "Number of frames to run, 0 for unbounded")
	fs.StringVar(&cfg.Duration, "duration", envString(lookup, "SOUNDER_DURATION", cfg.Duration), "Run duration, e.g. 30s, or infinite")
	fs.Int64Var(&cfg.Seed, "seed", int64(envInt(lookup, "SOUNDER_SEED", int(cfg.Seed))), "Sequence seed shared by both ends")
	fs.StringVar(&cfg.Coding, "coding", envString(lookup, "SOUNDER_CODING", cfg.Coding), "Channel coding: conv or rs")
	fs.IntVar(&cfg.ModulationOrder, "modulation", envInt(lookup, "SOUNDER_MODULATION", cfg.ModulationOrder), "Data modulation order: 2, 4 or 16")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, config.Parameters{}, err
	}
	return cli, cfg, nil
}

func openPort(ctx context.Context, cli cliOptions, cfg config.Parameters, log logging.Logger) (radio.Port, error) {
	switch cfg.Radio.Backend {
	case "loopback":
		return radio.NewLoopback(radio.LoopbackConfig{
			SampleRate: cfg.SampleRate(),
			Seed:       cfg.Seed,
			IdleWait:   200 * time.Millisecond,
		}), nil
	case "pluto":
		pc := radio.PlutoConfig{URI: cfg.Radio.URI}
		if cli.sshPassword != "" {
			host := cfg.Radio.URI
			if h, _, err := net.SplitHostPort(host); err == nil {
				host = h
			}
			pc.Sysfs = &radio.SysfsConfig{Host: host, Password: cli.sshPassword}
		}
		return radio.DialPluto(ctx, pc, log)
	default:
		return nil, fmt.Errorf("unknown backend %q (want pluto or loopback)", cfg.Radio.Backend)
	}
}

func buildReporter(cli cliOptions, log logging.Logger) (telemetry.Reporter, func()) {
	if cli.webAddr == "" {
		return telemetry.NewLogReporter(log), func() {}
	}
	hub := telemetry.NewHub(0)
	srv := &http.Server{Addr: cli.webAddr, Handler: hub.Handler()}
	go func() {
		log.Info("telemetry listening", logging.F("addr", cli.webAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("telemetry server", logging.F("error", err.Error()))
		}
	}()
	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
	return telemetry.MultiReporter{hub, telemetry.NewLogReporter(log)}, shutdown
}

func runDiscover(ctx context.Context, cli cliOptions, log logging.Logger) error {
	log.Info("browsing for iiod radios", logging.F("timeout", cli.discoverTimeout.String()))
	endpoints, err := radio.Discover(ctx, cli.discoverTimeout)
	if err != nil {
		return err
	}
	if len(endpoints) == 0 {
		log.Warn("no iiod radios found")
	}

	type discovered struct {
		radio.Endpoint
		Context *iiod.Context `json:"context,omitempty"`
	}
	out := make([]discovered, 0, len(endpoints))
	for _, ep := range endpoints {
		d := discovered{Endpoint: ep}
		probeCtx, cancel := context.WithTimeout(ctx, cli.discoverTimeout)
		iioCtx, err := iiod.FetchContext(probeCtx, ep.URI())
		cancel()
		if err != nil {
			log.Warn("context probe failed",
				logging.F("endpoint", ep.URI()),
				logging.F("error", err.Error()))
		} else {
			d.Context = iioCtx
			log.Info("radio found", logging.F("summary", iioCtx.Summary()))
		}
		out = append(out, d)
	}
	return printReport(out)
}

func printReport(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func envString(lookup func(string) (string, bool), key, def string) string {
	if v, ok := lookup(key); ok {
		return v
	}
	return def
}

func envFloat(lookup func(string) (string, bool), key string, def float64) float64 {
	if v, ok := lookup(key); ok {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return def
}

func envInt(lookup func(string) (string, bool), key string, def int) int {
	if v, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}
