// Command physical-mcp runs the ambient perception engine: camera capture,
// change-gated scene analysis, watch rules, alerts, and the HTTP surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"physicalmcp/internal/alerts"
	"physicalmcp/internal/api"
	"physicalmcp/internal/auth"
	"physicalmcp/internal/camera"
	"physicalmcp/internal/config"
	"physicalmcp/internal/engine"
	"physicalmcp/internal/mdns"
	"physicalmcp/internal/notify"
	"physicalmcp/internal/rules"
	"physicalmcp/internal/stats"
	"physicalmcp/internal/storage"
	"physicalmcp/internal/vlm"
	"physicalmcp/internal/ws"
)

var version = "0.3.0"

const shutdownGrace = 5 * time.Second

func main() {
	var (
		configPath  = flag.String("config", config.DefaultPath(), "path to config file")
		versionFlag = flag.Bool("version", false, "print version and exit")
		hashToken   = flag.String("hash-token", "", "print a bcrypt hash of the given auth token and exit")
	)
	flag.Parse()

	if *versionFlag {
		fmt.Println(version)
		return
	}

	if *hashToken != "" {
		hash, err := auth.HashToken(*hashToken)
		if err != nil {
			fmt.Fprintf(os.Stderr, "hash-token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)

	if flag.Arg(0) == "doctor" {
		runDoctor(cfg)
		return
	}

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("fatal")
		os.Exit(1)
	}
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.Format == "text" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}

	store, err := storage.Open(filepath.Join(cfg.DataDir, "physical-mcp.db"))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	cameras := camera.NewManager(store, logger)
	if err := cameras.LoadFromConfig(cfg.Cameras); err != nil {
		return fmt.Errorf("cameras: %w", err)
	}

	ruleStore := rules.NewStore(cfg.RulesPath)
	ruleEngine, err := rules.NewEngine(ruleStore, cfg.Perception.ConfidenceFloor, logger)
	if err != nil {
		return fmt.Errorf("rules: %w", err)
	}

	alertLog := alerts.NewLog(alerts.DefaultLogCapacity, filepath.Join(cfg.DataDir, "alerts.ndjson"), logger)
	dispatcher := notify.NewDispatcher(notify.ChannelsFromConfig(cfg.Notifications), logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	tracker := stats.NewTracker(stats.Limits{
		DailyBudgetUSD: cfg.CostControl.DailyBudgetUSD,
		HourlyCalls:    cfg.CostControl.HourlyRateCap,
	}, reg)

	provider, err := vlm.New(vlm.Config{
		Provider: cfg.Reasoning.Provider,
		APIKey:   cfg.Reasoning.APIKey,
		Model:    cfg.Reasoning.Model,
		BaseURL:  cfg.Reasoning.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("provider: %w", err)
	}

	eng := engine.New(cfg, cameras, ruleEngine, alertLog, dispatcher, tracker, provider, logger)

	authn := auth.New(cfg.VisionAPI.AuthToken, cfg.CloudMode)
	if token := authn.GeneratedToken(); token != "" {
		logger.Info().Str("token", token).Msg("generated API token; set vision_api.auth_token to pin it")
	}

	hub := ws.NewHub(logger)
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "physicalmcp_ws_clients",
		Help: "Connected websocket clients.",
	}, func() float64 { return float64(hub.ClientCount()) }))
	server := api.NewServer(cfg, eng, authn, hub, store, reg, version, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng.Start(ctx)
	mdns.Advertise(ctx, "", cfg.VisionAPI.Port, logger)
	go forwardAlerts(ctx, alertLog, hub, tracker)

	errc := make(chan error, 1)
	go func() { errc <- server.Start() }()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("http: %w", err)
		}
	}

	// Drain HTTP first, then stop the loops, flush stores, close cameras,
	// and give notifications a short grace period.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown incomplete")
	}
	eng.Stop(shutdownGrace)
	logger.Info().Msg("stopped cleanly")
	return nil
}

// forwardAlerts mirrors new alert events onto connected websocket clients and
// the alert counter.
func forwardAlerts(ctx context.Context, alertLog *alerts.Log, hub *ws.Hub, tracker *stats.Tracker) {
	events, unsubscribe := alertLog.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			tracker.RecordAlert(ev.EventType)
			hub.Broadcast(ws.Message{Type: "alert", CameraID: ev.CameraID, Payload: ev})
		}
	}
}

// runDoctor prints a quick environment readout for support requests.
func runDoctor(cfg *config.Config) {
	fmt.Printf("physical-mcp %s\n", version)
	fmt.Printf("platform: %s\n", platformString())

	provider := cfg.Reasoning.Provider
	if provider == "" {
		provider = "(none: client-side fallback mode)"
	}
	fmt.Printf("provider: %s\n", provider)

	ip := "unknown"
	if addr := lanIP(); addr != "" {
		ip = addr
	}
	fmt.Printf("lan ip: %s\n", ip)
	fmt.Printf("vision api: http://%s\n", net.JoinHostPort(ip, strconv.Itoa(cfg.VisionAPI.Port)))

	if err := probeMDNS(); err != nil {
		fmt.Printf("mdns: unavailable (%v)\n", err)
	} else {
		fmt.Println("mdns: ok")
	}
	fmt.Printf("cameras configured: %d\n", len(cfg.Cameras))
}

func lanIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return ""
}

// probeMDNS checks that multicast UDP on the mDNS group is usable.
func probeMDNS() error {
	conn, err := net.DialTimeout("udp4", "224.0.0.251:5353", time.Second)
	if err != nil {
		return err
	}
	conn.Close()
	return nil
}

func platformString() string {
	return runtime.GOOS + "/" + runtime.GOARCH
}
