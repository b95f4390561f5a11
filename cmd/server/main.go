// Command server runs the relaygate daemon: it loads configuration, wires
// the repository, token store, resilience components, routing map and
// dispatch pipeline, then serves the gateway's HTTP surface until an OS
// signal requests a graceful shutdown.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kestrel-proxy/relaygate/internal/aimd"
	"github.com/kestrel-proxy/relaygate/internal/api"
	"github.com/kestrel-proxy/relaygate/internal/circuit"
	"github.com/kestrel-proxy/relaygate/internal/config"
	"github.com/kestrel-proxy/relaygate/internal/dispatch"
	"github.com/kestrel-proxy/relaygate/internal/logging"
	"github.com/kestrel-proxy/relaygate/internal/ratelimit"
	"github.com/kestrel-proxy/relaygate/internal/repository"
	"github.com/kestrel-proxy/relaygate/internal/routing"
	"github.com/kestrel-proxy/relaygate/internal/selector"
	"github.com/kestrel-proxy/relaygate/internal/session"
	"github.com/kestrel-proxy/relaygate/internal/signature"
	"github.com/kestrel-proxy/relaygate/internal/tokenstore"
	"github.com/kestrel-proxy/relaygate/internal/upstream"
)

func main() {
	os.Exit(run())
}

// run does the actual startup work and returns the process exit code,
// keeping main itself trivial to read (§6: "0 on clean shutdown; non-zero
// on startup failure").
func run() int {
	var configPath string
	flag.StringVar(&configPath, "config", "config.json", "path to the gateway's JSON configuration file")
	flag.Parse()

	logging.SetupBaseLogger()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.WithError(err).Error("startup: failed to load configuration")
		return 1
	}

	if err := logging.ConfigureOutput(logging.FileConfig{
		Enabled:    cfg.Logging.ToFile,
		Dir:        cfg.Logging.Dir,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	}); err != nil {
		log.WithError(err).Error("startup: failed to configure log output")
		return 1
	}

	live := config.NewLive(cfg)
	watcher, err := config.NewWatcher(configPath, live)
	if err != nil {
		log.WithError(err).Warn("startup: config hot-reload watcher unavailable, continuing with static config")
	} else {
		defer watcher.Close()
	}

	repo, err := openRepository(cfg)
	if err != nil {
		log.WithError(err).Error("startup: failed to open account repository")
		return 1
	}

	tokens := tokenstore.New(&tokenstore.OAuthRefresher{})
	if cfg.AuthDir != "" {
		creds, err := tokenstore.LoadDir(cfg.AuthDir)
		if err != nil {
			log.WithError(err).Error("startup: failed to load stored credentials")
			return 1
		}
		for _, c := range creds {
			tokens.Put(c)
		}
		log.WithField("count", len(creds)).Info("loaded stored credentials")
	}

	var sink *logging.Sink
	if cfg.RequestLog {
		sink, err = logging.NewSink(cfg.RequestLogPath, 1024)
		if err != nil {
			log.WithError(err).Error("startup: failed to open request log sink")
			return 1
		}
		defer sink.Close()
	}

	routingMap := routing.New()
	if cfg.RoutingMapPath != "" {
		if err := loadRoutingMap(cfg.RoutingMapPath, routingMap); err != nil {
			log.WithError(err).Warn("startup: routing map not loaded, starting with an empty map")
		}
	}

	sel := selector.Dependencies{
		RateLimits: ratelimit.New(ratelimit.DefaultShortLockout, ratelimit.DefaultLongLockout),
		Circuits:   circuit.New(circuit.DefaultFailureThreshold, circuit.DefaultOpenDuration),
		AIMD:       aimd.New(aimd.DefaultMaxConcurrency, aimd.DefaultBeta, aimd.DefaultPreemptiveThrottle),
		Sessions:   session.New(4096, time.Hour),
		Active:     selector.NewActiveCounters(),
	}

	stopSweeper := make(chan struct{})
	go sel.RateLimits.Run(60*time.Second, stopSweeper)
	defer close(stopSweeper)

	timeout := time.Duration(cfg.UpstreamTimeoutSeconds) * time.Second

	handler := &api.Handler{
		Config:   cfg,
		Live:     live,
		Selector: sel,
		Routing:  routingMap,
		Monitor:  logging.NewMonitor(2000),
		Sink:     sink,
		Dispatch: dispatch.Deps{
			Repository:  repo,
			Tokens:      tokens,
			Selector:    sel,
			Upstream:    upstream.NewPool(),
			Timeout:     timeout,
			ProxyURL:    cfg.UpstreamProxyURL,
			RetryBudget: dispatch.DefaultRetryBudget,
		},
		Signatures: signature.New(7 * 24 * time.Hour),
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.WithError(err).Errorf("startup: failed to bind %s", addr)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	_, shutdownDone := api.ServeListener(ctx, handler, ln)

	log.WithField("addr", addr).Info("relaygate listening")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutdown signal received, draining in-flight requests")
	cancel()
	<-shutdownDone
	return 0
}

func openRepository(cfg *config.Config) (repository.AccountRepository, error) {
	if cfg.Database.DSN != "" {
		store, err := repository.NewPGStore(context.Background(), cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureSchema(context.Background()); err != nil {
			return nil, err
		}
		return store, nil
	}
	dir := cfg.AuthDir
	if dir == "" {
		dir = "./accounts"
	}
	return repository.NewFileStore(dir)
}

func loadRoutingMap(path string, m *routing.Map) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var entries []routing.Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return err
	}
	m.Merge(entries)
	return nil
}

