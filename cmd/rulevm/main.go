// Command rulevm runs the reactive rule engine: it loads rule documents
// from the configured store, starts the VM's three cooperative loops, and
// serves a Prometheus /metrics endpoint until SIGINT/SIGTERM.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/podnet/rulevm/internal/action"
	"github.com/podnet/rulevm/internal/config"
	"github.com/podnet/rulevm/internal/instruction"
	"github.com/podnet/rulevm/internal/metrics"
	"github.com/podnet/rulevm/internal/rule"
	"github.com/podnet/rulevm/internal/store"
	"github.com/podnet/rulevm/internal/store/memstore"
	"github.com/podnet/rulevm/internal/store/sqlstore"
	"github.com/podnet/rulevm/internal/telemetry"
	"github.com/podnet/rulevm/internal/vm"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	zapLog, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer zapLog.Sync()
	log := zapr.NewLogger(zapLog)

	cfg, err := config.Load(os.Getenv("RULEVM_CONFIG_PATH"))
	if err != nil {
		log.Error(err, "failed to load config")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.InitTraceProvider(ctx, cfg.OTLPEndpoint, version)
	if err != nil {
		log.Error(err, "failed to init trace provider")
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error(err, "trace provider shutdown error")
		}
	}()

	deviceStore, ruleStore, closeStore, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		log.Error(err, "failed to open store")
		os.Exit(1)
	}
	defer closeStore()

	registry := rule.NewRegistry(log)
	if err := loadRules(ctx, registry, ruleStore, log); err != nil {
		log.Error(err, "failed to load rules at startup")
		os.Exit(1)
	}

	instrEnv := &instruction.Env{Devices: deviceStore, Heartbeats: cfg.Heartbeats, Log: log}
	actionEnv := &action.Env{Devices: deviceStore, SMTP: cfg.SMTP, Log: log}
	m := metrics.New()

	machine := vm.New(cfg, log, registry, ruleStore, deviceStore, actionEnv, instrEnv, m)

	go watchRuleChanges(ctx, machine, ruleStore, log)

	srv := startMetricsServer(cfg.MetricsAddr, m, log)

	log.Info("starting rule VM", "metrics_addr", cfg.MetricsAddr, "store_driver", cfg.Store.Driver)
	if err := machine.Start(ctx); err != nil {
		log.Error(err, "vm stopped with error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "metrics server shutdown error")
	}
}

func openStore(ctx context.Context, cfg config.StoreConfig, log logr.Logger) (store.DeviceStore, store.RuleStore, func(), error) {
	switch cfg.Driver {
	case "postgres":
		s, err := sqlstore.NewPostgresStore(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, func() {}, err
		}
		return s, s, s.Close, nil
	case "mysql":
		s, err := sqlstore.NewMySQLStore(cfg.DSN)
		if err != nil {
			return nil, nil, func() {}, err
		}
		return s, s, func() { s.Close() }, nil
	default:
		log.Info("using in-memory store", "driver", cfg.Driver)
		s := memstore.New()
		return s, s, func() {}, nil
	}
}

func loadRules(ctx context.Context, registry *rule.Registry, ruleStore store.RuleStore, log logr.Logger) error {
	docs, err := ruleStore.LoadAllRules(ctx)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if _, err := registry.AddRule(doc); err != nil {
			log.Error(err, "skipping rule at startup", "rule_id", doc.RuleID)
		}
	}
	log.Info("loaded rules", "count", registry.Len())
	return nil
}

func watchRuleChanges(ctx context.Context, machine *vm.VM, ruleStore store.RuleStore, log logr.Logger) {
	changes, err := ruleStore.Watch(ctx)
	if err != nil {
		log.Error(err, "rule store watch failed")
		return
	}
	for change := range changes {
		if err := machine.RuleChangedCallback(ctx, change); err != nil {
			log.Error(err, "rule change dispatch failed", "rule_id", change.Doc.RuleID)
		}
	}
}

func startMetricsServer(addr string, m *metrics.Metrics, log logr.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "metrics server error")
		}
	}()
	return srv
}
