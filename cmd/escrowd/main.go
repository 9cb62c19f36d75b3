package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"escrowd/config"
	"escrowd/core/events"
	"escrowd/core/types"
	"escrowd/native/escrow"
	"escrowd/rpc"
	"escrowd/state"
	"escrowd/storage"
)

const shutdownTimeout = 10 * time.Second

// logEmitter writes every ledger event as one JSON line to stdout.
type logEmitter struct {
	logger *rpc.Logger
}

func (le *logEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	fields := map[string]interface{}{"event": evt.EventType()}
	if carrier, ok := evt.(interface{ Event() *types.Event }); ok {
		if payload := carrier.Event(); payload != nil {
			raw, err := json.Marshal(payload.Attributes)
			if err == nil {
				fields["attributes"] = json.RawMessage(raw)
			}
		}
	}
	le.logger.Info(fields)
}

func main() {
	configPath := flag.String("config", "escrowd.toml", "path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("create data dir: %v", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		log.Fatalf("open ledger db: %v", err)
	}
	defer db.Close()

	logger := rpc.NewLogger()
	manager := state.NewManager(db)
	engine := escrow.NewEngine()
	engine.SetState(manager)
	engine.SetEmitter(&logEmitter{logger: logger})

	if err := engine.Initialize(cfg.Admin(), cfg.Vault()); err != nil && !errors.Is(err, escrow.ErrAlreadyInitialized) {
		log.Fatalf("initialize engine: %v", err)
	}

	var auth *rpc.Authenticator
	if cfg.APISecret != "" {
		auth = rpc.NewAuthenticator(map[string]string{cfg.APIKey: cfg.APISecret}, 0, 0, nil)
	} else {
		log.Printf("warning: api secret empty, request authentication disabled")
	}

	server := rpc.NewServer(engine, rpc.Options{
		Authenticator:  auth,
		Metrics:        rpc.NewMetrics(nil),
		Logger:         logger,
		MetricsHandler: promhttp.Handler(),
	})

	srv := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: server.Handler(),
	}

	go func() {
		log.Printf("escrowd listening on %s", cfg.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Printf("shutting down escrowd")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "graceful shutdown failed: %v\n", err)
	}
}
