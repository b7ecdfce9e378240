// Command engine is the network-controlled dynamic periodic task engine.
//
// Clients connect over TCP and activate/deactivate periodic tasks from a
// fixed catalog; every activation passes a response-time-analysis
// admission test before an executor is spawned.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rtkit/periodic/engine/calibration"
	"github.com/rtkit/periodic/engine/catalog"
	"github.com/rtkit/periodic/engine/journal"
	"github.com/rtkit/periodic/engine/supervisor"
)

const stopGrace = 2 * time.Second

func main() {
	cfg := LoadConfig()

	// Calibration runs before the listener binds: the engine must not
	// serve traffic with an invalid iteration rate.
	itersPerMS, err := calibration.Calibrate()
	if err != nil {
		log.Fatalf("CPU calibration failed: %v", err)
	}
	log.Printf("Calibrated busy loop: %d iterations/ms", itersPerMS)

	pub := newPublisher(cfg)
	defer pub.Close()

	cat := catalog.Load()
	queue := supervisor.NewQueue(cfg.QueueCap)
	sup := supervisor.New(cat, itersPerMS, queue, pub, supervisor.Config{MaxTasks: cfg.MaxTasks})

	srv := NewServer(queue, cfg.LineMax, cfg.MaxClients)
	if err := srv.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
		log.Fatalf("failed to bind control port %d: %v", cfg.Port, err)
	}
	go srv.Serve()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var metricsSrv *http.Server
	if cfg.MetricsPort > 0 {
		hub := NewSnapshotHub(sup)
		go hub.Run(ctx)
		metricsSrv = startMetricsServer(cfg.MetricsPort, sup, hub)
	}

	// SIGTERM/SIGINT drain exactly like a SHUTDOWN command.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received %v, shutting down", sig)
		cancel()
	}()

	log.Printf("Engine listening on %s (tasks: %v, max %d)",
		srv.Addr(), cat.Names(), cfg.MaxTasks)

	// Blocks until a SHUTDOWN command or a signal; every executor is
	// joined before it returns.
	sup.Run(ctx)

	srv.Stop(stopGrace)
	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), stopGrace)
		metricsSrv.Shutdown(shutdownCtx)
		shutdownCancel()
	}
	cancel()

	log.Println("Engine stopped")
}

// newPublisher selects the journal backend: postgres if configured, then
// redis, then the process log. A configured backend that cannot be reached
// is a startup failure; silently downgrading would hide a config error.
func newPublisher(cfg *Config) journal.Publisher {
	if cfg.PostgresDSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		pub, err := journal.NewPostgresPublisher(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("failed to connect journal to Postgres: %v", err)
		}
		log.Println("Journal: Postgres")
		return pub
	}
	if cfg.RedisAddr != "" {
		pub, err := journal.NewRedisPublisher(cfg.RedisAddr, "", 0)
		if err != nil {
			log.Fatalf("failed to connect journal to Redis at %s: %v", cfg.RedisAddr, err)
		}
		log.Printf("Journal: Redis stream at %s", cfg.RedisAddr)
		return pub
	}
	return journal.NewLogPublisher()
}

// startMetricsServer serves prometheus metrics, health, the debug
// snapshot, and the websocket snapshot stream. It carries no task-control
// operations; the line protocol remains the only control surface.
func startMetricsServer(port int, sup *supervisor.Supervisor, hub *SnapshotHub) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/debug/snapshot", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sup.GetSnapshot())
	})
	mux.Handle("/ws", hub)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics listener failed: %v", err)
		}
	}()
	return srv
}
