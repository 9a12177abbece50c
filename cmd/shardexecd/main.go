// Command shardexecd wires a fanout.Engine to a set of backend data
// sources described in an INI config file and exposes Prometheus metrics
// over HTTP, per the teacher's cmd/tqdbproxy/main.go wiring pattern.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/mevdschee/shardexec/backend"
	"github.com/mevdschee/shardexec/config"
	"github.com/mevdschee/shardexec/fanout"
	"github.com/mevdschee/shardexec/metrics"
)

func main() {
	configPath := flag.String("config", "config.ini", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	metrics.Init()
	if cfg.MetricsListen != "" {
		go func() {
			http.Handle("/metrics", metrics.Handler())
			log.Printf("Metrics endpoint at http://localhost%s/metrics", cfg.MetricsListen)
			if err := http.ListenAndServe(cfg.MetricsListen, nil); err != nil {
				log.Printf("Metrics server error: %v", err)
			}
		}()
	}

	conns := make(map[string]*backend.Conn, len(cfg.DataSources))
	for id, ds := range cfg.DataSources {
		dialer := backend.NewDialer()
		conn, err := dialer.Dial(ds.Addr, ds.Username, ds.Password, ds.Database, func(err error) {
			log.Printf("[%s] connection failed: %v", id, err)
		})
		if err != nil {
			log.Fatalf("Failed to connect to data source %q (%s): %v", id, ds.Addr, err)
		}
		conns[id] = conn
		log.Printf("[%s] connected: %s", id, ds.Addr)
	}

	pingers := make(map[string]config.Pinger, len(conns))
	for id, conn := range conns {
		pingers[id] = conn
	}
	if err := config.CheckAll(context.Background(), 5*time.Second, pingers); err != nil {
		log.Fatalf("Startup health check failed: %v", err)
	}
	log.Printf("All %d data sources passed their startup health check", len(pingers))

	engine := fanout.NewEngine(cfg.ExecutorSize, metrics.NewSink())
	defer engine.Close()

	log.Println("shardexecd started. Press Ctrl+C to stop.")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Println("Shutting down...")
}
