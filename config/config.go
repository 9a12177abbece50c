// Package config loads the fan-out engine's topology from an INI file:
// one stanza per data source plus executor/metrics sizing, the way the
// teacher proxy loads its backend pools.
package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/ini.v1"
)

// Config is the top-level fan-out engine configuration.
type Config struct {
	// ExecutorSize is passed straight to fanout.NewEngine: 0 for an
	// unbounded pool, N for a fixed pool of N workers.
	ExecutorSize int

	// MetricsListen is the address the Prometheus /metrics endpoint binds
	// to; empty disables it.
	MetricsListen string

	// DataSources maps a data source id (as named in fanout.Unit) to its
	// dial target.
	DataSources map[string]DataSource
}

// DataSource describes one shard's connection parameters.
type DataSource struct {
	Addr     string
	Username string
	Password string
	Database string
}

// Load reads configuration from an INI file, with environment variable
// overrides for the fields operators most often need to flip per
// deployment without editing the file.
func Load(path string) (*Config, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}

	core := cfg.Section("core")
	config := &Config{
		ExecutorSize:  core.Key("executor_size").MustInt(0),
		MetricsListen: core.Key("metrics_listen").MustString(":9090"),
		DataSources:   make(map[string]DataSource),
	}

	prefix := "datasource."
	for _, s := range cfg.Sections() {
		name := s.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		id := name[len(prefix):]
		addr := s.Key("addr").String()
		if addr == "" {
			continue
		}
		config.DataSources[id] = DataSource{
			Addr:     addr,
			Username: s.Key("username").String(),
			Password: s.Key("password").String(),
			Database: s.Key("database").String(),
		}
	}

	if len(config.DataSources) == 0 {
		log.Printf("Warning: no data sources defined, engine will have nothing to execute against")
	}

	if v := os.Getenv("SHARDEXEC_EXECUTOR_SIZE"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			config.ExecutorSize = n
		}
	}
	if v := os.Getenv("SHARDEXEC_METRICS_LISTEN"); v != "" {
		config.MetricsListen = v
	}

	return config, nil
}

// Pinger is satisfied by anything that can be health-checked over a
// context, e.g. a *backend.Conn opened by backend.Dialer.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CheckAll pings every entry in pingers concurrently and returns the
// first error encountered, cancelling the remaining checks once it does.
// Unlike the execution engine, which collects every unit's result by
// index, this check stops at the first failing data source.
func CheckAll(ctx context.Context, timeout time.Duration, pingers map[string]Pinger) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for id, p := range pingers {
		id, p := id, p
		g.Go(func() error {
			if err := p.Ping(ctx); err != nil {
				return fmt.Errorf("config: data source %q failed health check: %w", id, err)
			}
			return nil
		})
	}
	return g.Wait()
}
