// Command rdnsd runs the recursive resolver as a standalone UDP
// server: it loads configuration, wires the resolver's supporting
// infrastructure together, binds the listener, and serves until
// interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dnsscience/rdnsd/internal/config"
	"github.com/dnsscience/rdnsd/internal/dedupe"
	"github.com/dnsscience/rdnsd/internal/metrics"
	"github.com/dnsscience/rdnsd/internal/random"
	"github.com/dnsscience/rdnsd/internal/ratelimit"
	"github.com/dnsscience/rdnsd/internal/resolver"
	"github.com/dnsscience/rdnsd/internal/server"
	"github.com/dnsscience/rdnsd/internal/stub"
)

var (
	configPath    = flag.String("config", "", "Path to YAML config file (optional)")
	listenAddr    = flag.String("listen", "", "UDP listen address, e.g. :2053")
	metricsAddr   = flag.String("metrics-listen", "", "Prometheus metrics listen address, e.g. :9090")
	workers       = flag.Int("workers", 0, "Number of worker goroutines handling inbound datagrams")
	queryTimeout  = flag.Duration("query-timeout", 0, "Upstream stub query timeout")
	maxIterations = flag.Int("max-iterations", 0, "Maximum referral hops per resolution")
	maxDepth      = flag.Int("max-depth", 0, "Maximum sub-resolution depth for unglued NS names")
	printStats    = flag.Bool("stats", true, "Print statistics periodically")
)

func main() {
	flag.Parse()

	var file *config.File
	if *configPath != "" {
		f, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "loading config %s: %v\n", *configPath, err)
			os.Exit(1)
		}
		file = f
	}

	cfg := config.Resolve(file, config.Overrides{
		Listen:        *listenAddr,
		MetricsListen: *metricsAddr,
		Workers:       *workers,
		QueryTimeout:  *queryTimeout,
		MaxIterations: *maxIterations,
		MaxDepth:      *maxDepth,
	})

	fmt.Println("rdnsd - recursive DNS resolver")
	fmt.Printf("  listen:         %s\n", cfg.Listen)
	fmt.Printf("  metrics listen: %s\n", cfg.MetricsListen)
	fmt.Printf("  root hints:     %v\n", cfg.RootHints)
	fmt.Printf("  workers:        %d\n", cfg.Workers)
	fmt.Printf("  query timeout:  %s\n", cfg.QueryTimeout)
	fmt.Printf("  max iterations: %d\n", cfg.MaxIterations)
	fmt.Printf("  max depth:      %d\n", cfg.MaxDepth)
	fmt.Println()

	srv, ports, stop, err := build(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "starting server: %v\n", err)
		os.Exit(1)
	}
	defer stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx) }()

	if *printStats {
		go printStatsLoop(ctx, srv, ports)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nshutting down")
	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "listener stopped: %v\n", err)
		}
	}

	cancel()
	if err := srv.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "error closing server: %v\n", err)
		os.Exit(1)
	}
}

// build wires the resolver's supporting infrastructure (dedupe group,
// upstream rate limiter, randomized source ports, Prometheus registry,
// metrics HTTP endpoint) into a running server.
func build(cfg config.Config) (*server.Server, *random.PortPool, func(), error) {
	ports, err := random.NewPortPool(random.PortPoolConfig{})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("building source port pool: %w", err)
	}

	querier := stub.New(cfg.QueryTimeout, ports)

	group, err := dedupe.NewGroup()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("building dedupe group: %w", err)
	}

	limiter := ratelimit.New(ratelimit.DefaultConfig())

	var roots []net.IP
	for _, h := range cfg.RootHints {
		if ip := net.ParseIP(h); ip != nil {
			roots = append(roots, ip)
		} else {
			log.Printf("ignoring unparseable root hint %q", h)
		}
	}

	res := resolver.New(querier,
		resolver.WithRootHints(roots),
		resolver.WithBounds(cfg.MaxIterations, cfg.MaxDepth),
		resolver.WithDedupe(group),
		resolver.WithRateLimit(limiter),
	)

	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		return nil, nil, nil, fmt.Errorf("registering metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: cfg.MetricsListen, Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server: %v", err)
		}
	}()

	srv, err := server.New(server.Config{
		ListenAddr: cfg.Listen,
		Workers:    cfg.Workers,
	}, res)
	if err != nil {
		_ = metricsSrv.Close()
		return nil, nil, nil, err
	}

	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(ctx)
	}

	return srv, ports, stop, nil
}

func printStatsLoop(ctx context.Context, srv *server.Server, ports *random.PortPool) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	var lastQueries uint64
	lastTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := srv.GetStats()
			portStats := ports.GetStats()
			now := time.Now()
			elapsed := now.Sub(lastTime).Seconds()
			qps := float64(stats.Queries-lastQueries) / elapsed

			fmt.Printf("queries=%d (%.1f qps) answers=%d nxdomain=%d errors=%d pool_depth=%d ports_in_use=%d ports_exhausted=%d\n",
				stats.Queries, qps, stats.Answers, stats.NXDOMAIN, stats.Errors, stats.Pool.QueueDepth,
				portStats.InUse, portStats.Exhaustions)

			lastQueries = stats.Queries
			lastTime = now
		}
	}
}
