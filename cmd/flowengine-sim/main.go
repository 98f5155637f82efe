// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command flowengine-sim drives the flow engine with a synthetic packet
// stream and reports its table occupancy and memcap pressure as it runs.
// It exists to exercise the engine end to end outside of a real decoder.
package main

import (
	"context"
	"flag"
	"math/rand"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/flowengine/internal/flow"
	"grimm.is/flowengine/internal/flowconfig"
	"grimm.is/flowengine/internal/logging"
	"grimm.is/flowengine/internal/metrics"
)

func main() {
	configPath := flag.String("config", "", "Path to HCL config file")
	metricsAddr := flag.String("metrics-addr", ":9108", "Address to serve Prometheus metrics on")
	flows := flag.Int("flows", 2000, "Number of distinct source ports synthetic packets are drawn from")
	rate := flag.Duration("tick", time.Millisecond, "Interval between synthetic packets")
	flag.Parse()

	log := logging.New(logging.Config{Output: os.Stdout, Level: logging.LevelInfo})

	root := flowconfig.NewMapNode()
	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			log.Error("failed to read config", "path", *configPath, "error", err)
			os.Exit(1)
		}
		tree, err := flowconfig.LoadHCL(data, *configPath)
		if err != nil {
			log.Error("failed to parse config", "path", *configPath, "error", err)
			os.Exit(1)
		}
		runSim(tree, log, *metricsAddr, *flows, *rate)
		return
	}

	runSim(root, log, *metricsAddr, *flows, *rate)
}

func runSim(root flowconfig.Node, log *logging.Logger, metricsAddr string, flowCount int, tick time.Duration) {
	cfg, timeouts := flowconfig.LoadFlowConfig(root, log)

	reg := prometheus.NewRegistry()
	m := metrics.NewFlowMetrics()
	if err := m.Register(reg); err != nil {
		log.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}

	engine := flow.NewEngine(cfg, timeouts, log, m)
	manager := flow.NewManager(engine, cfg, log, m)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: metricsAddr}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Info("serving metrics", "addr", metricsAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server stopped", "error", err)
		}
	}()

	go func() {
		if err := manager.Start(ctx); err != nil {
			log.Error("flow manager stopped", "error", err)
		}
	}()

	log.Info("flow engine simulator running", "flows", flowCount, "hash_size", cfg.HashSize, "memcap", cfg.Memcap)
	replayPackets(ctx, engine, log, flowCount, tick)
	log.Info("flow engine simulator stopped")
}

// replayPackets feeds one synthetic TCP packet per tick through the engine
// until ctx is canceled. Each packet has random 10.0.0.0/16 source and
// destination addresses, a source port drawn from flowCount values and
// destination port 443; no reply packets are sent.
func replayPackets(ctx context.Context, engine *flow.Engine, log *logging.Logger, flowCount int, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	r := rand.New(rand.NewSource(1))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			src := randIP(r)
			dst := randIP(r)
			pkt := &flow.Packet{
				Family: flow.FamilyIPv4,
				Proto:  6,
				Src:    src,
				Dst:    dst,
				SPort:  uint16(1024 + r.Intn(flowCount)),
				DPort:  443,
			}
			if !engine.ProcessPacket(pkt, time.Now()) {
				log.Warn("dropped packet, flow table under pressure")
				continue
			}
			engine.ReleasePacket(pkt)
		}
	}
}

func randIP(r *rand.Rand) net.IP {
	return net.IPv4(10, 0, byte(r.Intn(256)), byte(r.Intn(256)))
}
