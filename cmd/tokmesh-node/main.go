package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/yndnr/tokmesh-go/internal/cluster"
	"github.com/yndnr/tokmesh-go/internal/infra/buildinfo"
	"github.com/yndnr/tokmesh-go/internal/infra/confloader"
	"github.com/yndnr/tokmesh-go/internal/infra/shutdown"
	"github.com/yndnr/tokmesh-go/internal/pubsub"
	"github.com/yndnr/tokmesh-go/internal/server/config"
	"github.com/yndnr/tokmesh-go/internal/server/redisserver"
	"github.com/yndnr/tokmesh-go/internal/storage"
	"github.com/yndnr/tokmesh-go/internal/storage/aof"
	"github.com/yndnr/tokmesh-go/internal/telemetry/logger"
	"github.com/yndnr/tokmesh-go/internal/telemetry/metric"
)

// Exit codes (§6).
const (
	exitClean            = 0
	exitConfigError      = 1
	exitCorruptPersisted = 2
	exitPortInUse        = 3
	exitPeerHandshake    = 4
)

// gossipPortOffset separates the memberlist SWIM transport from the
// cluster-port peer RESP listener: memberlist needs its own TCP+UDP port and
// cannot share cluster-port with PeerServer's plain TCP listener. This
// mirrors real Redis Cluster's fixed offset between a node's client port and
// its cluster bus port, scaled down since §6 names no directive of its own
// for it.
const gossipPortOffset = 10000

func main() {
	os.Exit(run())
}

func run() int {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s <conf_file> [<ip>:<port>]\n", os.Args[0])
	}
	flag.Parse()

	if *showVersion {
		fmt.Println(buildinfo.String())
		return exitClean
	}

	posArgs := flag.Args()
	if len(posArgs) < 1 || len(posArgs) > 2 {
		flag.Usage()
		return exitConfigError
	}
	confPath := posArgs[0]
	var meetAddr string
	if len(posArgs) == 2 {
		meetAddr = posArgs[1]
	}

	cfg := config.Default()
	loader := confloader.NewLoader(
		confloader.WithConfigFile(confPath),
		confloader.WithParser(confloader.NewLineParser()),
	)
	if err := loader.Load(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "tokmesh-node: %v\n", err)
		return exitConfigError
	}
	if err := config.Verify(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "tokmesh-node: %v\n", err)
		return exitConfigError
	}

	log, slogLog, err := initLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tokmesh-node: init logger: %v\n", err)
		return exitConfigError
	}

	log.Info("starting tokmesh-node",
		"version", buildinfo.Version,
		"commit", buildinfo.Commit,
		"conf", confPath)

	return runNode(cfg, slogLog, log, meetAddr)
}

// initLogger builds both the node's convenience Logger (used for the
// handful of top-level lifecycle log lines main itself emits) and the raw
// *slog.Logger every other component accepts directly, from the same
// Config so the two never drift out of sync with each other.
func initLogger(cfg *config.NodeConfig) (logger.Logger, *slog.Logger, error) {
	logCfg := logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: os.Stderr}
	log, err := logger.New(logCfg)
	if err != nil {
		return nil, nil, err
	}
	logger.SetDefault(log)

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseSlogLevel(cfg.LogLevel)}
	if strings.EqualFold(cfg.LogFormat, "text") || strings.EqualFold(cfg.LogFormat, "console") {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slogLog := slog.New(handler)
	slog.SetDefault(slogLog)
	return log, slogLog, nil
}

func parseSlogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// reportGauges periodically refreshes the gauges that have no single call
// site of their own: local keyspace size and cluster health are sampled
// rather than pushed, so a ticker is the simplest way to keep them current.
func reportGauges(collector *metric.Collector, engine *storage.Engine, manager *cluster.Manager, stop <-chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			collector.SetKeyspaceSize(engine.Keyspace().Len())
			collector.SetClusterNodesLive(manager.LiveNodeCount())
			collector.SetSlotsMigrating(manager.MigratingSlotCount())
		}
	}
}

// runNode wires every node component and blocks until shutdown. Split out of
// run so error returns can carry a distinct exit code at each stage instead
// of one that only ever says "something failed".
func runNode(cfg *config.NodeConfig, slogLog *slog.Logger, log logger.Logger, meetAddr string) int {
	nodeID, err := cluster.LoadOrCreateNodeID(cfg.Dir)
	if err != nil {
		log.Error("load node id", "error", err)
		return exitConfigError
	}
	log.Info("node identity", "node_id", nodeID)

	syncMode, err := aof.ParseSyncMode(cfg.AppendFsync)
	if err != nil {
		log.Error("parse appendfsync", "error", err)
		return exitConfigError
	}
	saveRules, err := config.ParseSaveRules(cfg.Save)
	if err != nil {
		log.Error("parse save rules", "error", err)
		return exitConfigError
	}

	storageCfg := storage.DefaultConfig(cfg.Dir)
	storageCfg.DBFileName = cfg.DBFileName
	storageCfg.AppendFileName = cfg.AppendFileName
	storageCfg.AppendFsync = syncMode
	storageCfg.SaveThresholds = saveRules
	storageCfg.MaxMemory = cfg.MaxMemory
	storageCfg.Logger = slogLog

	engine := storage.New(storageCfg)
	if err := engine.Recover(); err != nil {
		log.Error("recover persisted state", "error", err)
		return exitCorruptPersisted
	}

	broker := pubsub.New()

	self := cluster.NodeDescriptor{
		ID:         nodeID,
		Host:       cfg.Host,
		ClientPort: cfg.Port,
		PeerPort:   cfg.ClusterPort,
	}
	manager, err := cluster.NewManager(cluster.Config{
		Self:           self,
		GossipBindAddr: cfg.Host,
		GossipBindPort: cfg.ClusterPort + gossipPortOffset,
		NodeTimeout:    time.Duration(cfg.NodeTimeoutMillis) * time.Millisecond,
		CleanupTimeout: time.Duration(cfg.NodeTimeoutMillis) * time.Millisecond * 10,
		Logger:         slogLog,
		Engine:         engine,
		Broker:         broker,
	})
	if err != nil {
		log.Error("init cluster manager", "error", err)
		return exitPortInUse
	}
	broker.SetRemote(manager)

	if meetAddr != "" {
		if err := manager.Join(meetAddr); err != nil {
			log.Error("join cluster", "seed", meetAddr, "error", err)
			return exitPeerHandshake
		}
		log.Info("joining cluster", "seed", meetAddr)
	} else {
		manager.Bootstrap()
		log.Info("bootstrapped new cluster")
	}

	peerAddr := fmt.Sprintf("%s:%d", cfg.Host, cfg.ClusterPort)
	peerSrv, err := cluster.NewPeerServer(peerAddr, manager, slogLog)
	if err != nil {
		log.Error("bind peer listener", "addr", peerAddr, "error", err)
		return exitPortInUse
	}

	var collector *metric.Collector
	var metricsSrv *metric.Server
	if cfg.MetricsAddr != "" {
		collector = metric.NewCollector()
		metricsSrv, err = metric.NewServer(cfg.MetricsAddr, collector)
		if err != nil {
			log.Error("bind metrics listener", "addr", cfg.MetricsAddr, "error", err)
			return exitPortInUse
		}
	}

	clientAddr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	redisCfg := redisserver.DefaultConfig(clientAddr)
	clientSrv := redisserver.New(redisCfg, engine, broker, manager, collector, slogLog)
	if err := clientSrv.Bind(); err != nil {
		log.Error("bind client listener", "addr", clientAddr, "error", err)
		return exitPortInUse
	}

	sh := shutdown.NewHandler(15 * time.Second)
	sh.OnShutdown(func(ctx context.Context) error { return engine.Close() })
	sh.OnShutdown(func(ctx context.Context) error { return manager.Shutdown() })
	sh.OnShutdown(func(ctx context.Context) error { return peerSrv.Shutdown() })
	if metricsSrv != nil {
		sh.OnShutdown(func(ctx context.Context) error { return metricsSrv.Shutdown(ctx) })
	}
	sh.OnShutdown(func(ctx context.Context) error { return clientSrv.Shutdown() })

	metricsStop := make(chan struct{})
	if collector != nil {
		sh.OnShutdown(func(ctx context.Context) error { close(metricsStop); return nil })
		go reportGauges(collector, engine, manager, metricsStop)
	}

	go func() {
		if err := peerSrv.Serve(); err != nil {
			log.Error("peer listener stopped", "error", err)
		}
	}()
	if metricsSrv != nil {
		go func() {
			if err := metricsSrv.Serve(); err != nil {
				log.Error("metrics listener stopped", "error", err)
			}
		}()
	}
	go func() {
		if err := clientSrv.ListenAndServe(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Error("client listener stopped", "error", err)
		}
	}()

	log.Info("tokmesh-node ready", "client_addr", clientAddr, "peer_addr", peerAddr)

	if err := sh.Wait(); err != nil {
		log.Error("shutdown completed with errors", "error", err)
	}
	log.Info("shutdown complete")
	return exitClean
}
