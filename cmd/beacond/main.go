package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/beaconmesh/beacon/internal/cluster"
	"github.com/beaconmesh/beacon/internal/config"
	"github.com/beaconmesh/beacon/internal/configstore"
	"github.com/beaconmesh/beacon/internal/connection"
	"github.com/beaconmesh/beacon/internal/dispatcher"
	"github.com/beaconmesh/beacon/internal/gateway"
	"github.com/beaconmesh/beacon/internal/health"
	"github.com/beaconmesh/beacon/internal/infra/buildinfo"
	"github.com/beaconmesh/beacon/internal/infra/confloader"
	"github.com/beaconmesh/beacon/internal/infra/shutdown"
	"github.com/beaconmesh/beacon/internal/infra/tlsroots"
	"github.com/beaconmesh/beacon/internal/registry"
	"github.com/beaconmesh/beacon/internal/storage"
	"github.com/beaconmesh/beacon/internal/subscription"
	"github.com/beaconmesh/beacon/internal/telemetry/logger"
	"github.com/beaconmesh/beacon/internal/telemetry/metric"
	"github.com/beaconmesh/beacon/pkg/crypto/adaptive"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(buildinfo.String())
		return nil
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, slogLogger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	log.Info("starting beacond",
		"version", buildinfo.Version,
		"commit", buildinfo.Commit,
		"config", *configFile,
		"cluster_id", cfg.Cluster.ClusterID,
		"config_resolved", config.Sanitize(cfg))

	storageEngine, err := initStorage(cfg, slogLogger)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	ctx := context.Background()
	if err := storageEngine.Recover(ctx); err != nil {
		return fmt.Errorf("storage recovery: %w", err)
	}

	reg := registry.New(slogLogger)
	cs := configstore.New()

	shutdownHandler := shutdown.NewHandler(30 * time.Second)

	coord, node, discovery, _, err := initCluster(cfg, reg, cs, storageEngine, slogLogger, shutdownHandler)
	if err != nil {
		return fmt.Errorf("init cluster: %w", err)
	}

	// Wire the subscription engine through a forwarding adapter: the
	// connection.Manager implements subscription.Pusher but can't be
	// built until the subscription engine exists, and the engine can't
	// be built until something implements Pusher. The adapter breaks
	// the cycle the same way the dispatcher/manager one below does.
	pusher := &managerPusher{}
	subs := subscription.New(pusher)
	reg.SetNotifier(subs)
	cs.SetNotifier(subs)

	connCfg := connection.Config{Logger: slogLogger}
	dispatchHolder := &dispatchHolder{}
	mgr := connection.New(dispatchHolder, reg, subs, connCfg)
	pusher.mgr = mgr
	mgr.Start()
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		mgr.Stop()
		return nil
	})

	limiter := dispatcher.NewRateLimiter(dispatcher.DefaultRatePerSecond, dispatcher.DefaultBurst)
	limiter.Start()
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		limiter.Stop()
		return nil
	})

	disp := dispatcher.New(mgr, reg, cs, subs, coord, limiter, slogLogger)
	dispatchHolder.d = disp

	healthMonitor := health.NewMonitor(reg, health.Config{
		ScanInterval: cfg.Health.ScanInterval,
		Logger:       slogLogger,
	})
	healthMonitor.Start()
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		healthMonitor.Stop()
		return nil
	})

	stopSweep := startExpirySweep(reg, cfg.Health.EphemeralTTL, cfg.Health.ExpirySweepInterval, slogLogger)
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		close(stopSweep)
		return nil
	})

	metrics := metric.NewRegistry()
	collector := metric.NewCollector(metric.StatsSource{
		ServiceCount:  func() int { return len(reg.ListServices()) },
		InstanceCount: func() int { return countInstances(reg) },
		RecordCount:   storageEngine.Count,
	})
	if err := metrics.Register(collector); err != nil {
		log.Warn("failed to register stats collector", "error", err)
	}

	streamMux := http.NewServeMux()
	streamPath, streamHandler := connection.NewStreamHandler(mgr, slogLogger,
		dispatcher.NewRecoveryInterceptor(slogLogger),
		dispatcher.NewLoggingInterceptor(slogLogger),
	)
	streamMux.Handle(streamPath, streamHandler)
	streamServer := &http.Server{Addr: cfg.Server.Stream.Addr, Handler: streamMux}

	streamTLS, streamWatcher, err := setupTLS(cfg.Server.Stream.TLSCertFile, cfg.Server.Stream.TLSKeyFile, cfg.Security.TLSCAFile, slogLogger)
	if err != nil {
		return fmt.Errorf("stream server tls: %w", err)
	}
	streamServer.TLSConfig = streamTLS
	if streamWatcher != nil {
		shutdownHandler.OnShutdown(func(ctx context.Context) error {
			streamWatcher.Stop()
			return nil
		})
	}

	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("shutting down stream server")
		return streamServer.Shutdown(ctx)
	})

	go func() {
		log.Info("stream server listening", "addr", cfg.Server.Stream.Addr, "tls", streamTLS != nil)
		var err error
		if streamTLS != nil {
			err = streamServer.ListenAndServeTLS("", "")
		} else {
			err = streamServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Error("stream server error", "error", err)
		}
	}()

	gatewayMux := http.NewServeMux()
	gatewayMux.Handle("/v2/", gateway.New(reg, cs, subs, coord, slogLogger))
	gatewayMux.Handle("/metrics", metrics.Handler())
	httpServer := gateway.NewServer(cfg.Server.HTTP.Addr, gatewayMux)

	httpTLS, httpWatcher, err := setupTLS(cfg.Server.HTTP.TLSCertFile, cfg.Server.HTTP.TLSKeyFile, cfg.Security.TLSCAFile, slogLogger)
	if err != nil {
		return fmt.Errorf("http gateway tls: %w", err)
	}
	httpServer.SetTLSConfig(httpTLS)
	if httpWatcher != nil {
		shutdownHandler.OnShutdown(func(ctx context.Context) error {
			httpWatcher.Stop()
			return nil
		})
	}

	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("shutting down http gateway")
		return httpServer.Shutdown(ctx)
	})

	go func() {
		log.Info("http gateway listening", "addr", cfg.Server.HTTP.Addr, "tls", httpTLS != nil)
		var err error
		if httpTLS != nil {
			err = httpServer.ListenAndServeTLS("", "")
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Error("http gateway error", "error", err)
		}
	}()

	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("shutting down cluster substrate")
		if discovery != nil {
			_ = discovery.Leave()
			_ = discovery.Shutdown()
		}
		if node != nil {
			_ = node.Close()
		}
		return nil
	})
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("shutting down storage engine")
		return storageEngine.Close()
	})

	log.Info("beacond started, press Ctrl+C to stop")
	if err := shutdownHandler.Wait(); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}

	log.Info("beacond stopped gracefully")
	return nil
}

// dispatchHolder forwards Dispatch calls to a *dispatcher.Dispatcher
// built after the connection.Manager that needs a Dispatcher at
// construction time; see connection.Manager and dispatcher.Dispatcher,
// which depend on each other. d is set once, right after New returns;
// that is after the manager is started but before the stream server
// begins accepting connections.
type dispatchHolder struct {
	d *dispatcher.Dispatcher
}

func (h *dispatchHolder) Dispatch(ctx context.Context, connID string, frame *connection.Frame) *connection.Frame {
	return h.d.Dispatch(ctx, connID, frame)
}

// managerPusher breaks the same kind of cycle for the push path: the
// subscription engine needs a Pusher at construction, and the only
// Pusher is the connection.Manager, which needs the engine.
type managerPusher struct {
	mgr *connection.Manager
}

func (p *managerPusher) Push(connectionID string, batch *subscription.Batch) {
	p.mgr.Push(connectionID, batch)
}

func loadConfig(configFile string) (*config.ServerConfig, error) {
	cfg := config.Default()

	var opts []confloader.Option
	if configFile != "" {
		opts = append(opts, confloader.WithConfigFile(configFile))
	}
	loader := confloader.NewLoader(opts...)

	if err := loader.Load(cfg); err != nil {
		return nil, err
	}
	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// initLogger builds both the redacting logger.Logger the rest of the
// codebase's context-propagation helpers expect and a plain
// *slog.Logger for components (registry, storage, cluster) that take
// one directly, and installs both as their package's default.
func initLogger(cfg *config.ServerConfig) (logger.Logger, *slog.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	if err != nil {
		return nil, nil, err
	}
	logger.SetDefault(log)

	level := slog.LevelInfo
	_ = level.UnmarshalText([]byte(cfg.Log.Level))
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "text" || cfg.Log.Format == "console" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slogLogger := slog.New(handler)
	slog.SetDefault(slogLogger)

	return log, slogLogger, nil
}

func initStorage(cfg *config.ServerConfig, log *slog.Logger) (*storage.Engine, error) {
	storageCfg := storage.DefaultConfig(cfg.Storage.DataDir)
	storageCfg.Logger = log
	storageCfg.NodeID = cluster.NodeID(cfg.Cluster.BindAddr)
	storageCfg.Cipher = adaptive.Cipher(nil)

	if cfg.Storage.WALSyncInterval > 0 {
		storageCfg.WAL.SyncInterval = cfg.Storage.WALSyncInterval
	}
	if cfg.Storage.SnapshotKeep > 0 {
		storageCfg.Snapshot.RetentionCount = cfg.Storage.SnapshotKeep
	}

	return storage.New(storageCfg)
}

// setupTLS builds a *tls.Config backed by a tlsroots.Watcher when
// certFile/keyFile are set, so a rotated certificate is picked up
// without a restart, and adds caFile to the trusted root pool for
// verifying client certificates when mutual TLS is configured. Returns
// a nil config (and nil watcher) when no cert is configured, meaning
// the caller should serve plain HTTP.
func setupTLS(certFile, keyFile, caFile string, log *slog.Logger) (*tls.Config, *tlsroots.Watcher, error) {
	if certFile == "" || keyFile == "" {
		return nil, nil, nil
	}

	watcher, err := tlsroots.NewWatcher(certFile, keyFile, tlsroots.WithLogger(log))
	if err != nil {
		return nil, nil, fmt.Errorf("create certificate watcher: %w", err)
	}
	watcher.StartAsync()

	tlsCfg := &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: watcher.GetCertificate,
	}

	if caFile != "" {
		pool := tlsroots.NewEmptyPool()
		if err := pool.AddCertFile(caFile); err != nil {
			watcher.Stop()
			return nil, nil, fmt.Errorf("load ca file: %w", err)
		}
		tlsCfg.ClientCAs = pool.Pool()
		tlsCfg.ClientAuth = tls.VerifyClientCertIfGiven
	}

	return tlsCfg, watcher, nil
}

// initCluster builds the Raft + Distro + gossip substrate and the
// Coordinator that routes writes across them. coord is nil only if
// building any piece fails in a way the caller should treat as a hard
// error — in every other case it's a real, usable Coordinator, since
// beacond always runs its own single-node Raft group even when no
// peers are configured (Bootstrap=true).
func initCluster(cfg *config.ServerConfig, reg *registry.Registry, cs *configstore.Store, store *storage.Engine, log *slog.Logger, sh *shutdown.Handler) (*cluster.Coordinator, *cluster.Node, *cluster.Discovery, *cluster.Replicator, error) {
	fsm := cluster.NewFSM(reg, cs, store, log)

	nodeID := cluster.NodeID(cfg.Cluster.BindAddr)
	raftCfg := cluster.RaftConfig{
		NodeID:            nodeID,
		BindAddr:          cfg.Cluster.RaftBindAddr,
		DataDir:           filepath.Join(cfg.Storage.DataDir, "raft"),
		Bootstrap:         len(cfg.Cluster.Seeds) == 0,
		SnapshotThreshold: cfg.Cluster.SnapshotThreshold,
		Logger:            log,
	}
	node, err := cluster.NewNode(raftCfg, fsm)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("create raft node: %w", err)
	}

	ring := cluster.NewRing()
	ring.AddNode(cfg.Cluster.BindAddr)

	replicator := cluster.NewReplicator(cluster.ReplicatorConfig{
		Self:      cfg.Cluster.BindAddr,
		ClusterID: cfg.Cluster.ClusterID,
		RaftAddr:  cfg.Cluster.RaftBindAddr,
		Logger:    log,
	}, reg, ring)

	discovery, err := cluster.NewDiscovery(cluster.DiscoveryConfig{
		NodeID:    nodeID,
		ClusterID: cfg.Cluster.ClusterID,
		BindAddr:  cfg.Cluster.GossipBindAddr,
		BindPort:  cfg.Cluster.GossipBindPort,
		RaftAddr:  cfg.Cluster.RaftBindAddr,
		SeedNodes: cfg.Cluster.Seeds,
		Logger:    log,
	}, replicator)
	if err != nil {
		_ = node.Close()
		return nil, nil, nil, nil, fmt.Errorf("create discovery: %w", err)
	}
	replicator.SetNumNodes(func() int { return len(discovery.Members()) })

	wireMembershipCallbacks(node, discovery, ring, log)

	coord := cluster.NewCoordinator(node, replicator, ring, reg, cs, log)

	sh.OnShutdown(func(ctx context.Context) error {
		replicator.EvictOwnerless()
		return nil
	})

	return coord, node, discovery, replicator, nil
}

// wireMembershipCallbacks follows gossip membership: a joining node is
// added to the local hash ring on every node and to the Raft voter set
// by the leader, and a leaving node is removed from the Raft
// configuration by the leader. Only the leader mutates Raft
// configuration, since that's Raft's own requirement. A node that
// leaves is not removed from the hash ring.
func wireMembershipCallbacks(node *cluster.Node, discovery *cluster.Discovery, ring *cluster.Ring, log *slog.Logger) {
	discovery.OnJoin(func(nodeID, raftAddr string) {
		ring.AddNode(raftAddr)
		if !node.IsLeader() {
			return
		}
		if err := node.AddVoter(nodeID, raftAddr, 10*time.Second); err != nil {
			log.Error("failed to add raft voter", "node_id", nodeID, "raft_addr", raftAddr, "error", err)
		}
	})
	discovery.OnLeave(func(nodeID string) {
		if !node.IsLeader() {
			return
		}
		if err := node.RemoveServer(nodeID, 10*time.Second); err != nil {
			log.Error("failed to remove raft server", "node_id", nodeID, "error", err)
		}
	})
}

// startExpirySweep periodically expires ephemeral instances that have
// gone silent past ttl, returning a channel the caller closes to stop
// the loop.
func startExpirySweep(reg *registry.Registry, ttl, interval time.Duration, log *slog.Logger) chan struct{} {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				expired := reg.ExpireStaleEphemeral(time.Now().UnixMilli(), ttl.Milliseconds())
				if len(expired) > 0 {
					log.Info("expired stale ephemeral instances", "services", len(expired))
				}
			}
		}
	}()
	return stop
}

func countInstances(reg *registry.Registry) int {
	total := 0
	reg.ForEachService(func(snap *registry.Snapshot) {
		total += len(snap.Instances)
	})
	return total
}
