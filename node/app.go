package node

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/wdnprotocol/wdnd/blockchain"
	"github.com/wdnprotocol/wdnd/kv"
	"github.com/wdnprotocol/wdnd/log"
	"github.com/wdnprotocol/wdnd/metrics"
	"github.com/wdnprotocol/wdnd/p2p"
	"github.com/wdnprotocol/wdnd/task"
)

// metricsSampleInterval controls how often App.Start polls each engine's
// QueueDepth to update the bus queue depth gauge.
const metricsSampleInterval = 5 * time.Second

// App is the top-level wiring builder: it owns the KV store and every
// state machine (blockchain, task, node, gossip router), registers every
// Caller each one needs before any event loop starts, and drives them
// all through a LifecycleManager. This replaces a pattern where state
// machines would otherwise have to reach for each other's handles
// mid-flight; here every Caller is wired during New, and Start only
// launches already-fully-wired loops.
type App struct {
	cfg *Config
	log *log.Logger

	store kv.Database

	Blockchain *blockchain.Engine
	Task       *task.Engine
	Node       *Engine
	Router     *p2p.Router
	Overlay    *p2p.GossipOverlay
	Metrics    *metrics.DomainMetrics

	health *HealthChecker
	life   *LifecycleManager

	cancel context.CancelFunc
}

// NewApp opens the KV store at cfg.DataDir/chaindata and wires every
// engine together: blockchain <-> task <-> node, plus the gossip router
// bridging all outbound/inbound Network traffic.
func NewApp(cfg *Config, identity Identity, keepers KeeperSource) (*App, error) {
	store, err := kv.NewPebbleDatabase(kv.PebbleConfig{Path: cfg.ResolvePath("chaindata")})
	if err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}

	bdb, err := blockchain.OpenDB(store)
	if err != nil {
		return nil, fmt.Errorf("app: open blockchain db: %w", err)
	}
	bengine, err := blockchain.NewEngine(bdb)
	if err != nil {
		return nil, fmt.Errorf("app: new blockchain engine: %w", err)
	}

	tdb, err := task.OpenDB(store)
	if err != nil {
		return nil, fmt.Errorf("app: open task db: %w", err)
	}
	tengine := task.NewEngine(tdb, bengine.Caller(), identity.PeerID)

	ndb, err := OpenDB(store)
	if err != nil {
		return nil, fmt.Errorf("app: open node db: %w", err)
	}
	nengine := NewEngine(ndb, identity, keepers, bengine.Caller(), tengine.Caller())

	overlay := p2p.NewGossipOverlay(p2p.DefaultGossipConfig())
	router := p2p.NewRouter(overlay)
	if err := router.RegisterCaller(p2p.TaskList, tengine.Caller()); err != nil {
		return nil, fmt.Errorf("app: register TaskList caller: %w", err)
	}
	if err := router.RegisterCaller(p2p.KeepAlive, nengine.Caller()); err != nil {
		return nil, fmt.Errorf("app: register KeepAlive caller: %w", err)
	}
	tengine.SetNetworkCaller(router.Caller())
	nengine.SetNetworkCaller(router.Caller())

	// The blockchain engine never imports node, so distribute_task's
	// trigger is wired through the onPack hook rather than a direct
	// typed message send.
	dm := metrics.NewDomainMetrics()
	bengine.SetPackHook(func(newIndex uint64) {
		dm.BlocksPacked.Inc()
		_ = nengine.Caller().Notify(context.Background(), ReqNodeDistributeTask{BlockIndex: newIndex})
	})
	bdb.SetTrieCommitHook(func(d time.Duration) {
		dm.TrieCommitSeconds.Observe(d.Seconds())
	})

	health := NewHealthChecker()
	life := NewLifecycleManager(DefaultLifecycleConfig())

	app := &App{
		cfg:        cfg,
		log:        log.Default().Module("node.app"),
		store:      store,
		Blockchain: bengine,
		Task:       tengine,
		Node:       nengine,
		Router:     router,
		Overlay:    overlay,
		Metrics:    dm,
		health:     health,
		life:       life,
	}
	return app, nil
}

// Start launches every engine's event loop and registers each with the
// health checker. Safe to call once.
func (a *App) Start() error {
	a.log.Info("starting node", "name", a.cfg.Name, "networkID", a.cfg.NetworkID)

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	services := []struct {
		name string
		run  func(context.Context)
	}{
		{"blockchain", a.Blockchain.Run},
		{"task", a.Task.Run},
		{"node", a.Node.Run},
		{"router", a.Router.Run},
	}
	for i, s := range services {
		svc := newRunService(s.name, s.run)
		if err := a.life.Register(svc, i); err != nil {
			return fmt.Errorf("app: register %s: %w", s.name, err)
		}
		a.health.RegisterSubsystem(s.name, svc)
	}

	a.health.SetStartTime(time.Now().Unix())
	if errs := a.life.StartAll(); len(errs) > 0 {
		return fmt.Errorf("app: start services: %v", errs)
	}

	for _, s := range services {
		go s.run(ctx)
	}
	go a.sampleQueueDepths(ctx)
	return nil
}

// sampleQueueDepths periodically reports each engine's mailbox depth to
// the bus queue depth gauge until ctx is cancelled.
func (a *App) sampleQueueDepths(ctx context.Context) {
	ticker := time.NewTicker(metricsSampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Metrics.BusQueueDepth.WithLabelValues("blockchain").Set(float64(a.Blockchain.QueueDepth()))
			a.Metrics.BusQueueDepth.WithLabelValues("task").Set(float64(a.Task.QueueDepth()))
			a.Metrics.BusQueueDepth.WithLabelValues("node").Set(float64(a.Node.QueueDepth()))
		}
	}
}

// Stop cancels every engine's event loop and closes the store.
func (a *App) Stop() error {
	if a.cancel != nil {
		a.cancel()
	}
	if errs := a.life.StopAll(); len(errs) > 0 {
		a.log.Warn("errors stopping services", "errs", errs)
	}
	return a.store.Close()
}

// Health returns the current aggregate health report across every wired
// subsystem.
func (a *App) Health() *HealthReport {
	return a.health.CheckAll()
}

// runService adapts a func(context.Context) event loop to the Service and
// SubsystemChecker interfaces the teacher's lifecycle/health framework
// expects. Start/Stop here only flip bookkeeping state: the actual
// goroutine is launched by App.Start once every service has registered,
// so that RegisterSubsystem ordering never races the loops themselves.
type runService struct {
	name    string
	run     func(context.Context)
	started bool
}

func newRunService(name string, run func(context.Context)) *runService {
	return &runService{name: name, run: run}
}

func (s *runService) Name() string { return s.name }
func (s *runService) Start() error { s.started = true; return nil }
func (s *runService) Stop() error  { s.started = false; return nil }

func (s *runService) Check() *SubsystemHealth {
	status := StatusUnhealthy
	if s.started {
		status = StatusHealthy
	}
	return &SubsystemHealth{Name: s.name, Status: status}
}

// LoadIdentity builds an Identity from an already-parsed ECDSA private key
// and the node's configured peer ID and account. Reading the key file and
// decoding its raw hex happen in the caller (cmd/wdnd); encrypted key files
// are not decoded there.
func LoadIdentity(peerID string, account []byte, priv *ecdsa.PrivateKey) Identity {
	return Identity{PeerID: peerID, Account: account, PrivateKey: priv}
}
