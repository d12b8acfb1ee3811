// Package app provides the unified application lifecycle management for
// the stratum binary: wiring every subsystem together per the configured
// mode (ingest, query, or all) and driving graceful startup/shutdown.
package app

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	httpapi "github.com/stratumlake/stratum/internal/api/http"
	"github.com/stratumlake/stratum/internal/busconsumer"
	"github.com/stratumlake/stratum/internal/catalog"
	"github.com/stratumlake/stratum/internal/cluster"
	"github.com/stratumlake/stratum/internal/config"
	"github.com/stratumlake/stratum/internal/convert"
	"github.com/stratumlake/stratum/internal/hottier"
	"github.com/stratumlake/stratum/internal/manifest"
	"github.com/stratumlake/stratum/internal/model"
	"github.com/stratumlake/stratum/internal/objstore"
	"github.com/stratumlake/stratum/internal/queryengine"
	"github.com/stratumlake/stratum/internal/router"
	"github.com/stratumlake/stratum/internal/schema"
	"github.com/stratumlake/stratum/internal/server"
	"github.com/stratumlake/stratum/internal/staging"
	"github.com/stratumlake/stratum/pkg/ulid"
)

// App manages the lifecycle of every subsystem a stratum process runs:
// object storage, stream catalog, schema registry, staging engine,
// conversion engine, manifest, cluster plane, hot tier, query engine, and
// the HTTP surface in front of all of it.
type App struct {
	cfg *config.Config

	store    objstore.Store
	catalog  *catalog.Catalog
	registry *schema.Registry
	staging  *staging.Engine
	convert  *convert.Engine
	manifest *manifest.Manager
	hotTier  *hottier.Tier

	membership *cluster.Membership
	gossip     *cluster.Gossip
	notifier   *router.Notifier

	queryEngine *queryengine.Engine
	bus         *busconsumer.Consumer

	httpServer *http.Server
	shutdown   *server.ShutdownManager

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an App with the given configuration, resolving and
// validating it before any resources are opened.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	return &App{cfg: cfg}, nil
}

// Start initializes shared resources and begins serving according to the
// configured mode.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.initSharedResources(ctx); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to initialize shared resources: %w", err)
	}

	if err := a.membership.Start(ctx); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to start cluster membership: %w", err)
	}

	if a.cfg.ShouldRunIngest() {
		a.startConversionLoop(ctx)
		a.startRetentionLoop(ctx)
		if a.cfg.Bus.Enabled {
			a.startBusConsumer(ctx)
		}
	}

	if err := a.startHTTPServer(ctx); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	log.Printf("stratum started in %s mode on %s", a.cfg.Mode, a.cfg.Addr)
	return nil
}

// cleanup closes whatever closers Start managed to register before a
// startup step failed. It is the startup-failure counterpart to Stop's
// normal-path teardown -- both end up closing the same registered closers.
func (a *App) cleanup() {
	if a.shutdown != nil {
		if err := a.shutdown.Shutdown(context.Background(), "startup failed"); err != nil {
			log.Printf("cleanup error: %v", err)
		}
	}
}

// initSharedResources opens the object store and builds every in-process
// subsystem on top of it.
func (a *App) initSharedResources(ctx context.Context) error {
	a.shutdown = server.NewShutdownManager(server.ShutdownConfig{
		ShutdownTimeout: a.cfg.ShutdownTimeout,
		DrainTimeout:    a.cfg.DrainTimeout,
	})
	a.shutdown.OnShutdownStart(func() { log.Printf("initiating graceful shutdown...") })
	a.shutdown.OnShutdownEnd(func() { log.Printf("stratum stopped") })

	var err error
	a.store, err = openStore(ctx, a.cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open object store: %w", err)
	}
	log.Printf("object store opened: type=%s", a.cfg.Store.Type)

	a.catalog = catalog.New(a.store)
	if err := a.catalog.Rebuild(ctx); err != nil {
		return fmt.Errorf("failed to rebuild stream catalog: %w", err)
	}

	a.registry = schema.New(a.store)

	hostname, _ := os.Hostname()
	a.staging, err = staging.New(a.cfg.StagingDir, hostname, a.cfg.StagingCapBytes)
	if err != nil {
		return fmt.Errorf("failed to initialize staging engine: %w", err)
	}

	a.shutdown.RegisterCloser(server.CloserFunc(func() error {
		if err := a.staging.RotateAll(); err != nil {
			log.Printf("staging rotate-all error: %v", err)
		}
		return a.staging.Close()
	}))

	a.manifest, err = manifest.NewManager(a.store, a.cfg.StagingDir)
	if err != nil {
		return fmt.Errorf("failed to initialize manifest manager: %w", err)
	}

	a.notifier = router.NewNotifier(100)
	a.manifest.SetNotifier(a.notifier)

	a.convert = convert.New(a.staging, a.store, a.catalog, a.registry, a.manifest, hostname)

	hotTierDir := a.cfg.StagingDir + "/.hottier"
	a.hotTier, err = hottier.New(a.store, hotTierDir, hottier.DefaultMaxBytes)
	if err != nil {
		return fmt.Errorf("failed to initialize hot tier: %w", err)
	}
	a.hotTier.Subscribe(a.notifier)

	nodeID := a.cfg.Cluster.NodeID
	if nodeID == "" {
		id, err := ulid.NewGenerator().Generate()
		if err != nil {
			return fmt.Errorf("failed to generate node id: %w", err)
		}
		nodeID = id.String()
	}
	role := clusterRole(a.cfg)
	domainName, port := splitAddr(a.cfg.Addr)

	a.membership = cluster.NewMembership(a.store, nodeID, role, domainName, port)
	a.gossip = cluster.NewGossip(a.membership, a.notifier, basicAuthHeader(a.cfg))

	var gossipForQuery *cluster.Gossip
	if a.cfg.ShouldRunQuery() {
		gossipForQuery = a.gossip
	}
	a.queryEngine = queryengine.New(a.catalog, a.manifest, a.hotTier, gossipForQuery)

	return nil
}

// startConversionLoop ticks the conversion engine on the configured
// interval, rotating staging files into columnar artifacts.
func (a *App) startConversionLoop(ctx context.Context) {
	interval := a.cfg.ConversionInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := a.convert.Tick(ctx); err != nil {
					log.Printf("conversion tick error: %v", err)
				}
			}
		}
	}()
}

// startRetentionLoop periodically sweeps manifests for retention-expired
// entries and reconciles orphaned artifacts.
func (a *App) startRetentionLoop(ctx context.Context) {
	interval := a.cfg.RetentionCheckInterval
	if interval <= 0 {
		interval = time.Hour
	}
	gc := manifest.NewRetentionGC(a.store, a.catalog, a.manifest)
	reconciler := manifest.NewOrphanReconciler(a.store, a.catalog, a.manifest)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				date := time.Now().UTC().Format("2006-01-02")
				if err := gc.Run(ctx, date); err != nil {
					log.Printf("retention GC error: %v", err)
				}
				if err := reconciler.Run(ctx, date); err != nil {
					log.Printf("orphan reconciliation error: %v", err)
				}
				if err := a.manifest.DrainPending(ctx); err != nil {
					log.Printf("pending manifest drain error: %v", err)
				}
			}
		}
	}()
}

// startBusConsumer starts the optional Kafka-compatible consumer, feeding
// its configured topic bindings into the same staging append path the
// HTTP ingest handler uses.
func (a *App) startBusConsumer(ctx context.Context) {
	a.bus = busconsumer.New(busconsumer.Config{
		Brokers: a.cfg.Bus.Brokers,
		GroupID: a.cfg.Bus.GroupID,
		Bindings: func() []busconsumer.TopicBinding {
			bindings := make([]busconsumer.TopicBinding, len(a.cfg.Bus.Bindings))
			for i, b := range a.cfg.Bus.Bindings {
				bindings[i] = busconsumer.TopicBinding{Topic: b.Topic, Stream: b.Stream, CustomPartition: b.CustomPartition}
			}
			return bindings
		}(),
	}, a.catalog, a.registry, a.staging)

	a.shutdown.RegisterCloser(a.bus)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.bus.Run(ctx); err != nil {
			log.Printf("bus consumer error: %v", err)
		}
	}()
}

// startHTTPServer wires the HTTP handlers appropriate to the configured
// mode behind shared middleware and starts listening.
func (a *App) startHTTPServer(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/liveness", a.livenessHandler)
	mux.HandleFunc("/api/v1/readiness", a.readinessHandler)
	mux.HandleFunc("/api/v1/about", a.aboutHandler)

	if a.cfg.ShouldRunIngest() {
		mux.Handle("/api/v1/ingest", httpapi.NewIngestHandler(a.catalog, a.registry, a.staging))
		mux.Handle("/api/v1/query-live", httpapi.NewLiveQueryHandler(a.staging))
		mux.HandleFunc("/api/v1/logstream/", a.logstreamHandler)
	}

	if a.cfg.ShouldRunQuery() {
		mux.Handle("/api/v1/query", httpapi.NewQueryHandler(a.queryEngine))
	}

	middleware := httpapi.ChainMiddleware(
		server.ShutdownMiddleware(a.shutdown),
		httpapi.RecoveryMiddleware,
		httpapi.RequestIDMiddleware,
		httpapi.CorrelationIDMiddleware,
		httpapi.ContentTypeMiddleware,
		httpapi.BasicAuthMiddleware(a.cfg.Username, a.cfg.Password),
	)

	a.httpServer = &http.Server{
		Addr:         a.cfg.Addr,
		Handler:      middleware(mux),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	graceful := server.NewGracefulHTTPServer(a.httpServer, a.shutdown)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		log.Printf("HTTP server listening on %s", a.cfg.Addr)
		if err := graceful.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	return nil
}

func (a *App) livenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"live"}`)
}

func (a *App) readinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ready"}`)
}

func (a *App) aboutHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"mode":"%s","node_id":"%s","role":"%s"}`,
		a.cfg.Mode, a.membership.Self().NodeID, a.membership.Self().Role)
}

// logstreamHandler serves the PUT/GET/DELETE /api/v1/logstream[/{name}]
// surface plus the cluster-internal /sync endpoint Gossip.SyncStreamConfig
// targets.
func (a *App) logstreamHandler(w http.ResponseWriter, r *http.Request) {
	httpapi.NewStreamHandler(a.catalog, a.gossip).ServeHTTP(w, r)
}

// Stop gracefully stops every background loop and closes every subsystem
// App.Start registered with the shutdown manager (staging, the bus
// consumer, the HTTP listener), in the reverse order they were opened.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	if a.cancel != nil {
		a.cancel()
	}
	if a.membership != nil {
		a.membership.Stop()
	}

	shutdownErr := a.shutdown.Shutdown(ctx, "Stop called")
	if shutdownErr != nil {
		log.Printf("shutdown error: %v", shutdownErr)
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	select {
	case <-done:
	case <-waitCtx.Done():
		log.Printf("shutdown timeout, some goroutines may not have finished")
	}

	return shutdownErr
}

// WaitForShutdown blocks until a termination signal or cancelled context,
// triggering the same shutdown sequence Stop would.
func (a *App) WaitForShutdown(ctx context.Context) error {
	return a.shutdown.ListenForSignals(ctx)
}

func clusterRole(cfg *config.Config) model.NodeRole {
	switch cfg.Cluster.Role {
	case "ingestor":
		return model.RoleIngestor
	case "querier":
		return model.RoleQuerier
	default:
		return model.RoleAll
	}
}

func splitAddr(addr string) (host string, port int) {
	h, p, err := net.SplitHostPort(addr)
	if err != nil {
		return "localhost", 8080
	}
	if h == "" {
		h = "localhost"
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		n = 8080
	}
	return h, n
}

func basicAuthHeader(cfg *config.Config) string {
	if cfg.Username == "" && cfg.Password == "" {
		return ""
	}
	token := base64.StdEncoding.EncodeToString([]byte(cfg.Username + ":" + cfg.Password))
	return "Basic " + token
}
