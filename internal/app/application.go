package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/rs/zerolog/log"

	"gridspace/internal/api"
	"gridspace/internal/broadcast"
	"gridspace/internal/config"
	"gridspace/internal/coordinator"
	"gridspace/internal/database"
	"gridspace/internal/grid"
	"gridspace/internal/hub"
	"gridspace/internal/rooms"
	"gridspace/internal/session"
	"gridspace/internal/websocket"
	pkgdatabase "gridspace/pkg/database"
	"gridspace/pkg/interfaces"
	"gridspace/pkg/metrics"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config      *config.Config
	dbManager   *database.Manager
	registry    *websocket.Registry
	sessions    *session.Tracker
	coordinator *coordinator.Coordinator
	hub         *hub.Hub
	metrics     *metrics.Metrics
	apiServer   *api.Server
	httpServer  *http.Server
	listener    net.Listener
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Database → Rooms → Grid/Sessions → Registry/Broadcaster → Coordinator → Hub → API → HTTP
func NewApplication(cfg *config.Config, observers ...interfaces.PresenceObserver) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Room storage (migrations are applied by the manager)
	dbConfig := pkgdatabase.DefaultConfig()
	dbConfig.Name = cfg.Database.Name
	dbConfig.WriteTimeout = cfg.Database.Timeout

	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	// STEP 2: Domain stores
	roomRegistry := rooms.NewRegistry(dbManager)
	gridStore := grid.NewStore()
	sessions := session.NewTracker()

	// STEP 3: Connection registry and fan-out
	registry := websocket.NewRegistry()
	broadcaster := broadcast.NewBroadcaster(registry)

	// STEP 4: Lifecycle coordinator, observed by metrics and any media layer
	m := metrics.New()
	coord := coordinator.New(roomRegistry, gridStore, sessions, broadcaster, m)
	for _, o := range observers {
		coord.AddObserver(o)
	}

	// STEP 5: Hub serializing every mutation
	messageHub := hub.NewHub(coord, broadcaster, m, hub.Config{
		QueueSize:        cfg.Hub.QueueSize,
		IntentsPerMinute: cfg.WebSocket.IntentsPerMinute,
	})

	// STEP 6: REST surface
	apiServer := api.NewServer(coord, messageHub, dbManager, registry, sessions, m, api.Config{
		AllowedOrigins: cfg.HTTP.CORSAllowedOrigins,
	})

	// STEP 7: Real-time surface
	wsHandler := websocket.NewHandler(registry, messageHub, websocket.HandlerConfig{
		PingInterval:   cfg.WebSocket.PingInterval,
		ReadTimeout:    cfg.WebSocket.ReadTimeout,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		BufferSize:     cfg.WebSocket.BufferSize,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
	})

	// STEP 8: Setup HTTP server with both API and WebSocket endpoints
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", wsHandler.HandleWebSocket)
	mux.Handle("/", apiServer)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:      cfg,
		dbManager:   dbManager,
		registry:    registry,
		sessions:    sessions,
		coordinator: coord,
		hub:         messageHub,
		metrics:     m,
		apiServer:   apiServer,
		httpServer:  httpServer,
	}, nil
}

// Handler returns the combined REST and websocket handler
func (app *Application) Handler() http.Handler {
	return app.httpServer.Handler
}

// StartHub starts mutation processing without binding a listener
func (app *Application) StartHub(ctx context.Context) error {
	if err := app.hub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}
	return nil
}

// Start begins application execution
// Hub starts first to handle intents, then the HTTP server accepts connections
func (app *Application) Start(ctx context.Context) error {
	if err := app.StartHub(ctx); err != nil {
		return err
	}

	// TECHNICAL DISCOVERY: Binding before serving surfaces address errors
	// synchronously instead of racing a startup timer
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.hub.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = listener

	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Str("module", "app").Err(err).Msg("HTTP server error")
		}
	}()

	log.Info().Str("module", "app").Str("addr", listener.Addr().String()).Msg("gridspace started")
	return nil
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → Hub → Database
func (app *Application) Stop(ctx context.Context) error {
	log.Info().Str("module", "app").Msg("shutting down gridspace")

	var errs []error

	// STEP 1: Stop accepting new connections
	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Warn().Str("module", "app").Err(err).Msg("HTTP server shutdown error")
		errs = append(errs, err)
	}

	// STEP 2: Stop intent processing
	if err := app.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		log.Warn().Str("module", "app").Err(err).Msg("hub shutdown error")
		errs = append(errs, err)
	}

	// STEP 3: Drop live sockets; their cleanup is moot once state is discarded
	if n := app.registry.CloseAll(); n > 0 {
		log.Info().Str("module", "app").Int("connections", n).Msg("closed live connections")
	}

	// STEP 4: Discard room storage
	if err := app.dbManager.Close(); err != nil {
		log.Warn().Str("module", "app").Err(err).Msg("database shutdown error")
		errs = append(errs, err)
	}

	log.Info().Str("module", "app").Msg("gridspace shutdown complete")
	return errors.Join(errs...)
}

// Addr returns the bound listener address, or the configured one before Start
func (app *Application) Addr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}
