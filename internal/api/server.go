// Package api provides the HTTP read surface over the item store, the rule
// engine and the indexing scheduler.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/auction-scanner/internal/indexer"
	"github.com/auction-scanner/internal/logging"
	"github.com/auction-scanner/internal/models"
	"github.com/auction-scanner/internal/storage"
	"github.com/gorilla/mux"
)

// RuleEngine is the part of the crawler engine the API drives.
type RuleEngine interface {
	AddRule(ctx context.Context, rule *models.CrawlerRule) (*models.CrawlerRule, error)
	UpdateRule(ctx context.Context, rule *models.CrawlerRule) (*models.CrawlerRule, error)
	RemoveRule(ctx context.Context, id string) error
	GetRule(id string) *models.CrawlerRule
	ListRules() []*models.CrawlerRule
	CheckRuleByID(ctx context.Context, id string) ([]*models.StoredResult, error)
	GetStoredResults() []*models.StoredResult
	GetResultsForRule(ruleID string) []*models.StoredResult
	SetResultFlags(ruleID, itemID string, flags models.ResultFlags) (*models.StoredResult, error)
}

// IndexRunner is the part of the indexing scheduler the API drives.
type IndexRunner interface {
	RunCycle(ctx context.Context) (*indexer.CycleResult, error)
	Status() *indexer.Status
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	store      storage.Store
	engine     RuleEngine
	indexer    IndexRunner
	logger     *logging.Logger
	config     *ServerConfig

	// runCtx parents manually triggered indexing cycles
	runCtx context.Context
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	RequestsPerSecond float64 // per client address, 0 disables
	Burst             int
}

// NewServer creates a new API server instance. engine and idx may be nil,
// in which case their routes answer 503.
func NewServer(config *ServerConfig, store storage.Store, engine RuleEngine, idx IndexRunner, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	s := &Server{
		router:  mux.NewRouter(),
		store:   store,
		engine:  engine,
		indexer: idx,
		logger:  logger.WithComponent("api"),
		config:  config,
		runCtx:  context.Background(),
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSecond, s.config.Burst)

	// Set up middleware (order matters!)
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Item endpoints
	api.HandleFunc("/items/search", s.handleSearchItems).Methods("GET")
	api.HandleFunc("/items/ending-soon", s.handleEndingSoon).Methods("GET")
	api.HandleFunc("/items/{id}", s.handleGetItem).Methods("GET")
	api.HandleFunc("/ended-items", s.handleListEnded).Methods("GET")
	api.HandleFunc("/ended-items/{id}", s.handleGetEnded).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/locations", s.handleLocations).Methods("GET")

	// Rule endpoints
	api.HandleFunc("/rules", s.handleListRules).Methods("GET")
	api.HandleFunc("/rules", s.handleCreateRule).Methods("POST")
	api.HandleFunc("/rules/{id}", s.handleGetRule).Methods("GET")
	api.HandleFunc("/rules/{id}", s.handleUpdateRule).Methods("PUT")
	api.HandleFunc("/rules/{id}", s.handleDeleteRule).Methods("DELETE")
	api.HandleFunc("/rules/{id}/check", s.handleCheckRule).Methods("POST")

	// Result endpoints
	api.HandleFunc("/results", s.handleListResults).Methods("GET")
	api.HandleFunc("/results/{ruleId}/{itemId}", s.handleUpdateResult).Methods("PATCH")

	// Indexer endpoints
	api.HandleFunc("/index/run", s.handleRunIndex).Methods("POST")
	api.HandleFunc("/index/status", s.handleIndexStatus).Methods("GET")

	// Preflight requests only need the middleware chain to run
	s.router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

// handleHealth reports liveness and whether the store answers.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]string{
		"status":  "healthy",
		"service": "auction-scanner",
		"store":   "ok",
	}
	if err := s.store.Ping(r.Context()); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["store"] = "unavailable"
	}
	respondJSON(w, status, body)
}

// Handler exposes the routed handler, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start(ctx context.Context) error {
	s.runCtx = ctx
	s.logger.Infof("Starting API server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
