package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liamcoop/timecontrol/config"
	"github.com/liamcoop/timecontrol/controller"
	"github.com/liamcoop/timecontrol/internal/hub"
	"github.com/liamcoop/timecontrol/internal/logger"
	"github.com/liamcoop/timecontrol/kvstore"
	"github.com/liamcoop/timecontrol/nodemanager"
	"github.com/liamcoop/timecontrol/rules"
)

// maxBodySize caps request bodies; node definitions are the largest.
const maxBodySize = 1 << 20

type Server struct {
	db       *sql.DB
	nc       *nats.Conn
	nodes    *nodemanager.Manager
	hub      *hub.Hub
	registry *prometheus.Registry
	router   *chi.Mux
	log      *slog.Logger
}

// NewServer connects the configured backends, loads all nodes and builds the router.
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log := logger.For("server")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	h := hub.New(logger.For("hub"))
	deps := controller.NewDeps(reg)
	deps.Emitter = h
	deps.Logger = logger.For("controller")

	s := &Server{hub: h, registry: reg, log: log}

	if cfg.Database.URL != "" {
		db, err := sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		s.db = db
	}

	switch cfg.KV.Backend {
	case config.KVPostgres:
		deps.Store = kvstore.NewPostgres(s.db)
	case config.KVNATS:
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("timecontrol"))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		s.nc = nc
		js, err := jetstream.New(nc)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}
		store, err := kvstore.OpenNATS(ctx, js, cfg.NATS.Bucket)
		if err != nil {
			s.Close()
			return nil, err
		}
		deps.Store = store
	}

	s.nodes = nodemanager.NewManager(deps, s.db)

	log.Info("loading nodes")
	if err := s.nodes.LoadAll(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to load nodes: %w", err)
	}
	if cfg.Nodes.Dir != "" {
		if err := s.nodes.LoadDir(cfg.Nodes.Dir); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to load node files: %w", err)
		}
	}
	log.Info("nodes loaded", slog.Any("nodes", s.nodes.ListNodes()))

	s.setupRoutes()
	return s, nil
}

// newServer wires a server around an existing manager.
func newServer(nodes *nodemanager.Manager, h *hub.Hub, reg *prometheus.Registry, db *sql.DB) *Server {
	s := &Server{
		db:       db,
		nodes:    nodes,
		hub:      h,
		registry: reg,
		log:      logger.For("server"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	// websocket connections outlive the request timeout
	r.Get("/api/v1/nodes/{nodeId}/ws", s.handleSubscribe)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Logger)
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/api/v1/health", s.handleHealth)

		r.Route("/api/v1/nodes", func(r chi.Router) {
			r.Get("/", s.handleListNodes)

			r.Route("/{nodeId}", func(r chi.Router) {
				r.Get("/", s.handleGetNode)
				r.Put("/", s.handlePutNode)
				r.Delete("/", s.handleDeleteNode)

				r.Post("/evaluate", s.handleEvaluate)
				r.Post("/rules/{ruleId}/enable", s.handleToggleRule(true))
				r.Post("/rules/{ruleId}/disable", s.handleToggleRule(false))
			})
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops every node and releases the backends.
func (s *Server) Close() {
	if s.nodes != nil {
		s.nodes.Shutdown()
	}
	if s.nc != nil {
		s.nc.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"nodesLoaded": len(s.nodes.ListNodes()),
		"subscribers": s.hub.Clients(),
	})
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	ids := s.nodes.ListNodes()
	resp := NodesListResponse{Nodes: make([]NodeSummary, 0, len(ids))}
	for _, id := range ids {
		n, err := s.nodes.GetNode(id)
		if err != nil {
			// deleted concurrently
			continue
		}
		resp.Nodes = append(resp.Nodes, NodeSummary{
			ID:       id,
			Name:     n.Config.Name,
			Rules:    len(n.Config.Rules),
			LoadedAt: n.LoadedAt,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	n, err := s.nodes.GetNode(chi.URLParam(r, "nodeId"))
	if err != nil {
		respondError(w, http.StatusNotFound, "node not found", err)
		return
	}

	resp, err := toNodeResponse(n)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read rules", err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePutNode(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeId")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read request body", err)
		return
	}
	def, err := config.ParseNode(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid node definition", err)
		return
	}
	if def.ID != "" && def.ID != nodeID {
		respondError(w, http.StatusBadRequest, "node id does not match the path", nil)
		return
	}
	def.ID = nodeID

	if err := s.nodes.UpdateNode(def); err != nil {
		if errors.Is(err, controller.ErrInvalidConfig) {
			respondError(w, http.StatusBadRequest, "invalid node definition", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to update node", err)
		return
	}

	n, err := s.nodes.GetNode(nodeID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load node", err)
		return
	}
	resp, err := toNodeResponse(n)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read rules", err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	if err := s.nodes.DeleteNode(chi.URLParam(r, "nodeId")); err != nil {
		if errors.Is(err, nodemanager.ErrNodeNotFound) {
			respondError(w, http.StatusNotFound, "node not found", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to delete node", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Evaluation handler
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeId")

	var req EvaluateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	res, err := s.nodes.Evaluate(r.Context(), nodeID, req.Event(middleware.GetReqID(r.Context())), time.Now())
	if err != nil {
		switch {
		case errors.Is(err, nodemanager.ErrNodeNotFound):
			respondError(w, http.StatusNotFound, "node not found", err)
		case errors.Is(err, controller.ErrShutdown):
			respondError(w, http.StatusServiceUnavailable, "node is being replaced", err)
		default:
			respondError(w, http.StatusInternalServerError, "evaluation failed", err)
		}
		return
	}

	s.hub.Emit(r.Context(), res)
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleToggleRule(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := s.nodes.GetNode(chi.URLParam(r, "nodeId"))
		if err != nil {
			respondError(w, http.StatusNotFound, "node not found", err)
			return
		}
		ruleID, err := strconv.Atoi(chi.URLParam(r, "ruleId"))
		if err != nil {
			respondError(w, http.StatusBadRequest, "rule id must be a number", err)
			return
		}

		if err := n.Controller.SetRuleEnabled(ruleID, enabled); err != nil {
			if errors.Is(err, rules.ErrNotFound) {
				respondError(w, http.StatusNotFound, "rule not found", err)
				return
			}
			respondError(w, http.StatusInternalServerError, "failed to update rule", err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"id": ruleID, "enabled": enabled})
	}
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeId")
	if _, err := s.nodes.GetNode(nodeID); err != nil {
		respondError(w, http.StatusNotFound, "node not found", err)
		return
	}
	if err := s.hub.Serve(w, r, nodeID); err != nil {
		// the upgrader has already written the response
		s.log.Warn("websocket upgrade failed", slog.String("node", nodeID), slog.Any("error", err))
	}
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]string{
		"error": message,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}

func main() {
	cfg, err := config.Load(os.Getenv("TIMECONTROL_CONFIG_DIR"))
	if err != nil {
		logger.Fatal("failed to load configuration", slog.Any("error", err))
	}
	if err := logger.Configure(cfg.Log.Level); err != nil {
		logger.Error("invalid log level, keeping default", slog.Any("error", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := NewServer(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to create server", slog.Any("error", err))
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	go server.hub.Run(hubCtx)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", slog.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed to start", slog.Any("error", err))
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}
	stopHub()
	server.Close()

	logger.Info("server stopped")
	_ = logger.Shutdown(shutdownCtx)
}
