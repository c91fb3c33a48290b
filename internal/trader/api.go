package trader

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ratio-trade-bot-go/internal/database"
)

// APIServer provides the optional HTTP inspection surface.
type APIServer struct {
	server    *http.Server
	db        *database.Database
	strategy  string
	startTime time.Time
	logger    *zap.Logger
}

// NewAPIServer creates a new APIServer.
func NewAPIServer(port int, db *database.Database, strategy string, logger *zap.Logger) *APIServer {
	s := &APIServer{
		db:        db,
		strategy:  strategy,
		startTime: time.Now(),
		logger:    logger.Named("api-server"),
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	router.HandleFunc("/status", s.statusHandler).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}
	return s
}

// Start runs the HTTP server in a new goroutine.
func (s *APIServer) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *APIServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

func (s *APIServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := struct {
		Strategy    string `json:"strategy"`
		CurrentCoin string `json:"current_coin"`
		HeldSince   string `json:"held_since,omitempty"`
		StartTime   string `json:"start_time"`
		Uptime      string `json:"uptime"`
	}{
		Strategy:  s.strategy,
		StartTime: s.startTime.Format(time.RFC3339),
		Uptime:    time.Since(s.startTime).String(),
	}

	current, err := s.db.GetCurrentCoin()
	if err != nil {
		s.logger.Error("Failed to read current coin", zap.Error(err))
	} else if current != nil {
		status.CurrentCoin = current.CoinSymbol
		status.HeldSince = current.Datetime.Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error("Failed to write status response", zap.Error(err))
		http.Error(w, "Failed to encode status", http.StatusInternalServerError)
	}
}

func (s *APIServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}
