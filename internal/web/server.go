package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hivegate/hivegate/internal/broker"
	"github.com/hivegate/hivegate/internal/config"
	"github.com/hivegate/hivegate/internal/relay"
	"github.com/hivegate/hivegate/internal/store"
)

// Server is the broker's only ingress: the websocket endpoint swarms connect
// to, plus a small read-only operational API.
type Server struct {
	store     *store.Store
	broker    *broker.Broker
	relay     *relay.Relay
	cfg       config.WebConfig
	version   string
	startedAt time.Time
}

func NewServer(s *store.Store, b *broker.Broker, rel *relay.Relay, cfg config.WebConfig, version string) *Server {
	return &Server{
		store:     s,
		broker:    b,
		relay:     rel,
		cfg:       cfg,
		version:   version,
		startedAt: time.Now(),
	}
}

func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /api/swarms", s.handleSwarms)
	mux.HandleFunc("GET /api/swarms/{id}/messages", s.handleMessages)
	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	mux.HandleFunc("GET /api/health", s.handleHealth)

	handler := s.withMiddleware(mux)
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	server := &http.Server{Addr: addr, Handler: handler}

	go func() {
		<-ctx.Done()
		server.Close()
	}()

	slog.Info("web server listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		// Basic Auth for the operational API; the swarm websocket endpoint
		// has its own addressing and stays open.
		if strings.HasPrefix(r.URL.Path, "/api/") && s.cfg.Auth != "" {
			if _, pass, ok := r.BasicAuth(); !ok || pass != s.cfg.Auth {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleSwarms(w http.ResponseWriter, r *http.Request) {
	infos := s.broker.Registry().Snapshot()
	jsonResponse(w, map[string]any{
		"count":  len(infos),
		"swarms": infos,
	})
}

// handleMessages serves a swarm's recent audit trail from the store. Only
// populated when message auditing is enabled in the broker config.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		jsonError(w, "store disabled", http.StatusServiceUnavailable)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	messages, err := s.store.GetRecentMessages(r.PathValue("id"), limit)
	if err != nil {
		slog.Error("query messages failed", "error", err)
		jsonError(w, "query failed", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]any{
		"count":    len(messages),
		"messages": messages,
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.broker.Matcher().Sessions()
	jsonResponse(w, map[string]any{
		"count":    len(sessions),
		"sessions": sessions,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":      "ok",
		"version":     s.version,
		"uptime":      time.Since(s.startedAt).Round(time.Second).String(),
		"connections": s.broker.Registry().Size(),
	}
	if s.relay != nil {
		health["relay_dropped"] = s.relay.Dropped()
	}
	jsonResponse(w, health)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
