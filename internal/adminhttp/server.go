// Package adminhttp is the administrative HTTP surface: group listing and
// saving (exercising the group cycle guard) and a health check, routed through
// gorilla/mux with an alice.Chain of cross-cutting middleware and an
// otelmux tracing span per request.
package adminhttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"

	"github.com/comcast/trackerd/internal/group"
	"github.com/comcast/trackerd/internal/model"
)

// apiBase is the versioned prefix every route this server exposes lives
// under.
const apiBase = "/api/v1"

// Server is the admin HTTP surface for the connection manager.
type Server struct {
	logger log.Logger
	groups *group.Guard
}

// NewRouter builds the full mux.Router, wrapped in request logging and
// otelmux tracing.
func NewRouter(logger log.Logger, groups *group.Guard) http.Handler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	s := &Server{logger: logger, groups: groups}

	r := mux.NewRouter()
	r.Use(otelmux.Middleware("trackerd"))

	base := r.PathPrefix(apiBase).Subrouter()
	base.HandleFunc("/groups", s.listGroups).Methods(http.MethodGet)
	base.HandleFunc("/groups", s.saveGroup).Methods(http.MethodPost)

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)

	chain := alice.New(s.logRequest)
	return chain.Then(r)
}

// logRequest is the one piece of cross-cutting middleware this surface
// carries: a single structured log line per request.
func (s *Server) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		level.Info(s.logger).Log("msg", "request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

type groupPayload struct {
	ID       int64  `json:"id"`
	ParentID *int64 `json:"parentId,omitempty"`
}

func (s *Server) listGroups(w http.ResponseWriter, r *http.Request) {
	all, err := s.groups.GetAll()
	if err != nil {
		level.Error(s.logger).Log("msg", "list groups failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	payload := make([]groupPayload, 0, len(all))
	for _, g := range all {
		payload = append(payload, groupPayload{ID: g.ID, ParentID: g.ParentID})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		level.Error(s.logger).Log("msg", "encode response failed", "err", err)
	}
}

// saveGroup validates and writes a group through the cycle guard. A rejected
// cycle surfaces as 409 Conflict; any request with a malformed body is a 400.
func (s *Server) saveGroup(w http.ResponseWriter, r *http.Request) {
	var payload groupPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if payload.ID == 0 {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	err := s.groups.Save(&model.Group{ID: payload.ID, ParentID: payload.ParentID})
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, group.ErrCycle):
		level.Warn(s.logger).Log("msg", "rejected group cycle", "groupId", payload.ID, "err", err)
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		level.Error(s.logger).Log("msg", "save group failed", "groupId", payload.ID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
