package dispatcher

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/flowstate/flowstate/internal/wire"
)

// Server exposes the Dispatcher's operations over plain JSON-over-HTTP,
// matching the poll contract runners initiate against.
type Server struct {
	d          *Dispatcher
	adminToken string
	mux        *http.ServeMux
}

// NewServer builds an http.Handler for the dispatcher's runner and admin
// endpoints. adminToken gates the admin-only routes; an empty token
// disables admin auth entirely (local/dev use only).
func NewServer(d *Dispatcher, adminToken string) *Server {
	s := &Server{d: d, adminToken: adminToken, mux: http.NewServeMux()}
	s.mux.HandleFunc("/v1/register", s.handleRegister)
	s.mux.HandleFunc("/v1/claim", s.handleClaim)
	s.mux.HandleFunc("/v1/progress", s.handleProgress)
	s.mux.HandleFunc("/v1/complete", s.handleComplete)
	s.mux.HandleFunc("/v1/admin/fleet", s.withAdminAuth(s.handleFleetView))
	s.mux.HandleFunc("/v1/admin/pending_config", s.withAdminAuth(s.handleSetPendingConfig))
	s.mux.HandleFunc("/v1/admin/enqueue", s.withAdminAuth(s.handleEnqueue))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// withAdminAuth requires a `Bearer <token>` Authorization header whose
// value matches adminToken via a constant-time comparison.
func (s *Server) withAdminAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			next(w, r)
			return
		}
		const prefix = "Bearer "
		auth := r.Header.Get("Authorization")
		if len(auth) < len(prefix) || auth[:len(prefix)] != prefix {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		supplied := auth[len(prefix):]
		if subtle.ConstantTimeCompare([]byte(supplied), []byte(s.adminToken)) != 1 {
			http.Error(w, "invalid bearer token", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func decodeJSON[T any](r *http.Request) (T, error) {
	var v T
	err := json.NewDecoder(r.Body).Decode(&v)
	return v, err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	req, err := decodeJSON[wire.RegisterRequest](r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.d.Register(req))
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	req, err := decodeJSON[wire.ClaimRequest](r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp, err := s.d.Claim(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if resp.Run == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	req, err := decodeJSON[wire.ProgressRequest](r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.d.Progress(req); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, wire.Ack{OK: true})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	req, err := decodeJSON[wire.CompleteRequest](r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.d.Complete(req); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, wire.Ack{OK: true})
}

func (s *Server) handleFleetView(w http.ResponseWriter, r *http.Request) {
	view, err := s.d.FleetView()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	req, err := decodeJSON[wire.EnqueueRequest](r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	runID, err := s.d.Enqueue(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, wire.EnqueueResponse{RunID: runID})
}

func (s *Server) handleSetPendingConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	req, err := decodeJSON[wire.SetPendingConfigRequest](r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !s.d.SetPendingConfig(req) {
		http.Error(w, "unknown runner", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, wire.Ack{OK: true})
}
