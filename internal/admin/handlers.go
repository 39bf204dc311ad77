package admin

import (
	"encoding/json"
	"net/http"
	"net/netip"

	"github.com/tkingovr/quotaguard/internal/envelope"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	data, err := s.config()
	if err != nil {
		http.Error(w, "failed to render config", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(data)
}

func (s *Server) handleRuntimeReload(w http.ResponseWriter, r *http.Request) {
	if err := s.runtime.Reload(r.Context()); err != nil {
		s.logger.Error("runtime reload failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.logger.Info("runtime flags reloaded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

type checkRequest struct {
	RemoteAddress string `json:"remote_address,omitempty"`
	envelope.Envelope
}

func (s *Server) handleAPICheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.Service == "" || req.Method == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "service and method are required"})
		return
	}

	var remote netip.Addr
	if req.RemoteAddress != "" {
		addr, err := netip.ParseAddr(req.RemoteAddress)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid remote_address"})
			return
		}
		remote = addr
	}

	res, err := s.checker.Check(r.Context(), &req.Envelope, remote)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
