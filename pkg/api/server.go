package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/credon/veridex/pkg/allocator"
	"github.com/credon/veridex/pkg/docstore"
	"github.com/credon/veridex/pkg/issuer"
	"github.com/credon/veridex/pkg/log"
	"github.com/credon/veridex/pkg/metrics"
	"github.com/credon/veridex/pkg/statuslist"
	"github.com/credon/veridex/pkg/types"
)

// Server exposes the issuer service over HTTP.
type Server struct {
	service    *issuer.Service
	httpServer *http.Server
	logger     zerolog.Logger
}

// NewServer creates the HTTP server on the given listen address.
func NewServer(service *issuer.Service, addr string) *Server {
	s := &Server{
		service: service,
		logger:  log.WithComponent("api"),
	}

	router := mux.NewRouter()
	router.Use(s.requestMiddleware)
	router.HandleFunc("/issuers/{id}/credentials/issue", s.handleIssue).Methods(http.MethodPost)
	router.HandleFunc("/issuers/{id}/credentials/status", s.handleStatus).Methods(http.MethodPost)
	router.HandleFunc("/issuers/{id}/slcs/{slcID}/publish", s.handlePublish).Methods(http.MethodPost)
	router.HandleFunc("/issuers/{id}/slcs/{slcID}", s.handleGetList).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("API server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type issueRequest struct {
	Credential *types.Credential `json:"credential"`
	Options    json.RawMessage   `json:"options,omitempty"`
}

type issueResponse struct {
	VerifiableCredential *types.Credential `json:"verifiableCredential"`
}

func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	issuerID := mux.Vars(r)["id"]

	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Credential == nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("credential is required"))
		return
	}

	signed, err := s.service.Issue(r.Context(), issuerID, req.Credential)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, issueResponse{VerifiableCredential: signed})
}

type statusRequest struct {
	CredentialID     string `json:"credentialId"`
	CredentialStatus struct {
		Type          string `json:"type"`
		StatusPurpose string `json:"statusPurpose,omitempty"`
	} `json:"credentialStatus"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	issuerID := mux.Vars(r)["id"]

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.CredentialID == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("credentialId is required"))
		return
	}

	err := s.service.UpdateStatus(r.Context(), issuerID, req.CredentialID,
		req.CredentialStatus.StatusPurpose)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	instance, listID, ok := s.resolveList(w, r)
	if !ok {
		return
	}
	if _, err := instance.StatusLists.Publish(r.Context(), listID); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetList(w http.ResponseWriter, r *http.Request) {
	instance, listID, ok := s.resolveList(w, r)
	if !ok {
		return
	}
	cred, err := instance.StatusLists.Get(r.Context(), listID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cred)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// resolveList maps the route's issuer and list path segments back to the
// full status list credential URL.
func (s *Server) resolveList(w http.ResponseWriter, r *http.Request) (*issuer.Instance, string, bool) {
	vars := mux.Vars(r)
	instance, ok := s.service.Instance(vars["id"])
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("unknown issuer %s", vars["id"]))
		return nil, "", false
	}
	listID := fmt.Sprintf("%s/issuers/%s/slcs/%s",
		instance.Config.BaseURL, instance.Config.ID, vars["slcID"])
	return instance, listID, true
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, docstore.ErrNotFound), errors.Is(err, statuslist.ErrNotPublished):
		s.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, allocator.ErrInsufficientCapacity):
		s.writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, http.StatusRequestTimeout, err)
	default:
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Error().Err(err).Int("status", status).Msg("Request failed")
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

// requestMiddleware records request metrics and logs failures.
func (s *Server) requestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		metrics.APIRequestsTotal.WithLabelValues(route, fmt.Sprintf("%d", recorder.status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
