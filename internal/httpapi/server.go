// Package httpapi exposes the follow-up coordinator over HTTP: the dashboard API
// and the callbacks the telephony platform invokes.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/tiger/discharge-followup/api/calls"
	"github.com/tiger/discharge-followup/internal/callflow"
	"github.com/tiger/discharge-followup/internal/logger"
	"github.com/tiger/discharge-followup/internal/runtime/provider/contracts"
	"github.com/tiger/discharge-followup/internal/webhook"
)

const maxBodyBytes = 1 << 20

// Patients is the patient directory.
type Patients interface {
	InsertPatient(ctx context.Context, p calls.Patient) error
	ListPatients(ctx context.Context) ([]calls.Patient, error)
}

// Settings reads and patches the provider settings record.
type Settings interface {
	Load(ctx context.Context) (calls.ProviderSettings, error)
	Apply(ctx context.Context, raw []byte) (calls.ProviderSettings, error)
}

// Server routes HTTP requests to the coordinator and its collaborators.
type Server struct {
	Coordinator *callflow.Coordinator
	Patients    Patients
	Settings    Settings
	// Feed streams call changes over a websocket; nil disables the route.
	Feed http.Handler
	// Health reports readiness of backing storage; nil means always healthy.
	Health func(ctx context.Context) error
	Now    func() time.Time
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(recoverMiddleware, logMiddleware)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/calls/initiate", s.handleInitiate).Methods(http.MethodPost)
	api.HandleFunc("/calls", s.handleListCalls).Methods(http.MethodGet)
	if s.Feed != nil {
		api.Handle("/calls/stream", s.Feed).Methods(http.MethodGet)
	}
	api.HandleFunc("/calls/{id}", s.handleGetCall).Methods(http.MethodGet)
	api.HandleFunc("/plivo/answer", s.handleAnswer).Methods(http.MethodGet, http.MethodPost)
	api.HandleFunc("/tts/play", s.handlePlay).Methods(http.MethodGet)
	api.HandleFunc("/webhook/plivo", s.handleWebhook).Methods(http.MethodPost)
	api.HandleFunc("/settings", s.handleGetSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", s.handlePostSettings).Methods(http.MethodPost)
	api.HandleFunc("/patients", s.handleListPatients).Methods(http.MethodGet)
	api.HandleFunc("/patients", s.handleCreatePatient).Methods(http.MethodPost)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	return router
}

type initiateRequest struct {
	PatientID string `json:"patientId"`
}

type initiateResponse struct {
	OK     bool   `json:"ok"`
	CallID string `json:"callId,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := decodeJSON(w, r, &req); err != nil || strings.TrimSpace(req.PatientID) == "" {
		writeJSON(w, http.StatusBadRequest, initiateResponse{Error: "patientId is required"})
		return
	}
	call, err := s.Coordinator.Initiate(r.Context(), req.PatientID)
	if err == nil {
		writeJSON(w, http.StatusOK, initiateResponse{OK: true, CallID: call.ID})
		return
	}

	var providerErr *contracts.ProviderError
	switch {
	case errors.Is(err, calls.ErrNotFound):
		writeJSON(w, http.StatusNotFound, initiateResponse{Error: "patient not found"})
	case contracts.IsConfigurationError(err):
		writeJSON(w, http.StatusBadRequest, initiateResponse{CallID: call.ID, Error: err.Error()})
	case errors.As(err, &providerErr):
		writeJSON(w, http.StatusBadGateway, initiateResponse{CallID: call.ID, Error: providerErr.Provider + " error"})
	default:
		logger.Base().Error("initiate call failed", zap.String("patient_id", req.PatientID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, initiateResponse{CallID: call.ID, Error: "internal error"})
	}
}

func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	list, err := s.Coordinator.ListCalls(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	summary, err := s.Coordinator.Call(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	callID := callIDParam(r)
	if callID == "" {
		http.Error(w, "callId is required", http.StatusBadRequest)
		return
	}
	doc, err := s.Coordinator.Instructions(r.Context(), callID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, doc)
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	callID := callIDParam(r)
	if callID == "" {
		http.Error(w, "callId is required", http.StatusBadRequest)
		return
	}
	entry, err := s.Coordinator.PromptAudio(r.Context(), callID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", entry.ContentType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(entry.Audio)
}

// handleWebhook always acknowledges so the carrier never redelivers for conditions
// a retry cannot fix.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		logger.Base().Warn("webhook form unreadable", zap.Error(err))
	}
	ev := webhook.Parse(r.PostForm, r.URL.Query())
	if _, err := s.Coordinator.HandleWebhook(r.Context(), ev); err != nil {
		logger.Base().Error("webhook not applied",
			zap.String("provider_call_id", ev.ProviderCallID),
			zap.String("call_id", ev.CallID),
			zap.String("status", ev.Status),
			zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	current, err := s.Settings.Load(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, current)
}

func (s *Server) handlePostSettings(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unreadable body"})
		return
	}
	updated, err := s.Settings.Apply(r.Context(), raw)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleListPatients(w http.ResponseWriter, r *http.Request) {
	list, err := s.Patients.ListPatients(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type createPatientRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	MRN   string `json:"mrn"`
}

func (s *Server) handleCreatePatient(w http.ResponseWriter, r *http.Request) {
	var req createPatientRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return
	}
	patient := calls.Patient{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(req.Name),
		Phone:     strings.TrimSpace(req.Phone),
		MRN:       strings.TrimSpace(req.MRN),
		CreatedAt: s.now(),
	}
	if err := patient.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := s.Patients.InsertPatient(r.Context(), patient); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, patient)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.Health != nil {
		if err := s.Health(r.Context()); err != nil {
			logger.Base().Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ok": false})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func callIDParam(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get("callId"))
}
