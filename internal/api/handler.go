package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/yegors/uav-deconflict/internal/analysis"
	"github.com/yegors/uav-deconflict/internal/config"
	"github.com/yegors/uav-deconflict/internal/mission"
	"github.com/yegors/uav-deconflict/internal/report"
	"github.com/yegors/uav-deconflict/internal/trajectory"
	"github.com/yegors/uav-deconflict/pkg/logger"
)

// Handler serves the deconfliction endpoints
type Handler struct {
	service *analysis.Service
	config  *config.Config
	logger  *logger.Logger
}

// NewHandler creates a new handler
func NewHandler(service *analysis.Service, config *config.Config, logger *logger.Logger) *Handler {
	return &Handler{
		service: service,
		config:  config,
		logger:  logger.Named("api-handler"),
	}
}

// CheckRequest is the body of POST /api/v1/check.
// Omitted parameters fall back to the server configuration.
type CheckRequest struct {
	Mission        *mission.MissionDocument `json:"mission"`
	Flights        []mission.FlightDocument `json:"flights"`
	SafetyBufferM  *float64                 `json:"safety_buffer_m,omitempty"`
	Dt             *float64                 `json:"dt,omitempty"`
	Use3D          *bool                    `json:"use_3d,omitempty"`
	IncludeEnd     *bool                    `json:"include_end,omitempty"`
	IsolateFlights *bool                    `json:"isolate_flights,omitempty"`
	IncludePaths   bool                     `json:"include_paths,omitempty"`
}

// CheckResponse is the body of a successful check
type CheckResponse struct {
	AnalysisID string                   `json:"analysis_id"`
	MissionID  string                   `json:"mission_id"`
	Status     string                   `json:"status"`
	Report     report.Report            `json:"report"`
	Skipped    []analysis.SkippedFlight `json:"skipped"`
	Margin     *analysis.Margin         `json:"closest_approach,omitempty"`
	Paths      *report.Paths            `json:"paths,omitempty"`
}

// HealthResponse is the body of GET /api/v1/health
type HealthResponse struct {
	Status string `json:"status"`
}

func (req CheckRequest) options(cfg *config.Config) analysis.Options {
	opts := analysis.OptionsFromConfig(cfg)
	if req.SafetyBufferM != nil {
		opts.SafetyBufferM = *req.SafetyBufferM
	}
	if req.Dt != nil {
		opts.Dt = *req.Dt
	}
	if req.Use3D != nil {
		opts.Use3D = *req.Use3D
	}
	if req.IncludeEnd != nil {
		opts.IncludeEnd = *req.IncludeEnd
	}
	if req.IsolateFlights != nil {
		opts.IsolateFlights = *req.IsolateFlights
	}
	opts.IncludePaths = req.IncludePaths
	return opts
}

// Check analyzes a mission against the submitted flights
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())
	analysisID := uuid.New().String()
	log := h.logger.WithRequestID(requestID).WithAnalysisID(analysisID)

	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, log, http.StatusRequestEntityTooLarge, "request body too large", requestID)
			return
		}
		log.Debug("Rejected undecodable request", logger.Error(err))
		h.writeError(w, log, http.StatusBadRequest, "invalid JSON body: "+err.Error(), requestID)
		return
	}
	if req.Mission == nil {
		h.writeError(w, log, http.StatusUnprocessableEntity, "mission is required", requestID)
		return
	}

	result, err := h.service.AnalyzeDocuments(r.Context(), *req.Mission, req.Flights, req.options(h.config))
	if err != nil {
		if errors.Is(err, trajectory.ErrValidation) {
			log.Info("Rejected invalid mission", logger.Error(err))
			h.writeError(w, log, http.StatusUnprocessableEntity, err.Error(), requestID)
			return
		}
		log.Error("Analysis failed", logger.Error(err))
		h.writeError(w, log, http.StatusInternalServerError, "analysis failed", requestID)
		return
	}

	h.writeJSON(w, log, http.StatusOK, CheckResponse{
		AnalysisID: analysisID,
		MissionID:  result.MissionID,
		Status:     result.Report.Status,
		Report:     result.Report,
		Skipped:    result.Skipped,
		Margin:     result.Margin,
		Paths:      result.Paths,
	})
}

// GetHealth reports that the service is up
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	log := h.logger.WithRequestID(middleware.GetReqID(r.Context()))
	h.writeJSON(w, log, http.StatusOK, HealthResponse{Status: "ok"})
}

// writeJSON logs bodies that could not be delivered; the status line is
// already out by then
func (h *Handler) writeJSON(w http.ResponseWriter, log *logger.Logger, status int, data any) {
	if err := WriteJSON(w, status, data); err != nil {
		log.Warn("Failed to write response", logger.Int("status", status), logger.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, log *logger.Logger, status int, message, requestID string) {
	if err := WriteError(w, status, message, requestID); err != nil {
		log.Warn("Failed to write error response", logger.Int("status", status), logger.Error(err))
	}
}
