// ABOUTME: HTTP handlers for engagement validation verdicts and lifecycle actions.
// ABOUTME: Serves the latest verdicts and triggers validate, close and reopen on demand.

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jfeddern/RiskGate/internal/engine"
	"github.com/jfeddern/RiskGate/internal/types"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

// ValidationService is the subset of the engine used by the HTTP surface
type ValidationService interface {
	GetValidationData() (map[int64]*types.ValidationResult, time.Time)
	Validate(ctx context.Context, engagementID int64) (*types.ValidationResult, error)
	CreateEngagement(ctx context.Context, engagement *types.Engagement) error
	CloseEngagement(ctx context.Context, id int64) (*types.Engagement, error)
	ReopenEngagement(ctx context.Context, id int64) (*types.Engagement, error)
}

type ValidationsHandler struct {
	service  ValidationService
	validate *validator.Validate
	logger   *logrus.Logger
}

type ValidationsResponse struct {
	Validations []*types.ValidationResult `json:"validations"`
	Summary     ValidationSummary         `json:"summary"`
	LastUpdated string                    `json:"last_updated"`
}

type ValidationSummary struct {
	TotalEngagements   int `json:"total_engagements"`
	ValidEngagements   int `json:"valid_engagements"`
	InvalidEngagements int `json:"invalid_engagements"`
	UntolerableTotal   int `json:"untolerable_findings_total"`
}

// createEngagementRequest is the body of POST /engagements. An empty name defaults to the start date.
type createEngagementRequest struct {
	ProductID   int64              `json:"product_id" validate:"required,gt=0"`
	Name        string             `json:"name" validate:"max=300"`
	TargetStart time.Time          `json:"target_start" validate:"required"`
	TargetEnd   time.Time          `json:"target_end" validate:"omitempty,gtefield=TargetStart"`
	CommitHash  string             `json:"commit_hash,omitempty"`
	TrackerLink *types.TrackerLink `json:"tracker_link,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewValidationsHandler(service ValidationService, logger *logrus.Logger) *ValidationsHandler {
	return &ValidationsHandler{
		service:  service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// Register adds the handler routes to mux, wrapping each with middleware
func (v *ValidationsHandler) Register(mux *http.ServeMux, middleware func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("GET /validations", middleware(v.ListValidations))
	mux.HandleFunc("POST /engagements", middleware(v.CreateEngagement))
	mux.HandleFunc("POST /engagements/{id}/validate", middleware(v.ValidateEngagement))
	mux.HandleFunc("POST /engagements/{id}/close", middleware(v.CloseEngagement))
	mux.HandleFunc("POST /engagements/{id}/reopen", middleware(v.ReopenEngagement))
}

// ListValidations returns the latest verdict of every validated engagement
func (v *ValidationsHandler) ListValidations(w http.ResponseWriter, r *http.Request) {
	logger := v.logger.WithField("endpoint", "/validations")

	validationData, lastValidationTime := v.service.GetValidationData()

	engagementFilter := strings.TrimSpace(r.URL.Query().Get("engagement"))
	var filterID int64
	if engagementFilter != "" {
		parsed, err := strconv.ParseInt(engagementFilter, 10, 64)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid engagement parameter. Must be a positive integer"})
			return
		}
		filterID = parsed
	}

	validations := make([]*types.ValidationResult, 0, len(validationData))
	summary := ValidationSummary{}
	for id, result := range validationData {
		if filterID != 0 && id != filterID {
			continue
		}
		validations = append(validations, result)
		summary.TotalEngagements++
		if result.Valid {
			summary.ValidEngagements++
		} else {
			summary.InvalidEngagements++
		}
		summary.UntolerableTotal += len(result.UntolerableFindings)
	}

	if filterID != 0 && len(validations) == 0 {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "No validation recorded for engagement"})
		return
	}

	sort.Slice(validations, func(i, j int) bool {
		return validations[i].EngagementID < validations[j].EngagementID
	})

	response := ValidationsResponse{
		Validations: validations,
		Summary:     summary,
		LastUpdated: lastValidationTime.UTC().Format("2006-01-02T15:04:05Z"),
	}

	writeJSON(w, http.StatusOK, response)

	logger.WithFields(logrus.Fields{
		"engagement_filter": engagementFilter,
		"validations":       len(validations),
	}).Debug("Served validations response")
}

// ValidateEngagement runs a validation and returns the new verdict
func (v *ValidationsHandler) ValidateEngagement(w http.ResponseWriter, r *http.Request) {
	id, ok := engagementID(w, r)
	if !ok {
		return
	}

	result, err := v.service.Validate(r.Context(), id)
	if err != nil {
		v.writeError(w, id, "validate", err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// CreateEngagement stores a new engagement in the not started state
func (v *ValidationsHandler) CreateEngagement(w http.ResponseWriter, r *http.Request) {
	var req createEngagementRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return
	}
	if err := v.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid engagement: " + err.Error()})
		return
	}

	targetEnd := req.TargetEnd
	if targetEnd.IsZero() {
		targetEnd = req.TargetStart
	}
	engagement := &types.Engagement{
		ProductID:   req.ProductID,
		Name:        req.Name,
		TargetStart: req.TargetStart,
		TargetEnd:   targetEnd,
		Active:      true,
		CommitHash:  req.CommitHash,
		TrackerLink: req.TrackerLink,
	}

	if err := v.service.CreateEngagement(r.Context(), engagement); err != nil {
		v.writeError(w, 0, "create", err)
		return
	}

	writeJSON(w, http.StatusCreated, engagement)
}

func (v *ValidationsHandler) CloseEngagement(w http.ResponseWriter, r *http.Request) {
	id, ok := engagementID(w, r)
	if !ok {
		return
	}

	engagement, err := v.service.CloseEngagement(r.Context(), id)
	if err != nil {
		v.writeError(w, id, "close", err)
		return
	}

	writeJSON(w, http.StatusOK, engagement)
}

func (v *ValidationsHandler) ReopenEngagement(w http.ResponseWriter, r *http.Request) {
	id, ok := engagementID(w, r)
	if !ok {
		return
	}

	engagement, err := v.service.ReopenEngagement(r.Context(), id)
	if err != nil {
		v.writeError(w, id, "reopen", err)
		return
	}

	writeJSON(w, http.StatusOK, engagement)
}

func (v *ValidationsHandler) writeError(w http.ResponseWriter, id int64, action string, err error) {
	status := http.StatusInternalServerError
	message := "Internal server error"
	switch {
	case errors.Is(err, types.ErrNotFound):
		status = http.StatusNotFound
		message = "Engagement not found"
	case errors.Is(err, engine.ErrLifecycleUnavailable):
		status = http.StatusNotImplemented
		message = "Engagement lifecycle is not available"
	}

	v.logger.WithError(err).WithFields(logrus.Fields{
		"engagement_id": id,
		"action":        action,
	}).Error("Engagement request failed")

	writeJSON(w, status, errorResponse{Error: message})
}

func engagementID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid engagement id"})
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
