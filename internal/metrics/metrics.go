// ABOUTME: Prometheus metrics exposition for engagement validation verdicts.
// ABOUTME: Defines verdict gauges, validation counters and the HTTP handler for /metrics.

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/jfeddern/RiskGate/internal/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type ValidationDataProvider interface {
	GetValidationData() (map[int64]*types.ValidationResult, time.Time)
}

// Recorder counts validations as they happen. It implements engine.Recorder.
type Recorder struct {
	validationsTotal   *prometheus.CounterVec
	residualRiskScores prometheus.Histogram
	validationDuration prometheus.Histogram
}

func NewRecorder() *Recorder {
	return &Recorder{
		validationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskgate_validations_total",
				Help: "Number of engagement validations by mode and outcome",
			},
			[]string{"mode", "valid"},
		),
		residualRiskScores: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "riskgate_residual_risk_score",
				Help:    "Distribution of computed residual risk scores",
				Buckets: prometheus.LinearBuckets(0, 1, 11),
			},
		),
		validationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "riskgate_validation_duration_seconds",
				Help:    "Time spent validating an engagement",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

// RecordValidation updates the counters for a completed validation
func (r *Recorder) RecordValidation(result *types.ValidationResult, duration time.Duration) {
	r.validationsTotal.WithLabelValues(result.Mode, strconv.FormatBool(result.Valid)).Inc()
	for _, score := range result.Scores {
		r.residualRiskScores.Observe(score)
	}
	r.validationDuration.Observe(duration.Seconds())
}

// Collectors returns the recorder's collectors for registration
func (r *Recorder) Collectors() []prometheus.Collector {
	return []prometheus.Collector{r.validationsTotal, r.residualRiskScores, r.validationDuration}
}

type MetricsHandler struct {
	collector ValidationDataProvider
	recorder  *Recorder
	logger    *logrus.Logger

	// Prometheus metrics
	engagementValid    *prometheus.GaugeVec
	engagementFindings *prometheus.GaugeVec
	findingRisk        *prometheus.GaugeVec
	collectionInfo     *prometheus.GaugeVec
}

func NewMetricsHandler(collector ValidationDataProvider, recorder *Recorder, logger *logrus.Logger) *MetricsHandler {
	return &MetricsHandler{
		collector: collector,
		recorder:  recorder,
		logger:    logger,

		engagementValid: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "riskgate_engagement_valid",
				Help: "Latest validation verdict of an engagement (1=valid, 0=untolerable findings present)",
			},
			[]string{"engagement_id", "mode", "policy_id"},
		),

		engagementFindings: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "riskgate_engagement_findings",
				Help: "Number of findings in the latest verdict of an engagement by classification",
			},
			[]string{"engagement_id", "classification"},
		),

		findingRisk: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "riskgate_finding_residual_risk",
				Help: "Residual risk level computed for a finding in the latest verdict",
			},
			[]string{"engagement_id", "finding_id", "classification"},
		),

		collectionInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "riskgate_collection_info",
				Help: "Information about validation data",
			},
			[]string{"info_type"},
		),
	}
}

func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Create a new registry for this request to avoid conflicts
	registry := prometheus.NewRegistry()

	// Register our metrics
	registry.MustRegister(m.engagementValid)
	registry.MustRegister(m.engagementFindings)
	registry.MustRegister(m.findingRisk)
	registry.MustRegister(m.collectionInfo)
	if m.recorder != nil {
		registry.MustRegister(m.recorder.Collectors()...)
	}

	// Reset all metrics to avoid stale data
	m.engagementValid.Reset()
	m.engagementFindings.Reset()
	m.findingRisk.Reset()
	m.collectionInfo.Reset()

	validationData, lastValidationTime := m.collector.GetValidationData()

	for engagementID, result := range validationData {
		engagement := strconv.FormatInt(engagementID, 10)

		policyID := "none"
		if result.PolicyID != nil {
			policyID = strconv.FormatInt(*result.PolicyID, 10)
		}

		validValue := float64(0)
		if result.Valid {
			validValue = 1
		}
		m.engagementValid.WithLabelValues(engagement, result.Mode, policyID).Set(validValue)

		m.engagementFindings.WithLabelValues(engagement, "tolerable").Set(float64(len(result.TolerableFindings)))
		m.engagementFindings.WithLabelValues(engagement, "untolerable").Set(float64(len(result.UntolerableFindings)))

		// Scores only exist for policy mode verdicts
		m.setFindingRisk(engagement, "tolerable", result.TolerableFindings, result.Scores)
		m.setFindingRisk(engagement, "untolerable", result.UntolerableFindings, result.Scores)
	}

	m.collectionInfo.WithLabelValues("last_validation_timestamp").Set(float64(lastValidationTime.Unix()))
	m.collectionInfo.WithLabelValues("engagements_validated").Set(float64(len(validationData)))

	m.logger.WithField("engagements", len(validationData)).Debug("Serving metrics")

	// Serve metrics
	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	handler.ServeHTTP(w, r)
}

func (m *MetricsHandler) setFindingRisk(engagement, classification string, ids []int64, scores map[int64]float64) {
	for _, id := range ids {
		score, ok := scores[id]
		if !ok {
			continue
		}
		m.findingRisk.WithLabelValues(engagement, strconv.FormatInt(id, 10), classification).Set(score)
	}
}

// CreateMetricsHandler creates a standard HTTP handler that can be used with http.ServeMux
func CreateMetricsHandler(dataProvider ValidationDataProvider, recorder *Recorder, logger *logrus.Logger) http.HandlerFunc {
	metricsHandler := NewMetricsHandler(dataProvider, recorder, logger)
	return metricsHandler.ServeHTTP
}
