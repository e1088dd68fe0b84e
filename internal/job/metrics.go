package job

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Event outcomes used as the status label.
const (
	outcomeCompleted = "completed"
	outcomeSkipped   = "skipped"
	outcomeFailed    = "failed"
)

var (
	eventProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "slack_video_frames_processing_duration_seconds",
		Help:    "Duration of file_shared event processing in seconds",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"status"})

	eventsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slack_video_frames_events_total",
		Help: "Total number of file_shared events handled",
	}, []string{"status"})

	framesUploadedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slack_video_frames_frames_uploaded_total",
		Help: "Total number of frames uploaded to Slack",
	})

	eventsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "slack_video_frames_events_in_flight",
		Help: "Number of events currently being processed",
	})
)

// outcome classifies a Handle result for metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return outcomeCompleted
	case isSkip(err):
		return outcomeSkipped
	default:
		return outcomeFailed
	}
}
