package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	shareLinksCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "calcpro",
		Name:      "share_links_created_total",
		Help:      "Number of share links generated, partitioned by calculator.",
	}, []string{"tool"})
	backupDownloads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "calcpro",
		Name:      "backup_downloads_total",
		Help:      "Number of backup files rendered for download, partitioned by calculator.",
	}, []string{"tool"})
	backupRestores = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "calcpro",
		Name:      "backup_restores_total",
		Help:      "Backup restore attempts partitioned by outcome.",
	}, []string{"outcome"})
	feedbackPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "calcpro",
		Subsystem: "persistence",
		Name:      "last_feedback_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent feedback entry persisted.",
	})
)

func init() {
	prometheus.MustRegister(shareLinksCreated, backupDownloads, backupRestores, feedbackPersistGauge)
}

// RecordShareCreated counts a generated share link for tool.
func RecordShareCreated(tool string) {
	shareLinksCreated.WithLabelValues(tool).Inc()
}

// RecordBackupDownload counts a rendered backup file for tool.
func RecordBackupDownload(tool string) {
	backupDownloads.WithLabelValues(tool).Inc()
}

// RecordRestore counts a restore attempt. Outcome is "ok" or a decode error kind.
func RecordRestore(outcome string) {
	backupRestores.WithLabelValues(outcome).Inc()
}

// RecordFeedbackPersisted updates the persistence watermark gauge.
func RecordFeedbackPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	feedbackPersistGauge.Set(float64(ts.Unix()))
}
