package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	namespace = "hostops"

	StatusOK      = "ok"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"

	labelApp    = "app"
	labelResult = "result"
	labelKind   = "kind"
	labelTag    = "tag"
	labelStatus = "status"
)

// Registry holds every hostops collector. The commands are short-lived,
// so the registry is pushed to a Pushgateway instead of being scraped.
var Registry = prometheus.NewRegistry()

var (
	deployments = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "deployments_total",
		Help:      "number of deployment attempts by final result",
		Namespace: namespace,
		Subsystem: "deploy",
	}, []string{labelApp, labelResult})

	deployDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:      "duration_seconds",
		Help:      "time from pull to promote or rollback",
		Namespace: namespace,
		Subsystem: "deploy",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
	}, []string{labelApp, labelResult})

	backupArtifacts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "artifacts_total",
		Help:      "number of backup artifacts by status",
		Namespace: namespace,
		Subsystem: "backup",
	}, []string{labelTag, labelKind, labelStatus})

	backupBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:      "staged_bytes",
		Help:      "total size of the artifacts staged by the last backup run",
		Namespace: namespace,
		Subsystem: "backup",
	}, []string{labelTag})

	backupLastSuccess = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:      "last_success_timestamp_seconds",
		Help:      "unix time of the last backup run that uploaded and pruned successfully",
		Namespace: namespace,
		Subsystem: "backup",
	}, []string{labelTag})

	backupRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "runs_total",
		Help:      "number of backup runs by status",
		Namespace: namespace,
		Subsystem: "backup",
	}, []string{labelTag, labelStatus})

	restores = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "restores_total",
		Help:      "number of restore attempts by status",
		Namespace: namespace,
		Subsystem: "restore",
	}, []string{labelStatus})
)

func init() {
	Registry.MustRegister(deployments)
	Registry.MustRegister(deployDuration)
	Registry.MustRegister(backupArtifacts)
	Registry.MustRegister(backupBytes)
	Registry.MustRegister(backupLastSuccess)
	Registry.MustRegister(backupRuns)
	Registry.MustRegister(restores)
}

func statusLabel(err error) string {
	if err == nil {
		return StatusOK
	}
	return StatusFailed
}

func Deployment(app, result string, elapsed time.Duration) {
	labels := prometheus.Labels{labelApp: app, labelResult: result}
	deployments.With(labels).Inc()
	deployDuration.With(labels).Observe(elapsed.Seconds())
}

func BackupArtifact(tag, kind, status string) {
	backupArtifacts.With(prometheus.Labels{labelTag: tag, labelKind: kind, labelStatus: status}).Inc()
}

func BackupRun(tag string, stagedBytes int64, err error, now time.Time) {
	backupRuns.With(prometheus.Labels{labelTag: tag, labelStatus: statusLabel(err)}).Inc()
	backupBytes.With(prometheus.Labels{labelTag: tag}).Set(float64(stagedBytes))
	if err == nil {
		backupLastSuccess.With(prometheus.Labels{labelTag: tag}).Set(float64(now.Unix()))
	}
}

func Restore(err error) {
	restores.With(prometheus.Labels{labelStatus: statusLabel(err)}).Inc()
}

// Push sends the registry to a Pushgateway under the given job name.
// An empty URL disables pushing.
func Push(ctx context.Context, url, job string) error {
	if url == "" {
		return nil
	}
	return push.New(url, job).Gatherer(Registry).PushContext(ctx)
}
