// Package metrics expone contadores e histogramas operativos via
// Prometheus client_golang, el mismo stack que internal/metrics del
// profesor usa para RaftApplyLatency/RaftLeadershipChanges, aquí aplicado al
// Dispatcher, RateGate y AuthCore en vez de al cluster Raft de control.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	DispatcherTickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "postdispatch_dispatcher_tick_duration_seconds",
		Help:    "Duration of a completed dispatcher tick.",
		Buckets: prometheus.DefBuckets,
	})

	DispatcherTickPostsFound = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "postdispatch_dispatcher_tick_posts_found",
		Help: "Number of due posts found by the most recent tick.",
	})

	DispatcherPostsExecuted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "postdispatch_dispatcher_posts_executed_total",
		Help: "Posts successfully executed by the dispatcher.",
	})

	DispatcherPostsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "postdispatch_dispatcher_posts_failed_total",
		Help: "Posts that ended execution in a non-success state.",
	})

	RateGateAdmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postdispatch_rategate_admitted_total",
		Help: "Requests admitted by the rate gate, by bucket.",
	}, []string{"bucket"})

	RateGateDenied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postdispatch_rategate_denied_total",
		Help: "Requests denied by the rate gate, by bucket.",
	}, []string{"bucket"})

	AuthRefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postdispatch_auth_refresh_total",
		Help: "Token refresh attempts, by outcome.",
	}, []string{"outcome"})
)

// Register añade todas las métricas al registry dado.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		DispatcherTickDuration,
		DispatcherTickPostsFound,
		DispatcherPostsExecuted,
		DispatcherPostsFailed,
		RateGateAdmitted,
		RateGateDenied,
		AuthRefreshTotal,
	)
}
