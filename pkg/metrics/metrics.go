package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Install paths reported by AppInstallsTotal
const (
	InstallPathFirstRun = "first_run"
	InstallPathResume   = "resume"
	InstallPathNoop     = "noop"
)

// Call statuses reported by ZomeCallsTotal
const (
	CallStatusOK       = "ok"
	CallStatusRejected = "rejected"
	CallStatusError    = "error"
)

var (
	// Lifecycle metrics
	NodeState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "holonode_node_state",
			Help: "Lifecycle state of the host runtime (0 = unconfigured, 1 = building, 2 = awaiting admin, 3 = ready, 4 = failed)",
		},
	)

	InstalledApps = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "holonode_installed_apps",
			Help: "Installed apps reported by the host by status",
		},
		[]string{"status"},
	)

	// Installer metrics
	AppInstallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "holonode_app_installs_total",
			Help: "EnsureInstalled outcomes by path taken",
		},
		[]string{"path"},
	)

	// Zome call metrics
	ZomeCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "holonode_zome_calls_total",
			Help: "Total zome calls by zome, function and status",
		},
		[]string{"zome", "fn", "status"},
	)

	ZomeCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "holonode_zome_call_duration_seconds",
			Help:    "Zome call round trip duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"zome", "fn"},
	)
)

func init() {
	prometheus.MustRegister(NodeState)
	prometheus.MustRegister(InstalledApps)
	prometheus.MustRegister(AppInstallsTotal)
	prometheus.MustRegister(ZomeCallsTotal)
	prometheus.MustRegister(ZomeCallDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// NewMux serves /metrics alongside the health, readiness and liveness endpoints
func NewMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", HealthHandler())
	mux.HandleFunc("/ready", ReadyHandler())
	mux.HandleFunc("/live", LivenessHandler())
	return mux
}
