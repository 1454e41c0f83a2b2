/*
Package metrics provides Prometheus metrics and health endpoints for holonode.

All instruments are registered with the default registry at package init and
served by Handler. NewMux adds /health, /ready and /live next to /metrics;
readiness requires the host, admin and app components to report healthy.

# Metrics Catalog

holonode_node_state:
  - Type: Gauge
  - Lifecycle state of the host runtime (0 unconfigured, 1 building,
    2 awaiting admin, 3 ready, 4 failed)

holonode_installed_apps{status}:
  - Type: Gauge
  - Installed apps by status, sampled by Collector from the admin endpoint

holonode_app_installs_total{path}:
  - Type: Counter
  - EnsureInstalled outcomes: first_run, resume, noop

holonode_zome_calls_total{zome, fn, status}:
  - Type: Counter
  - status is ok, rejected (host refused the call) or error

holonode_zome_call_duration_seconds{zome, fn}:
  - Type: Histogram
  - Round trip of signed calls

# Timing

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ZomeCallDuration, zome, fn)
*/
package metrics
