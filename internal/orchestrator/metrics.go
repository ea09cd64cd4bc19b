package orchestrator

import "github.com/prometheus/client_golang/prometheus"

// metrics tracks provisioning outcomes. Every device increments exactly
// one counter, at Summary.Add time, regardless of which step it failed
// at.
var metrics = struct {
	succeeded prometheus.Counter
	failed    *prometheus.CounterVec
}{
	succeeded: prometheus.NewCounter(prometheus.CounterOpts{
		Name: "camprovision_devices_succeeded_total",
		Help: "Number of devices provisioned successfully",
	}),
	failed: prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "camprovision_devices_failed_total",
		Help: "Number of devices that failed provisioning, by failing step",
	}, []string{"step"}),
}

func init() {
	prometheus.MustRegister(metrics.succeeded, metrics.failed)
}
