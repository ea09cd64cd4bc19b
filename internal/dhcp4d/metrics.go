package dhcp4d

import "github.com/prometheus/client_golang/prometheus"

// metrics are the counters exposed on /metrics.
var metrics = struct {
	offers    prometheus.Counter
	acks      prometheus.Counter
	exhausted prometheus.Counter
}{
	offers: prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dhcp4d_offers_total",
		Help: "Number of DHCPOFFER replies sent",
	}),
	acks: prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dhcp4d_acks_total",
		Help: "Number of DHCPACK replies sent",
	}),
	exhausted: prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dhcp4d_pool_exhausted_total",
		Help: "Number of DISCOVERs dropped because the pool had no free address",
	}),
}

func init() {
	prometheus.MustRegister(metrics.offers, metrics.acks, metrics.exhausted)
}
