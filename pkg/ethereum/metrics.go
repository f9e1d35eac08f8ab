package ethereum

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	nodes *prometheus.GaugeVec
}

var (
	metricsInstance *Metrics
	once            sync.Once
)

// GetMetricsInstance registers the pool gauges once per process.
func GetMetricsInstance(namespace string) *Metrics {
	once.Do(func() {
		metricsInstance = &Metrics{
			nodes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "execution_nodes",
				Help:      "Number of execution nodes in the pool by health",
			}, []string{"status"}),
		}

		prometheus.MustRegister(metricsInstance.nodes)
	})

	return metricsInstance
}

func (m *Metrics) setNodes(healthy, unhealthy int) {
	if m == nil || m.nodes == nil {
		return
	}

	m.nodes.WithLabelValues("healthy").Set(float64(healthy))
	m.nodes.WithLabelValues("unhealthy").Set(float64(unhealthy))
}
