// Package metric provides RED-style instrumentation for service middleware:
// a request counter and a duration histogram, labeled by operation and
// outcome.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/depotdb/depot"
)

// REDClient records request, error and duration metrics for one service.
type REDClient struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New registers and returns a REDClient for the named service.
func New(reg prometheus.Registerer, service string) *REDClient {
	c := &REDClient{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "depot",
			Subsystem: service,
			Name:      "calls_total",
			Help:      "Number of calls to the " + service + " service.",
		}, []string{"method", "result", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "depot",
			Subsystem: service,
			Name:      "duration_seconds",
			Help:      "Duration of calls to the " + service + " service.",
		}, []string{"method"}),
	}
	if reg != nil {
		reg.MustRegister(c.requests, c.duration)
	}
	return c
}

// Record starts timing one call. The returned func is applied to the call's
// error, records the outcome and passes the error through unchanged.
func (c *REDClient) Record(method string) func(error) error {
	start := time.Now()
	return func(err error) error {
		result, code := "ok", ""
		if err != nil {
			result = "error"
			code = depot.ErrorCode(err)
		}
		c.requests.WithLabelValues(method, result, code).Inc()
		c.duration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		return err
	}
}
