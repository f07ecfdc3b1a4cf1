package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(auditEntries) }

var auditEntries = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "audit_entries_total",
		Help: "Audit entries by persistence result.",
	},
	[]string{"result"}, // saved, dropped, error
)

func IncAudit(result string) {
	auditEntries.WithLabelValues(norm(result)).Inc()
}
