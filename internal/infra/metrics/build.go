package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(buildInfo)
}

var buildInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "fleet_activation_build_info",
		Help: "Constant 1, labelled with the running build's version and commit.",
	},
	[]string{"version", "commit"},
)

// SetBuildInfo is called once at startup.
func SetBuildInfo(version, commit string) {
	buildInfo.WithLabelValues(version, commit).Set(1)
}
