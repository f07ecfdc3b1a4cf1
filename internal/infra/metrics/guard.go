package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(rateLimitRejections, captchaChallenges, codeSharingAlerts, rapidFireRejections) }

var rateLimitRejections = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rate_limit_rejections_total",
		Help: "Requests rejected by a named rate limiter.",
	},
	[]string{"limiter"},
)

var captchaChallenges = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "captcha_challenges_total",
		Help: "CAPTCHA escalations and verification results.",
	},
	[]string{"result"}, // escalated, missing, passed, failed, provider_error
)

var codeSharingAlerts = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "code_sharing_alerts_total",
		Help: "Security alerts raised for codes attempted from too many IPs.",
	},
)

var rapidFireRejections = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "rapid_fire_rejections_total",
		Help: "Requests rejected for repeating the same code from the same IP too fast.",
	},
)

func IncRateLimited(limiter string) {
	rateLimitRejections.WithLabelValues(norm(limiter)).Inc()
}

func IncCaptcha(result string) {
	captchaChallenges.WithLabelValues(norm(result)).Inc()
}

func IncCodeSharingAlert() { codeSharingAlerts.Inc() }

func IncRapidFire() { rapidFireRejections.Inc() }
