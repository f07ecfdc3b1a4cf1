package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(activationCodeEvents, activationValidations) }

var activationCodeEvents = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "activation_code_events_total",
		Help: "Activation code lifecycle events.",
	},
	[]string{"event"}, // generated, activated, regenerated, revoked, reminded, expiry_notified
)

var activationValidations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "activation_code_validations_total",
		Help: "Activation code validations by outcome.",
	},
	[]string{"outcome"}, // valid, not_found, already_used, expired
)

func IncActivationEvent(event string) {
	activationCodeEvents.WithLabelValues(norm(event)).Inc()
}

func AddActivationEvents(event string, n int) {
	if n <= 0 {
		return
	}
	activationCodeEvents.WithLabelValues(norm(event)).Add(float64(n))
}

func IncValidation(outcome string) {
	activationValidations.WithLabelValues(norm(outcome)).Inc()
}
