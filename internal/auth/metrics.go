package auth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricMethodPassword = "password"
	metricMethodGoogle   = "google"
	metricMethodRefresh  = "refresh"
	metricOutcomeSuccess = "success"
	metricOutcomeFailure = "failure"
)

var signInTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "members_auth_sign_in_total",
		Help: "Sign-in and refresh attempts by method and outcome.",
	},
	[]string{"method", "outcome"},
)

func recordSignIn(method string, err error) {
	outcome := metricOutcomeSuccess
	if err != nil {
		outcome = metricOutcomeFailure
	}
	signInTotal.WithLabelValues(method, outcome).Inc()
}
