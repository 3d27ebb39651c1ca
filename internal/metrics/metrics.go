// Package metrics exposes the service's Prometheus counters and the
// standalone metrics listener.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OAuthCallbacks counts handshake callbacks by provider and outcome.
	OAuthCallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nowplaying_oauth_callbacks_total",
		Help: "OAuth callback results by provider.",
	}, []string{"provider", "status"})

	// TokenRefreshes counts credential refresh attempts by provider and
	// outcome (ok, revoked, error).
	TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nowplaying_token_refreshes_total",
		Help: "Credential refresh results by provider.",
	}, []string{"provider", "status"})

	// Posts counts share deliveries by target and outcome.
	Posts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nowplaying_posts_total",
		Help: "Now-playing post results by target.",
	}, []string{"target", "status"})
)

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
