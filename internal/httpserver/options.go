package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/coachdesk-api/internal/health"
	"github.com/keithlinneman/coachdesk-api/internal/httpmw"
	"github.com/keithlinneman/coachdesk-api/internal/log"
)

const (
	DefaultPort         = 8080
	DefaultMaxBodyBytes = 8 << 20
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    func(http.Handler) http.Handler
	// Health and Readiness are also served on the public port so load
	// balancers can probe without reaching the ops port.
	Health    health.Probe
	Readiness health.Probe
	// APIRoutes registers the application endpoints.
	APIRoutes    func(chi.Router)
	ClientIPOpts httpmw.ClientIPOptions
	// MaxBodyBytes caps request bodies; 0 uses DefaultMaxBodyBytes.
	MaxBodyBytes int64
}
