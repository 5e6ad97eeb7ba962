package opshttp

import (
	"net/http"

	"github.com/keithlinneman/coachdesk-api/internal/health"
)

const DefaultPort = 9000

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe
	// OnPanic is called for every recovered panic, e.g. to count it.
	OnPanic func()
}
