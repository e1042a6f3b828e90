package opshttp

import (
	"net/http"

	"github.com/keithlinneman/windowguard/internal/health"
	"github.com/keithlinneman/windowguard/internal/killswitch"
)

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe
	// KillSwitch, when set, is exposed at /-/killswitch (GET state, PUT ?disabled=true|false).
	KillSwitch   *killswitch.Switch
	UseRecoverMW bool
	OnPanic      func()
}
