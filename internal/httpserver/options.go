package httpserver

import (
	"net/http"

	"github.com/keithlinneman/windowguard/internal/guard"
	"github.com/keithlinneman/windowguard/internal/health"
	"github.com/keithlinneman/windowguard/internal/httpmw"
	"github.com/keithlinneman/windowguard/internal/log"
	"github.com/keithlinneman/windowguard/internal/rules"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions
	// MaxBodyBytes caps request bodies forwarded upstream; <= 0 disables the cap.
	MaxBodyBytes int64

	// Guard admits or rejects each request before it reaches Upstream.
	Guard *guard.Guard
	Rules *rules.Table
	// Upstream serves admitted requests, normally NewProxy.
	Upstream http.Handler

	// Readiness, when set, is also answered on the public port at /-/ready
	// for load balancers that cannot reach the admin port.
	Readiness health.Probe
}
