package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/windowguard/internal/guard"
	"github.com/keithlinneman/windowguard/internal/health"
	"github.com/keithlinneman/windowguard/internal/httpmw"
	"github.com/keithlinneman/windowguard/internal/log"
	"github.com/keithlinneman/windowguard/internal/xerrors"
)

// DefaultRuleName is the operation id for requests no route pattern matches.
const DefaultRuleName = "default"

const readyPath = "/-/ready"

// NewHandler builds an HTTP handler with routes + middleware
// main() owns *http.Server so it can do graceful shutdown
func NewHandler(opts *Options) (http.Handler, error) {
	if opts.Guard == nil || opts.Upstream == nil || opts.Rules == nil {
		return nil, xerrors.New("httpserver: Guard, Rules and Upstream are required")
	}

	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}

	r := chi.NewRouter()

	// Annotate tracer with http.route from chi route pattern if trace is recording
	r.Use(httpmw.AnnotateHTTPRoute)

	// Access log middleware
	r.Use(httpmw.AccessLog(readyPath))

	r.Use(httpmw.MaxBody(opts.MaxBodyBytes))

	if opts.Readiness != nil {
		r.Get(readyPath, health.ReadyzHandler(opts.Readiness))
	}

	if err := mountRules(r, opts); err != nil {
		return nil, err
	}

	// Middleware (outermost first in wrapping order)
	var h http.Handler = r

	// Request-scoped logging (inner so it sees trace_id, etc)
	h = httpmw.WithLogger(opts.Logger)(h)

	// Metrics middleware for prometheus instrumentation
	if opts.MetricsMW != nil {
		h = opts.MetricsMW(h)
	}

	// add trace-id headers to any requests with a recording trace
	h = httpmw.EchoTraceID(h)

	h = otelhttp.NewHandler(
		h,
		"http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			// dont trace health checks
			return r.URL.Path != readyPath
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			// AnnotateHTTPRoute will rename the span later to the final route pattern
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(*http.Request) bool { return true }),
	)

	// Client IP resolution (must be before the guard and logging)
	ipOpts := opts.ClientIPOpts
	if opts.Guard.ReadsForwarded() {
		ipOpts.KeepForwarded = true
	}
	h = httpmw.ClientIP(ipOpts)(h)

	// Request ID (outer so everything downstream, the upstream included, sees it)
	h = httpmw.RequestID("X-Request-Id")(h)

	// Recovery middleware to log panics and serve 500 response
	if opts.UseRecoverMW {
		h = httpmw.Recover(opts.Logger, opts.OnPanic)(h)
	}

	return h, nil
}

// mountRules routes every rule pattern through the guard to the upstream.
// Paths no pattern matches are limited under the table defaults.
func mountRules(r chi.Router, opts *Options) error {
	for _, route := range opts.Rules.Routes {
		mw, err := opts.Guard.Middleware(route.Rule())
		if err != nil {
			return err
		}
		guarded := r.With(mw)
		if len(route.Methods) == 0 {
			guarded.Handle(route.Pattern, opts.Upstream)
			continue
		}
		for _, m := range route.Methods {
			guarded.Method(m, route.Pattern, opts.Upstream)
		}
	}

	fallback, err := opts.Guard.Middleware(guard.Rule{
		Name:   DefaultRuleName,
		Limit:  opts.Rules.Defaults.Limit,
		Period: opts.Rules.Defaults.Period.Duration(),
	})
	if err != nil {
		return err
	}
	unmatched := fallback(opts.Upstream).ServeHTTP
	r.NotFound(unmatched)
	r.MethodNotAllowed(unmatched)
	return nil
}

// Server timeout defaults. WriteTimeout is wide because upstream responses
// stream through.
const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 30 * time.Second
	DefaultWriteTimeout      = 60 * time.Second
	DefaultIdleTimeout       = 90 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20 // 1 MB
)

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}
}

// Start public HTTP server
// Returns stop(ctx) for graceful shutdown
func Start(ctx context.Context, opts *Options) (func(context.Context) error, error) {
	port := opts.Port
	if port == 0 {
		port = 8080
	}
	addr := fmt.Sprintf(":%d", port)

	handler, err := NewHandler(opts)
	if err != nil {
		return nil, err
	}
	srv := NewServer(addr, handler)

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, xerrors.EnsureTrace(err)
	}

	go func() {
		opts.Logger.Info(ctx, "http server listening", "addr", addr, "routes", len(opts.Rules.Routes))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			opts.Logger.Error(ctx, err, "http server error")
		}
	}()

	var once sync.Once
	stop := func(sctx context.Context) (retErr error) {
		once.Do(func() {
			opts.Logger.Info(sctx, "http server shutting down")
			c, cancel := context.WithTimeout(sctx, 10*time.Second)
			defer cancel()
			retErr = srv.Shutdown(c)
		})
		return retErr
	}
	return stop, nil
}
