package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/windowguard/internal/log"
)

// App is the configuration of the rate-limiting proxy (cmd/server).
type App struct {
	// logging and telemetry
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int
	EnablePprof       bool
	EnablePyroscope   bool
	EnableTracing     bool
	PyroServer        string
	PyroTenantID      string
	OTLPEndpoint      string
	TraceSample       float64

	// listeners
	HTTPPort      int
	AdminPort     int
	Upstream      string
	ShutdownDrain time.Duration
	MaxBodyBytes  int64

	// counter store
	Store         string
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string
	StoreTimeout  time.Duration

	// limits
	DefaultLimit    int
	DefaultPeriod   time.Duration
	ExpirationSlack time.Duration
	RulesFile       string
	FailPolicy      string
	ClientScope     string
	TrustedHops     int
	SendHeaders     bool
	RejectAtLimit   bool
	OverLimitStatus int
	OverLimitBuffer int
	RejectLogRate   float64

	// kill switch
	DisableRateLimits      bool
	KillswitchSSMParam     string
	KillswitchPollInterval time.Duration
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")

	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.StringVar(&c.Upstream, "upstream", "", "base URL of the API that admitted requests are proxied to")
	fs.DurationVar(&c.ShutdownDrain, "shutdown-drain", 5*time.Second, "time to report not-ready before closing listeners")
	fs.Int64Var(&c.MaxBodyBytes, "max-body-bytes", 10<<20, "largest request body forwarded upstream (0 = unlimited)")

	fs.StringVar(&c.Store, "store", "redis", "counter store: redis|memory (memory is single-instance only)")
	fs.StringVar(&c.RedisHost, "redis-host", "localhost", "redis host")
	fs.IntVar(&c.RedisPort, "redis-port", 6379, "redis port")
	fs.IntVar(&c.RedisDB, "redis-db", 1, "redis database index")
	fs.StringVar(&c.RedisPassword, "redis-password", "", "redis password")
	fs.DurationVar(&c.StoreTimeout, "store-timeout", 250*time.Millisecond, "upper bound on a single counter store round trip")

	fs.IntVar(&c.DefaultLimit, "default-limit", 60, "requests allowed per window for routes without a rule")
	fs.DurationVar(&c.DefaultPeriod, "default-period", 300*time.Second, "window length for routes without a rule (whole seconds)")
	fs.DurationVar(&c.ExpirationSlack, "expiration-slack", 10*time.Second, "extra lifetime of a window counter past its reset")
	fs.StringVar(&c.RulesFile, "rules-file", "", "YAML file of per-route limits")
	fs.StringVar(&c.FailPolicy, "fail-policy", "open", "behaviour when the counter store is unreachable: open|closed")
	fs.StringVar(&c.ClientScope, "client-scope", "forwarded", "client identity: forwarded (first X-Forwarded-For entry) or trusted (trusted-hops aware)")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "number of trusted reverse proxies in front of this service (client-scope=trusted)")
	fs.BoolVar(&c.SendHeaders, "send-headers", true, "annotate responses with X-RateLimit-* headers")
	fs.BoolVar(&c.RejectAtLimit, "reject-at-limit", false, "reject the request that fills the window (admits limit-1 per window)")
	fs.IntVar(&c.OverLimitStatus, "over-limit-status", 400, "HTTP status for rejected requests")
	fs.IntVar(&c.OverLimitBuffer, "over-limit-buffer", 10, "amount subtracted from the limit in the rejection message")
	fs.Float64Var(&c.RejectLogRate, "reject-log-rate", 0, "max rejection log lines per second (0 = unlimited)")

	fs.BoolVar(&c.DisableRateLimits, "disable-rate-limits", false, "admit every request without touching the counter store")
	fs.StringVar(&c.KillswitchSSMParam, "killswitch-ssm-param", "", "ssm parameter whose value (true|false) toggles disable-rate-limits at runtime")
	fs.DurationVar(&c.KillswitchPollInterval, "killswitch-poll-interval", 30*time.Second, "how often to read killswitch-ssm-param")
}

// FillFromEnv sets any flag not given on the command line from the
// environment. Flag "redis-host" maps to PREFIX_REDIS_HOST.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	onCLI := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { onCLI[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := EnvKey(prefix, f.Name)
		v, ok := os.LookupEnv(key)
		switch {
		case !ok:
		case onCLI[f.Name]:
			logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, v)
		default:
			prev := f.Value.String()
			if err := fs.Set(f.Name, v); err != nil {
				_ = fs.Set(f.Name, prev)
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, v, err)
			}
		}
	})
}

// EnvKey is the environment variable consulted for a flag.
func EnvKey(prefix, flagName string) string {
	return prefix + strings.ReplaceAll(strings.ToUpper(flagName), "-", "_")
}

// Validate reports every invalid field at once, or nil.
func Validate(c App) error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	errs = append(errs, validateTelemetry(c)...)

	if !validPort(c.HTTPPort) {
		add("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort)
	}
	if !validPort(c.AdminPort) {
		add("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort)
	}
	if c.AdminPort == c.HTTPPort {
		add("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort)
	}
	if c.Upstream == "" {
		add("UPSTREAM is required")
	} else if u, err := url.Parse(c.Upstream); err != nil || u.Scheme == "" || u.Host == "" {
		add("UPSTREAM must be an absolute URL (got %q)", c.Upstream)
	}
	if c.ShutdownDrain < 0 {
		add("SHUTDOWN_DRAIN must not be negative (got %s)", c.ShutdownDrain)
	}
	if c.MaxBodyBytes < 0 {
		add("MAX_BODY_BYTES must be >= 0 (got %d)", c.MaxBodyBytes)
	}

	switch c.Store {
	case "redis":
		if c.RedisHost == "" {
			add("REDIS_HOST is required when STORE=redis")
		}
		if !validPort(c.RedisPort) {
			add("invalid REDIS_PORT %d (must be 1..65535)", c.RedisPort)
		}
		if c.RedisDB < 0 {
			add("invalid REDIS_DB %d (must be >= 0)", c.RedisDB)
		}
	case "memory":
	default:
		add("invalid STORE %q (must be redis|memory)", c.Store)
	}
	if c.StoreTimeout <= 0 {
		add("STORE_TIMEOUT must be positive (got %s)", c.StoreTimeout)
	}

	if c.DefaultLimit < 1 {
		add("DEFAULT_LIMIT must be >= 1 (got %d)", c.DefaultLimit)
	}
	if c.DefaultPeriod < time.Second || c.DefaultPeriod%time.Second != 0 {
		add("DEFAULT_PERIOD must be a whole number of seconds >= 1s (got %s)", c.DefaultPeriod)
	}
	if c.ExpirationSlack < 0 {
		add("EXPIRATION_SLACK must not be negative (got %s)", c.ExpirationSlack)
	}
	if c.FailPolicy != "open" && c.FailPolicy != "closed" {
		add("invalid FAIL_POLICY %q (must be open|closed)", c.FailPolicy)
	}
	if c.ClientScope != "forwarded" && c.ClientScope != "trusted" {
		add("invalid CLIENT_SCOPE %q (must be forwarded|trusted)", c.ClientScope)
	}
	if c.TrustedHops < 0 {
		add("TRUSTED_HOPS must be >= 0 (got %d)", c.TrustedHops)
	}
	if c.OverLimitStatus < 400 || c.OverLimitStatus > 599 {
		add("OVER_LIMIT_STATUS must be a 4xx or 5xx code (got %d)", c.OverLimitStatus)
	}
	if c.OverLimitBuffer < 0 {
		add("OVER_LIMIT_BUFFER must be >= 0 (got %d)", c.OverLimitBuffer)
	}
	if c.RejectLogRate < 0 {
		add("REJECT_LOG_RATE must be >= 0 (got %g)", c.RejectLogRate)
	}

	if c.KillswitchSSMParam != "" && c.KillswitchPollInterval < time.Second {
		add("KILLSWITCH_POLL_INTERVAL must be >= 1s (got %s)", c.KillswitchPollInterval)
	}

	return errors.Join(errs...)
}

func validateTelemetry(c App) []error {
	var errs []error
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
	}
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}
	if c.EnablePyroscope {
		if u, err := url.Parse(c.PyroServer); c.PyroServer == "" || err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL when ENABLE_PYROSCOPE=true (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}
	// grpc exporter wants host:port, no scheme
	if c.EnableTracing {
		if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port when ENABLE_TRACING=true (got %q)", c.OTLPEndpoint))
		}
	}
	return errs
}

func validPort(p int) bool { return p >= 1 && p <= 65535 }
