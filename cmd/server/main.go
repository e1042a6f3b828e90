package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keithlinneman/windowguard/internal/cfg"
	"github.com/keithlinneman/windowguard/internal/counterstore"
	"github.com/keithlinneman/windowguard/internal/guard"
	"github.com/keithlinneman/windowguard/internal/health"
	"github.com/keithlinneman/windowguard/internal/httpmw"
	"github.com/keithlinneman/windowguard/internal/killswitch"
	"github.com/keithlinneman/windowguard/internal/opshttp"
	"github.com/keithlinneman/windowguard/internal/overlimit"
	"github.com/keithlinneman/windowguard/internal/ratelimit"
	"github.com/keithlinneman/windowguard/internal/rules"

	"github.com/keithlinneman/windowguard/internal/httpserver"
	"github.com/keithlinneman/windowguard/internal/log"
	"github.com/keithlinneman/windowguard/internal/metrics"
	"github.com/keithlinneman/windowguard/internal/otelx"
	"github.com/keithlinneman/windowguard/internal/prof"
	v "github.com/keithlinneman/windowguard/internal/version"
)

const appName = "windowguard"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_date=%s, go=%s, dirty=%v)\n",
			appName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	cfg.FillFromEnv(flag.CommandLine, "WGUARD_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// levels were checked by cfg.Validate
	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:               appName,
		Version:           vi.Version,
		Commit:            vi.Commit,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JSON:              conf.LogJSON,
		IncludeErrorLinks: conf.IncludeErrorLinks,
		MaxErrorLinks:     conf.MaxErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"upstream", conf.Upstream,
		"store", conf.Store,
		"redis_addr", net.JoinHostPort(conf.RedisHost, fmt.Sprint(conf.RedisPort)),
		"rules_file", conf.RulesFile,
		"fail_policy", conf.FailPolicy,
		"client_scope", conf.ClientScope,
		"disable_rate_limits", conf.DisableRateLimits,
		"killswitch_ssm_param", conf.KillswitchSSMParam,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"trace_sample", conf.TraceSample,
	)

	stopProf, profErr := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       appName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       appName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
		},
	})
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	// Insecure: the collector runs on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   appName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	m := metrics.New()
	m.SetBuildInfoFromVersion(appName, "server", &vi)
	m.SetProfilingActive(conf.EnablePyroscope && profErr == nil)

	store, err := openStore(ctx, conf, m)
	if err != nil {
		// fail-open tolerates an unreachable store at runtime, not a bad
		// address at startup
		L.Error(ctx, err, "counter store init failed")
		os.Exit(1)
	}

	table, err := loadRules(conf)
	if err != nil {
		L.Error(ctx, err, "rules load failed", "rules_file", conf.RulesFile)
		os.Exit(1)
	}

	sw := killswitch.New(conf.DisableRateLimits)
	m.SetRateLimitsDisabled(sw.Disabled())
	sw.OnChange(func(disabled bool) {
		m.SetRateLimitsDisabled(disabled)
		L.Warn(ctx, "rate limiting switched", "disabled", disabled, "source", sw.State().Source)
	})

	if conf.KillswitchSSMParam != "" {
		src, err := killswitch.LoadSSMSource(ctx, conf.KillswitchSSMParam)
		if err != nil {
			L.Error(ctx, err, "killswitch ssm source init failed, runtime toggling disabled")
		} else {
			w := killswitch.NewWatcher(killswitch.WatcherOptions{
				Logger:       L,
				Source:       src,
				Switch:       sw,
				PollInterval: conf.KillswitchPollInterval,
				Metrics:      m,
			})
			go func() {
				if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					L.Error(ctx, err, "killswitch watcher stopped")
				}
			}()
		}
	}

	g, err := buildGuard(conf, store, sw, m)
	if err != nil {
		L.Error(ctx, err, "rate limit guard init failed")
		os.Exit(1)
	}

	target, err := url.Parse(conf.Upstream)
	if err != nil {
		L.Error(ctx, err, "invalid upstream", "upstream", conf.Upstream)
		os.Exit(1)
	}
	proxy := httpserver.NewProxy(target, httpserver.NewTransport())

	var gate health.ShutdownGate

	// Fail-closed rejects everything while the store is down, so take the
	// instance out of rotation instead. Fail-open keeps serving.
	probes := []health.Probe{gate.Probe()}
	if conf.FailPolicy == "closed" {
		probes = append(probes, health.Ping("counter store", store, conf.StoreTimeout))
	}
	readiness := health.All(probes...)

	siteHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		ClientIPOpts: httpmw.ClientIPOptions{
			TrustedHops:   conf.TrustedHops,
			KeepForwarded: conf.ClientScope == "forwarded",
		},
		MaxBodyBytes: conf.MaxBodyBytes,
		Guard:        g,
		Rules:        table,
		Upstream:     proxy,
		Readiness:    readiness,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start http listener")
		os.Exit(1)
	}
	defer func() { _ = siteHTTPStop(context.Background()) }()

	// the admin listener also rejects public peers in middleware
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		KillSwitch:   sw,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()
	stop()

	bg := context.Background()
	L.Info(bg, "shutdown signal received")

	gate.Set("draining")
	L.Info(bg, "shutdown gate closed, draining", "drain", conf.ShutdownDrain)

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(conf.ShutdownDrain):
		L.Info(bg, "drain period complete")
	case <-forceCh:
		L.Warn(bg, "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(bg, 15*time.Second)
	defer cancel()

	if err := siteHTTPStop(shutdownCtx); err != nil {
		L.Error(bg, err, "http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(bg, err, "ops http server shutdown")
	}
	if err := store.Close(); err != nil {
		L.Error(bg, err, "counter store close")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(bg, err, "otel shutdown")
	}
	stopProf()

	L.Info(bg, "shutdown complete")
}

func openStore(ctx context.Context, conf cfg.App, m *metrics.ServerMetrics) (counterstore.Store, error) {
	if conf.Store == "memory" {
		log.FromContext(ctx).Warn(ctx, "using in-memory counter store, limits are per instance")
		return counterstore.NewMemory(), nil
	}
	rs, err := counterstore.Dial(ctx, counterstore.RedisConfig{
		Host:     conf.RedisHost,
		Port:     conf.RedisPort,
		DB:       conf.RedisDB,
		Password: conf.RedisPassword,
	},
		counterstore.WithTimeout(conf.StoreTimeout),
		counterstore.WithObserver(m.ObserveStore),
	)
	if err != nil {
		return nil, err
	}
	return rs, nil
}

func loadRules(conf cfg.App) (*rules.Table, error) {
	d := rules.Defaults{Limit: int64(conf.DefaultLimit), Period: rules.Period(conf.DefaultPeriod)}
	if conf.RulesFile == "" {
		return rules.Default(d), nil
	}
	return rules.Load(conf.RulesFile, d)
}

func buildGuard(conf cfg.App, store counterstore.Store, sw *killswitch.Switch, m *metrics.ServerMetrics) (*guard.Guard, error) {
	fail, err := guard.ParseFailPolicy(conf.FailPolicy)
	if err != nil {
		return nil, err
	}
	var policy guard.ScopePolicy = guard.ForwardedPolicy{}
	if conf.ClientScope == "trusted" {
		policy = guard.TrustedProxyPolicy{}
	}
	return guard.New(guard.Options{
		Limiter: ratelimit.New(store, ratelimit.WithExpirationSlack(conf.ExpirationSlack)),
		Reporter: overlimit.New(store,
			overlimit.WithBuffer(int64(conf.OverLimitBuffer)),
			overlimit.WithStatus(conf.OverLimitStatus),
			overlimit.WithLogRate(conf.RejectLogRate, 10),
		),
		Policy:      policy,
		Switch:      sw,
		Fail:        fail,
		SendHeaders:   conf.SendHeaders,
		RejectAtLimit: conf.RejectAtLimit,
		OnDecision: func(_ *http.Request, d guard.Decision) {
			m.ObserveDecision(d.Operation, d.Outcome.String())
		},
	})
}

func notifySystemd() error {
	// NOTIFY_SOCKET is set when started under systemd with Type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		_ = conn.Close()
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
