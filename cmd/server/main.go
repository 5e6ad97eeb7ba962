package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"

	"github.com/keithlinneman/coachdesk-api/internal/adapter"
	"github.com/keithlinneman/coachdesk-api/internal/api"
	"github.com/keithlinneman/coachdesk-api/internal/auth"
	"github.com/keithlinneman/coachdesk-api/internal/cfg"
	"github.com/keithlinneman/coachdesk-api/internal/health"
	"github.com/keithlinneman/coachdesk-api/internal/httpmw"
	"github.com/keithlinneman/coachdesk-api/internal/httpserver"
	"github.com/keithlinneman/coachdesk-api/internal/log"
	"github.com/keithlinneman/coachdesk-api/internal/metrics"
	"github.com/keithlinneman/coachdesk-api/internal/opshttp"
	"github.com/keithlinneman/coachdesk-api/internal/otelx"
	"github.com/keithlinneman/coachdesk-api/internal/prof"
	"github.com/keithlinneman/coachdesk-api/internal/ratelimit"
	"github.com/keithlinneman/coachdesk-api/internal/retry"
	v "github.com/keithlinneman/coachdesk-api/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool
	var envFile string

	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading COACHDESK_* variables")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			v.App, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	if err := cfg.LoadDotEnv(envFile); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// levels were checked by Validate
	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:               v.App,
		Version:           vi.Version,
		Environment:       conf.Environment,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JSONFormat:        conf.LogJSON,
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
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"environment", conf.Environment,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"trusted_hops", conf.TrustedHops,
		"max_body_bytes", conf.MaxBodyBytes,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"trace_sample", conf.TraceSample,
		"ratelimit_store", conf.RateLimitStore,
		"ratelimit_fail_closed", conf.RateLimitFailClosed,
		"ratelimit_tiers_file", conf.RateLimitTiersFile,
		"courses_file", conf.CoursesFile,
		"uploads_bucket", conf.UploadsBucket,
	)

	stopProf, profErr := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.App,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.App,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.ShortCommit(),
			"env":       conf.Environment,
		},
	})
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}

	// the collector runs on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:     conf.EnableTracing,
		Endpoint:    conf.OTLPEndpoint,
		Insecure:    true,
		Sample:      conf.TraceSample,
		Service:     v.App,
		Component:   "server",
		Version:     vi.Version,
		Environment: conf.Environment,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.App, "server", &vi)
	m.SetProfilingActive(conf.EnablePyroscope && profErr == nil)

	// shared by every outbound call: exponential backoff, counted per operation
	outbound := retry.DefaultOptions()
	outbound.MaxElapsed = 20 * time.Second
	outbound.BackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 250 * time.Millisecond
		b.MaxInterval = 4 * time.Second
		return b
	}
	outbound.Logger = L
	outbound.OnRetry = m.ObserveRetry
	outbound.OnExhausted = m.ObserveExhausted

	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		L.Error(ctx, err, "failed to load AWS config")
		os.Exit(1)
	}

	if conf.NeedsSSM() {
		if err := adapter.ResolveSecrets(ctx, adapter.NewSSMClient(awsCfg), outbound, conf.Secrets()...); err != nil {
			L.Error(ctx, err, "failed to resolve secrets from SSM")
			os.Exit(1)
		}
		L.Info(ctx, "resolved secrets from SSM")
	}

	var gate health.ShutdownGate
	probes := []health.Probe{gate.Probe()}

	var store ratelimit.Store
	switch conf.RateLimitStore {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     conf.RedisAddr,
			Password: conf.RedisPassword,
			DB:       conf.RedisDB,
		})
		defer func() { _ = rdb.Close() }()
		rs := ratelimit.NewRedisStore(rdb)
		if err := rs.Ping(ctx); err != nil {
			// not fatal, the limiter's failure policy covers an unreachable store
			L.Warn(ctx, "redis unreachable at startup", "redis_addr", conf.RedisAddr, "error", err)
		}
		store = rs
		if conf.RateLimitFailClosed {
			probes = append(probes, health.Ping("redis", rs, 2*time.Second))
		}
	default:
		store = ratelimit.NewMemoryStore(ctx)
	}

	tiers, err := ratelimit.LoadTiers(conf.RateLimitTiersFile)
	if err != nil {
		L.Error(ctx, err, "failed to load rate limit tiers")
		os.Exit(1)
	}

	policy := ratelimit.FailOpen
	if conf.RateLimitFailClosed {
		policy = ratelimit.FailClosed
	}
	limiter := ratelimit.New(store,
		ratelimit.WithPolicy(policy),
		ratelimit.WithLogger(lg.With("component", "ratelimit")),
		ratelimit.WithOnStoreError(m.IncRateLimitStoreError),
		ratelimit.WithOnDecision(m.ObserveRateLimit),
	)

	payClient, err := adapter.NewClient(adapter.ClientOptions{
		Service: "payments",
		BaseURL: conf.PaymentsURL,
		APIKey:  conf.PaymentsAPIKey,
		Timeout: 10 * time.Second,
		Retry:   outbound,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create payments client")
		os.Exit(1)
	}
	mailClient, err := adapter.NewClient(adapter.ClientOptions{
		Service: "mail",
		BaseURL: conf.MailURL,
		APIKey:  conf.MailAPIKey,
		Timeout: 10 * time.Second,
		Retry:   outbound,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create mail client")
		os.Exit(1)
	}

	uploads, err := adapter.NewObjectStore(adapter.NewS3Client(awsCfg), conf.UploadsBucket, conf.UploadsPrefix, outbound)
	if err != nil {
		L.Error(ctx, err, "failed to create upload store")
		os.Exit(1)
	}

	var courses []api.Course
	if conf.CoursesFile != "" {
		courses, err = api.LoadCourses(conf.CoursesFile)
		if err != nil {
			L.Error(ctx, err, "failed to load course catalog")
			os.Exit(1)
		}
	}
	L.Info(ctx, "loaded course catalog", "courses", len(courses))

	jwt, err := auth.NewJWT([]byte(conf.JWTSecret), conf.JWTIssuer, 30*time.Second)
	if err != nil {
		L.Error(ctx, err, "failed to create token verifier")
		os.Exit(1)
	}

	coachAPI, err := api.New(api.Options{
		Limiter:        limiter,
		Tiers:          tiers,
		Auth:           jwt,
		Newsletter:     adapter.NewMailer(mailClient, conf.MailFrom),
		NewsletterList: conf.NewsletterList,
		Payments:       adapter.NewPayments(payClient),
		Courses:        api.NewStaticCatalog(courses),
		Uploads:        uploads,
		Production:     conf.Production(),
		OnError:        m.ObservePipelineError,
		OnPanic:        m.IncPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create api")
		os.Exit(1)
	}

	readiness := health.All(probes...)

	apiHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		UseRecoverMW: true,
		OnPanic:      m.IncPanic,
		MetricsMW:    m.Middleware,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		APIRoutes:    coachAPI.RegisterRoutes,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		MaxBodyBytes: conf.MaxBodyBytes,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start api http listener")
		os.Exit(1)
	}

	// ops listener is internal only: metrics, probes and pprof
	opsHTTPStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.Fixed(true, ""),
		Readiness:   readiness,
		OnPanic:     m.IncPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}

	if err := notifySystemd(); err != nil {
		// systemd kills us after its timeout if this mattered
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()
	stop()

	bg := context.Background()
	L.Info(bg, "shutdown signal received")

	// fail readiness so the load balancer stops sending new requests
	gate.Set("draining")
	L.Info(bg, "shutdown gate closed, draining", "drain_period", conf.DrainPeriod.String())

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(conf.DrainPeriod):
		L.Info(bg, "drain period complete")
	case <-forceCh:
		L.Warn(bg, "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(bg, 10*time.Second)
	defer cancel()

	if err := apiHTTPStop(shutdownCtx); err != nil {
		L.Error(bg, err, "api http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(bg, err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(bg, err, "otel shutdown")
	}
	stopProf()

	L.Info(bg, "shutdown complete")
}

func notifySystemd() error {
	// set by systemd for Type=notify units
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
