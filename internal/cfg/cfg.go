// Package cfg holds the server configuration. Every field is a flag with an
// inline default; COACHDESK_* environment variables (optionally loaded from a
// .env file) fill any flag not passed on the command line.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/keithlinneman/coachdesk-api/internal/adapter"
	"github.com/keithlinneman/coachdesk-api/internal/log"
)

const EnvPrefix = "COACHDESK_"

type App struct {
	Environment       string
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	HTTPPort     int
	AdminPort    int
	TrustedHops  int
	MaxBodyBytes int64
	DrainPeriod  time.Duration

	EnablePprof     bool
	EnablePyroscope bool
	EnableTracing   bool
	PyroServer      string
	PyroTenantID    string
	OTLPEndpoint    string
	TraceSample     float64

	RateLimitStore      string
	RateLimitFailClosed bool
	RateLimitTiersFile  string
	RedisAddr           string
	RedisPassword       string
	RedisDB             int

	JWTSecret string
	JWTIssuer string

	PaymentsURL    string
	PaymentsAPIKey string
	MailURL        string
	MailAPIKey     string
	MailFrom       string
	NewsletterList string
	CoursesFile    string
	UploadsBucket  string
	UploadsPrefix  string
}

// Register binds all config fields to fs with defaults inline.
func Register(fs *flag.FlagSet, c *App) {
	fs.StringVar(&c.Environment, "environment", "production", "production|staging|development; non-production shows error internals in responses")
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error chain positions in log records")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")

	fs.IntVar(&c.HTTPPort, "http-port", 8080, "public API listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "ops listen TCP port (1..65535)")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "reverse proxies in front of the server; 0 ignores X-Forwarded-For")
	fs.Int64Var(&c.MaxBodyBytes, "max-body-bytes", 8<<20, "request body cap in bytes")
	fs.DurationVar(&c.DrainPeriod, "drain-period", 15*time.Second, "time between failing readiness and stopping the listeners on shutdown")

	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof (ops port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP gRPC endpoint (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")

	fs.StringVar(&c.RateLimitStore, "ratelimit-store", "memory", "memory|redis; use redis when running more than one instance")
	fs.BoolVar(&c.RateLimitFailClosed, "ratelimit-fail-closed", false, "deny requests (503) when the rate limit store is unreachable")
	fs.StringVar(&c.RateLimitTiersFile, "ratelimit-tiers-file", "", "YAML file overriding or adding rate limit tiers")
	fs.StringVar(&c.RedisAddr, "redis-addr", "", "redis host:port, required for ratelimit-store=redis")
	fs.StringVar(&c.RedisPassword, "redis-password", "", "redis password or ssm:/parameter/name")
	fs.IntVar(&c.RedisDB, "redis-db", 0, "redis database number")

	fs.StringVar(&c.JWTSecret, "jwt-secret", "", "HS256 secret or ssm:/parameter/name")
	fs.StringVar(&c.JWTIssuer, "jwt-issuer", "", "required token issuer; empty accepts any")

	fs.StringVar(&c.PaymentsURL, "payments-url", "", "payments provider base URL")
	fs.StringVar(&c.PaymentsAPIKey, "payments-api-key", "", "payments API key or ssm:/parameter/name")
	fs.StringVar(&c.MailURL, "mail-url", "", "email provider base URL")
	fs.StringVar(&c.MailAPIKey, "mail-api-key", "", "email API key or ssm:/parameter/name")
	fs.StringVar(&c.MailFrom, "mail-from", "hello@coachdesk.example", "sender address for transactional email")
	fs.StringVar(&c.NewsletterList, "newsletter-list", "newsletter", "mailing list id for newsletter signups")
	fs.StringVar(&c.CoursesFile, "courses-file", "", "YAML course catalog")
	fs.StringVar(&c.UploadsBucket, "uploads-bucket", "", "S3 bucket for client uploads")
	fs.StringVar(&c.UploadsPrefix, "uploads-prefix", "uploads", "S3 key prefix for client uploads")
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// FillFromEnv sets any flag not passed on the command line from the
// environment. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, ok := os.LookupEnv(key)
		if !ok {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value overrides env %s", f.Name, key)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s: %v", f.Name, key, err)
			}
		}
	})
}

func (c App) Production() bool { return c.Environment == "production" }

// Secrets returns pointers to the fields that may hold ssm: references, for
// adapter.ResolveSecrets.
func (c *App) Secrets() []*string {
	return []*string{&c.JWTSecret, &c.PaymentsAPIKey, &c.MailAPIKey, &c.RedisPassword}
}

// NeedsSSM reports whether any secret is an SSM reference.
func (c *App) NeedsSSM() bool {
	for _, s := range c.Secrets() {
		if strings.HasPrefix(*s, adapter.SecretPrefix) {
			return true
		}
	}
	return false
}

// Validate reports every invalid field at once.
func Validate(c App) error {
	var errs []error

	switch c.Environment {
	case "production", "staging", "development":
	default:
		errs = append(errs, fmt.Errorf("invalid ENVIRONMENT %q (must be production|staging|development)", c.Environment))
	}

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}
	if c.TrustedHops < 0 {
		errs = append(errs, fmt.Errorf("invalid TRUSTED_HOPS %d (must be >= 0)", c.TrustedHops))
	}
	if c.DrainPeriod < 0 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_PERIOD %s (must be >= 0)", c.DrainPeriod))
	}
	if c.MaxBodyBytes < 1 {
		errs = append(errs, fmt.Errorf("invalid MAX_BODY_BYTES %d (must be > 0)", c.MaxBodyBytes))
	}

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
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, errors.New("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}
	if c.EnablePyroscope {
		if u, err := url.Parse(c.PyroServer); c.PyroServer == "" || err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL when ENABLE_PYROSCOPE=true (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, errors.New("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	switch c.RateLimitStore {
	case "memory":
	case "redis":
		if _, _, err := net.SplitHostPort(c.RedisAddr); err != nil {
			errs = append(errs, fmt.Errorf("REDIS_ADDR must be host:port when RATELIMIT_STORE=redis (got %q)", c.RedisAddr))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid RATELIMIT_STORE %q (must be memory|redis)", c.RateLimitStore))
	}

	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	for name, raw := range map[string]string{"PAYMENTS_URL": c.PaymentsURL, "MAIL_URL": c.MailURL} {
		if u, err := url.Parse(raw); raw == "" || err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s must be an absolute URL (got %q)", name, raw))
		}
	}
	if c.UploadsBucket == "" {
		errs = append(errs, errors.New("UPLOADS_BUCKET is required"))
	}

	return errors.Join(errs...)
}
