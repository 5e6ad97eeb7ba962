// Package api wires the public JSON endpoints onto the request pipeline.
//
// Handlers here are thin: each route declares its chain (error boundary,
// logging, rate limit tier, optional authentication, payload schema) and
// hands the validated payload to an injected collaborator.
package api

import (
	"context"
	"errors"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/coachdesk-api/internal/adapter"
	"github.com/keithlinneman/coachdesk-api/internal/apperr"
	"github.com/keithlinneman/coachdesk-api/internal/pipeline"
	"github.com/keithlinneman/coachdesk-api/internal/ratelimit"
)

type Subscriber interface {
	Subscribe(ctx context.Context, list, email string) error
}

type CheckoutCreator interface {
	CreateCheckout(ctx context.Context, req adapter.CheckoutRequest) (*adapter.CheckoutSession, error)
}

type Uploader interface {
	Put(ctx context.Context, name, contentType string, body []byte) (string, error)
}

type Options struct {
	Limiter pipeline.Checker
	Tiers   ratelimit.Tiers

	Auth pipeline.Authenticator

	Newsletter     Subscriber
	NewsletterList string
	Payments       CheckoutCreator
	Courses        CourseCatalog
	Uploads        Uploader

	// Production hides error internals from response bodies.
	Production bool

	// OnError and OnPanic feed error metrics.
	OnError func(kind apperr.Kind, status int)
	OnPanic func()
}

type API struct {
	opts Options
}

func New(opts Options) (*API, error) {
	var errs []error
	if opts.Limiter == nil {
		errs = append(errs, errors.New("api: limiter is required"))
	}
	if opts.Auth == nil {
		errs = append(errs, errors.New("api: authenticator is required"))
	}
	if opts.Newsletter == nil || opts.Payments == nil || opts.Courses == nil || opts.Uploads == nil {
		errs = append(errs, errors.New("api: newsletter, payments, courses and uploads collaborators are required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if opts.Tiers == nil {
		opts.Tiers = ratelimit.DefaultTiers()
	}
	if opts.NewsletterList == "" {
		opts.NewsletterList = "newsletter"
	}
	return &API{opts: opts}, nil
}

// RegisterRoutes mounts every endpoint on r.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Method("POST", "/api/newsletter/subscribe", a.route(a.subscribe, "strict", false,
		pipeline.ValidateBody[subscribeRequest](subscribeSchema)))

	r.Method("POST", "/api/checkout", a.route(a.checkout, "standard", true,
		pipeline.ValidateBody[checkoutRequest](checkoutSchema)))

	r.Method("GET", "/api/courses", a.route(a.listCourses, "permissive", false,
		pipeline.ValidateQuery[coursesQuery](coursesQuerySchema)))

	r.Method("POST", "/api/uploads", a.route(a.upload, "standard", true,
		pipeline.ValidateBody[uploadRequest](uploadSchema)))
}

// route builds the standard chain: boundary, logging, rate limit, optional
// auth, then the route's own validation. The limiter runs before auth so
// calls with missing or bad tokens spend the caller's budget.
func (a *API) route(ep pipeline.Endpoint, tier string, authRequired bool, validate pipeline.Middleware) pipeline.Handler {
	rl := pipeline.RateLimitOptions{
		Limiter: a.opts.Limiter,
		Tier:    a.opts.Tiers.Get(tier),
	}
	var authMW pipeline.Middleware
	if authRequired {
		rl.Identify = pipeline.IdentifyUser(a.opts.Auth)
		authMW = pipeline.Authenticate(a.opts.Auth, true)
	}
	return pipeline.Chain(ep,
		pipeline.ErrorBoundary(pipeline.BoundaryOptions{
			Production: a.opts.Production,
			OnError:    a.opts.OnError,
			OnPanic:    a.opts.OnPanic,
		}),
		pipeline.Logging(nil),
		pipeline.RateLimit(rl),
		authMW,
		validate,
	)
}
