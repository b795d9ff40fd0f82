package provider

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opsforge/wpc/internal/core"
	"github.com/opsforge/wpc/internal/observability"
	"github.com/opsforge/wpc/internal/region"
)

// DepProviderAPI is the breaker key for the provisioning API itself.
const DepProviderAPI = "provider-api"

type RetryConfig struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialBackoff: time.Second,
		MaxBackoff:     16 * time.Second,
		MaxAttempts:    5,
	}
}

// Gateway wraps every external provisioning call with retry, backoff,
// and circuit breaking. Transient failures are absorbed here; callers
// only see errors once retries are exhausted or the breaker is open.
type Gateway struct {
	api      CloudAPI
	regions  *region.Selector
	retry    RetryConfig
	breaker  BreakerConfig
	log      *zap.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewGateway(api CloudAPI, regions *region.Selector, retry RetryConfig, breaker BreakerConfig, log *zap.Logger) *Gateway {
	return &Gateway{
		api:      api,
		regions:  regions,
		retry:    retry,
		breaker:  breaker,
		log:      log,
		breakers: make(map[string]*Breaker),
		sleep:    sleepCtx,
	}
}

// attemptFields flattens an attempt record into the structured log,
// the per-call audit trail for external-API activity.
func attemptFields(at Attempt) []zap.Field {
	return []zap.Field{
		zap.String("op", at.Op),
		zap.String("workspace_id", at.WorkspaceID),
		zap.Int("attempt", at.Number),
		zap.Time("started_at", at.StartedAt),
		zap.String("outcome", at.Outcome),
		zap.String("error_class", string(at.ErrorClass)),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// BreakerFor returns the circuit breaker for a named dependency,
// creating it on first use. The customization pipeline shares these
// for the directory and volume services.
func (g *Gateway) BreakerFor(dep string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.breakers[dep]
	if !ok {
		b = NewBreaker(dep, g.breaker)
		g.breakers[dep] = b
	}
	return b
}

// invoke runs fn through the dependency's breaker with exponential
// backoff, retrying only retryable error classes.
func (g *Gateway) invoke(ctx context.Context, dep, op, workspaceID string, fn func(context.Context) error) error {
	b := g.BreakerFor(dep)
	start := time.Now()
	defer func() {
		observability.ProviderCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	backoff := g.retry.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= g.retry.MaxAttempts; attempt++ {
		if err := b.Allow(); err != nil {
			observability.ProviderAttempts.WithLabelValues(op, "circuit_open").Inc()
			return err
		}

		at := Attempt{WorkspaceID: workspaceID, Op: op, Number: attempt, StartedAt: time.Now()}
		err := fn(ctx)
		if err == nil {
			at.Outcome = "ok"
			b.Record(true)
			observability.ProviderAttempts.WithLabelValues(op, "ok").Inc()
			g.log.Debug("provider call succeeded", attemptFields(at)...)
			return nil
		}
		lastErr = err
		b.Record(false)
		observability.ProviderAttempts.WithLabelValues(op, "error").Inc()

		var class ErrorClass
		if pe, ok := err.(*Error); ok {
			class = pe.Class
		}
		at.Outcome = "error"
		at.ErrorClass = class
		g.log.Warn("provider call failed", append(attemptFields(at), zap.Error(err))...)

		if !retryable(err) {
			return err
		}
		if attempt == g.retry.MaxAttempts {
			break
		}
		if err := g.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
		if backoff > g.retry.MaxBackoff {
			backoff = g.retry.MaxBackoff
		}
	}
	return lastErr
}

// Create provisions a resource, retrying transient failures in place.
// When the caller leaves Region empty, the selector resolves it from
// the geo hint. A capacity-class failure triggers exactly one fallback
// to the next best region for the caller's geo hint.
func (g *Gateway) Create(ctx context.Context, spec ResourceSpec, geoHint string) (*RemoteResource, error) {
	if spec.Region == "" {
		r, err := g.regions.Select(geoHint)
		if err != nil {
			return nil, core.NewAppError(core.ErrInternal, "no provisioning region configured")
		}
		spec.Region = r
	}

	res, err := g.createIn(ctx, spec)
	if err == nil || !IsCapacity(err) {
		return res, err
	}

	alt, altErr := g.regions.Alternate(geoHint, spec.Region)
	if altErr != nil {
		return nil, core.NewAppError(core.ErrCapacityUnavailable,
			"no capacity in "+spec.Region+" and no alternate region")
	}
	observability.RegionFallbacks.Inc()
	g.log.Info("capacity fallback",
		zap.String("workspace_id", spec.WorkspaceID),
		zap.String("from_region", spec.Region),
		zap.String("to_region", alt),
	)
	spec.Region = alt
	res, err = g.createIn(ctx, spec)
	if err != nil && IsCapacity(err) {
		return nil, core.NewAppError(core.ErrCapacityUnavailable,
			"no capacity in any candidate region")
	}
	return res, err
}

func (g *Gateway) createIn(ctx context.Context, spec ResourceSpec) (*RemoteResource, error) {
	var res *RemoteResource
	err := g.invoke(ctx, DepProviderAPI, "create", spec.WorkspaceID, func(ctx context.Context) error {
		r, err := g.api.Create(ctx, spec)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	return res, err
}

func (g *Gateway) Describe(ctx context.Context, workspaceID, providerID string) (*RemoteResource, error) {
	var res *RemoteResource
	err := g.invoke(ctx, DepProviderAPI, "describe", workspaceID, func(ctx context.Context) error {
		r, err := g.api.Describe(ctx, providerID)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	return res, err
}

func (g *Gateway) Start(ctx context.Context, workspaceID, providerID string) error {
	return g.invoke(ctx, DepProviderAPI, "start", workspaceID, func(ctx context.Context) error {
		return g.api.Start(ctx, providerID)
	})
}

func (g *Gateway) Stop(ctx context.Context, workspaceID, providerID string) error {
	return g.invoke(ctx, DepProviderAPI, "stop", workspaceID, func(ctx context.Context) error {
		return g.api.Stop(ctx, providerID)
	})
}

func (g *Gateway) Terminate(ctx context.Context, workspaceID, providerID string) error {
	return g.invoke(ctx, DepProviderAPI, "terminate", workspaceID, func(ctx context.Context) error {
		return g.api.Terminate(ctx, providerID)
	})
}
