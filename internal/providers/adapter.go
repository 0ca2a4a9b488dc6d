package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bobarin/slnpart/internal/metrics"
	"github.com/bobarin/slnpart/internal/models"
)

// Options bounds every provider call.
type Options struct {
	CallTimeout time.Duration
	PollTimeout time.Duration
}

// Adapter is the provider-agnostic fallback chain runner.
type Adapter struct {
	chains map[models.JobKind][]Provider
	byName map[string]Provider
	opts   Options
	log    zerolog.Logger
}

// NewAdapter resolves the policy's chains against the registered providers.
// Names with no registered provider are skipped (e.g. a remote API without a
// key); each resulting chain must be non-empty and end with a Local provider.
func NewAdapter(policy Policy, registered []Provider, opts Options, log zerolog.Logger) (*Adapter, error) {
	if opts.CallTimeout <= 0 || opts.PollTimeout <= 0 {
		return nil, fmt.Errorf("provider timeouts must be positive")
	}

	byName := make(map[string]Provider, len(registered))
	for _, p := range registered {
		if _, dup := byName[p.Name()]; dup {
			return nil, fmt.Errorf("provider %q registered twice", p.Name())
		}
		byName[p.Name()] = p
	}

	a := &Adapter{
		chains: make(map[models.JobKind][]Provider),
		byName: byName,
		opts:   opts,
		log:    log,
	}

	for _, kind := range models.AllJobKinds {
		names := policy.Chains[kind]
		var chain []Provider
		for _, name := range names {
			p, ok := byName[name]
			if !ok {
				log.Warn().Str("kind", string(kind)).Str("provider", name).Msg("provider not configured, skipping")
				continue
			}
			chain = append(chain, p)
		}
		if len(chain) == 0 {
			return nil, fmt.Errorf("no configured providers for %s", kind)
		}
		if l, ok := chain[len(chain)-1].(Local); !ok || !l.Local() {
			return nil, fmt.Errorf("chain for %s must end with a local provider, got %q", kind, chain[len(chain)-1].Name())
		}
		a.chains[kind] = chain
		log.Info().Str("kind", string(kind)).Str("chain", chainNames(chain)).Msg("provider chain ready")
	}

	return a, nil
}

// Chain returns the resolved provider names for kind, in order.
func (a *Adapter) Chain(kind models.JobKind) []string {
	names := make([]string, 0, len(a.chains[kind]))
	for _, p := range a.chains[kind] {
		names = append(names, p.Name())
	}
	return names
}

// Generate tries each candidate in order and returns the first Immediate or
// Deferred outcome. It returns Failed only when every candidate failed.
func (a *Adapter) Generate(ctx context.Context, req Request) Outcome {
	chain, ok := a.chains[req.Kind]
	if !ok {
		return Failed(fmt.Sprintf("no provider chain for %s", req.Kind))
	}

	var failures []string
	for _, p := range chain {
		out, err := a.try(ctx, p, req)
		if err == nil {
			out.Provider = p.Name()
			return out
		}

		failures = append(failures, fmt.Sprintf("%s: %v", p.Name(), err))
		a.log.Warn().Err(err).
			Str("job_id", req.JobID.String()).
			Str("kind", string(req.Kind)).
			Str("provider", p.Name()).
			Msg("provider failed, falling through")

		if ctx.Err() != nil {
			break
		}
	}

	reason := "all providers failed: " + strings.Join(failures, "; ")
	a.log.Error().Str("job_id", req.JobID.String()).Str("kind", string(req.Kind)).Msg(reason)
	out := Failed(reason)
	if len(chain) > 0 {
		out.Provider = chain[len(chain)-1].Name()
	}
	return out
}

func (a *Adapter) try(ctx context.Context, p Provider, req Request) (Outcome, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.opts.CallTimeout)
	defer cancel()

	start := time.Now()
	out, err := p.Generate(callCtx, req)
	metrics.ProviderDuration.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())

	if err == nil {
		err = validate(p, out)
	}
	if err != nil {
		metrics.ProviderAttemptsTotal.WithLabelValues(p.Name(), "error").Inc()
		return Outcome{}, err
	}

	metrics.ProviderAttemptsTotal.WithLabelValues(p.Name(), string(out.Kind)).Inc()
	return out, nil
}

func validate(p Provider, out Outcome) error {
	switch out.Kind {
	case OutcomeImmediate:
		if out.Ref == "" {
			return errors.New("empty artifact reference")
		}
	case OutcomeDeferred:
		if out.Ref == "" {
			return errors.New("empty provider handle")
		}
		if _, ok := p.(Poller); !ok {
			return errors.New("deferred outcome from a provider that cannot be polled")
		}
	case OutcomeFailed:
		if out.Reason == "" {
			return errors.New("provider reported failure")
		}
		return errors.New(out.Reason)
	default:
		return fmt.Errorf("unknown outcome kind %q", out.Kind)
	}
	return nil
}

// Poll asks the named provider about a handle. A returned error means the
// status is unknown; callers must leave the job unchanged.
func (a *Adapter) Poll(ctx context.Context, providerName, handle string) (Outcome, error) {
	p, ok := a.byName[providerName]
	if !ok {
		return Outcome{}, fmt.Errorf("provider %q is not configured", providerName)
	}
	poller, ok := p.(Poller)
	if !ok {
		return Outcome{}, fmt.Errorf("provider %q does not support polling", providerName)
	}

	pollCtx, cancel := context.WithTimeout(ctx, a.opts.PollTimeout)
	defer cancel()

	out, err := poller.Poll(pollCtx, handle)
	if err != nil {
		return Outcome{}, fmt.Errorf("poll %s: %w", providerName, err)
	}

	switch out.Kind {
	case OutcomeImmediate:
		if out.Ref == "" {
			return Outcome{}, fmt.Errorf("poll %s: empty artifact reference", providerName)
		}
	case OutcomeDeferred:
		out.Ref = handle
	case OutcomeFailed:
		if out.Reason == "" {
			out.Reason = providerName + " reported failure"
		}
	default:
		return Outcome{}, fmt.Errorf("poll %s: unknown outcome kind %q", providerName, out.Kind)
	}

	out.Provider = providerName
	return out, nil
}

func chainNames(chain []Provider) string {
	names := make([]string, len(chain))
	for i, p := range chain {
		names[i] = p.Name()
	}
	return strings.Join(names, " -> ")
}
