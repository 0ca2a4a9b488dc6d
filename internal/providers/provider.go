// Package providers runs generation requests through an ordered chain of
// providers per job kind, falling through on any provider error.
package providers

import (
	"context"

	"github.com/google/uuid"

	"github.com/bobarin/slnpart/internal/models"
)

type OutcomeKind string

const (
	OutcomeImmediate OutcomeKind = "immediate"
	OutcomeDeferred  OutcomeKind = "deferred"
	OutcomeFailed    OutcomeKind = "failed"
)

// Outcome is the result of generate or poll. Ref is the artifact reference for
// Immediate and the provider handle for Deferred.
type Outcome struct {
	Kind     OutcomeKind
	Ref      string
	Reason   string
	Provider string
}

func Immediate(ref string) Outcome {
	return Outcome{Kind: OutcomeImmediate, Ref: ref}
}

func Deferred(handle string) Outcome {
	return Outcome{Kind: OutcomeDeferred, Ref: handle}
}

func Failed(reason string) Outcome {
	return Outcome{Kind: OutcomeFailed, Reason: reason}
}

// Request is what a provider receives for one job.
type Request struct {
	JobID  uuid.UUID
	Kind   models.JobKind
	Params models.JSONB
	// OutputPath is where a provider producing local bytes writes the artifact.
	OutputPath string
	// SourcePath is uploaded media (vocal take, backing audio), if any.
	SourcePath string
}

// Provider generates an artifact or accepts the work and returns a handle.
// Any error means "try the next candidate".
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (Outcome, error)
}

// Poller is implemented by providers that return Deferred outcomes.
// Poll must not change provider-side state. An error means the status could
// not be determined and the job stays as it is.
type Poller interface {
	Poll(ctx context.Context, handle string) (Outcome, error)
}

// Local marks a provider that synthesizes on this machine without remote calls.
// Every chain must end with one.
type Local interface {
	Local() bool
}
