/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package workflow

import (
	"context"
	"errors"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/Seednode/dungeonhonor/internal/behavior"
	"github.com/Seednode/dungeonhonor/internal/client"
	"github.com/Seednode/dungeonhonor/internal/store"
)

// Lookuper fetches the stored behavior records for a player.
type Lookuper interface {
	Lookup(ctx context.Context, id behavior.Identity) ([]behavior.Record, error)
}

type ReportState int

const (
	Idle ReportState = iota
	Validating
	Submitting
	Success
	Failed
)

func (s ReportState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Validating:
		return "validating"
	case Submitting:
		return "submitting"
	case Success:
		return "success"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	StatusFailureMessage     = "Error submitting. Please try again."
	UnexpectedFailureMessage = "An unexpected error occurred."
)

// ErrSuperseded is reported when a newer submission started while this
// one was in flight. The response is discarded.
var ErrSuperseded = errors.New("superseded by a newer submission")

// ReportOutcome is the result of a single Submit call.
type ReportOutcome struct {
	State    ReportState
	Invalid  *behavior.ValidationError
	Identity behavior.Identity
	Buckets  []behavior.Bucket
	Err      error
}

// ReportView is a snapshot of everything the report card displays.
type ReportView struct {
	State      ReportState
	Fields     behavior.Identity
	Invalid    behavior.ValidationError
	Failure    string
	HasResults bool
	Submitted  behavior.Identity
	Records    []behavior.Record
	Buckets    []behavior.Bucket
}

func (v ReportView) Loading() bool {
	return v.State == Submitting
}

// Report looks up a player and charts their recorded behaviors.
//
// Each Submit is tagged with a generation; when two overlap, only the
// response to the most recent one is applied.
type Report struct {
	lookup Lookuper
	logger *zap.Logger

	mu         sync.Mutex
	state      ReportState
	fields     behavior.Identity
	invalid    behavior.ValidationError
	failure    string
	hasResults bool
	submitted  behavior.Identity
	records    []behavior.Record
	buckets    []behavior.Bucket
	generation uint64
}

func NewReport(lookup Lookuper, logger *zap.Logger) *Report {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Report{
		lookup: lookup,
		logger: logger,
	}
}

// Submit validates id and, if valid, issues exactly one lookup for it.
func (r *Report) Submit(ctx context.Context, id behavior.Identity) ReportOutcome {
	r.mu.Lock()

	r.fields = id
	r.state = Validating
	r.failure = ""
	r.generation++
	gen := r.generation

	if err := id.Validate(); err != nil {
		var verr *behavior.ValidationError
		errors.As(err, &verr)

		r.invalid = *verr
		r.state = Failed
		r.mu.Unlock()

		return ReportOutcome{State: Failed, Invalid: verr, Err: err}
	}

	r.invalid = behavior.ValidationError{}
	r.state = Submitting

	r.mu.Unlock()

	records, err := r.lookup.Lookup(ctx, id)

	r.mu.Lock()
	defer r.mu.Unlock()

	if gen != r.generation {
		r.logger.Debug("discarding superseded lookup response", zap.Stringer("identity", id))

		return ReportOutcome{State: r.state, Identity: id, Err: ErrSuperseded}
	}

	if err != nil {
		r.logger.Warn("lookup failed", zap.Stringer("identity", id), zap.Error(err))

		r.state = Failed
		r.failure = failureMessage(err)

		return ReportOutcome{State: Failed, Identity: id, Err: err}
	}

	buckets := behavior.Aggregate(records)

	r.records = records
	r.buckets = buckets
	r.submitted = id
	r.hasResults = true
	r.fields = behavior.Identity{}
	r.state = Success

	return ReportOutcome{State: Success, Identity: id, Buckets: slices.Clone(buckets)}
}

// failureMessage reports a failure the server answered with, either over
// the API or from the store directly, as a status failure. Anything else
// never got an answer.
func failureMessage(err error) string {
	var serr *client.StatusError
	if errors.As(err, &serr) || errors.Is(err, store.ErrUnavailable) {
		return StatusFailureMessage
	}

	return UnexpectedFailureMessage
}

func (r *Report) View() ReportView {
	r.mu.Lock()
	defer r.mu.Unlock()

	return ReportView{
		State:      r.state,
		Fields:     r.fields,
		Invalid:    r.invalid,
		Failure:    r.failure,
		HasResults: r.hasResults,
		Submitted:  r.submitted,
		Records:    slices.Clone(r.records),
		Buckets:    slices.Clone(r.buckets),
	}
}
