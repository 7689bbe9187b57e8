package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/kanshi/internal/baseline"
	"github.com/harunnryd/kanshi/internal/corrector"
	kerrors "github.com/harunnryd/kanshi/internal/errors"
	"github.com/harunnryd/kanshi/internal/evidence"
	"github.com/harunnryd/kanshi/internal/logger"
	"github.com/harunnryd/kanshi/internal/policy"
	"github.com/harunnryd/kanshi/internal/snapshot"
	"github.com/harunnryd/kanshi/internal/source"
	"github.com/harunnryd/kanshi/internal/transport"

	"github.com/anggasct/fluo"
	"github.com/oklog/ulid/v2"
)

// Pipeline states.
const (
	StateIdle        = "IDLE"
	StateMonitoring  = "MONITORING"
	StateAuthorizing = "AUTHORIZING"
	StateComparing   = "COMPARING"
	StateNotifying   = "NOTIFYING"
	StateSyncing     = "SYNCING"
	StateRejected    = "REJECTED"
	StateNoChange    = "NO_CHANGE"
	StateFailed      = "FAILED"
)

// Pipeline events.
const (
	eventBegin     = "begin"
	eventCaptured  = "captured"
	eventAccepted  = "accepted"
	eventRejected  = "rejected"
	eventChanged   = "changed"
	eventUnchanged = "unchanged"
	eventNotified  = "notified"
	eventSynced    = "synced"
	eventFail      = "fail"
)

// ChangeNotifier is the slice of the notify package the orchestrator
// needs. It returns notification record IDs.
type ChangeNotifier interface {
	NotifyChange(ctx context.Context, pol *policy.Policy, oldText, newText string, result *ComparisonResult, dryRun bool) []string
}

// Pruner triggers retention cleanup after a successful sync.
type Pruner interface {
	Prune(ctx context.Context) error
}

// Orchestrator drives one pipeline run per policy through the staged
// state machine. Terminal states always leave exactly one run record.
type Orchestrator struct {
	Snapshots *snapshot.Store
	Baselines *baseline.Store
	Runs      *RunRecordStore
	Comparer  *Comparer
	Notifier  ChangeNotifier
	Validator evidence.Validator
	Corrector corrector.Corrector
	Retention Pruner
	Alerter   transport.Alerter

	MaxQueries      int
	DriftCeiling    float64
	MinConfidence   float64
	FreshnessWindow time.Duration

	// SourceFor and SinkFor are swappable in tests.
	SourceFor func(pol *policy.Policy) source.Source
	SinkFor   func(pol *policy.Policy) source.Sink

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// newMachine builds the staged pipeline definition. One instance is
// created per run.
func newMachine(runID string) fluo.Machine {
	logEntry := func(ctx fluo.Context) error {
		slog.Debug("Pipeline stage entered", "state", ctx.GetCurrentState(), "run_id", runID)
		return nil
	}

	definition := fluo.NewMachine().
		State(StateIdle).Initial().
		To(StateMonitoring).On(eventBegin).
		State(StateMonitoring).OnEntry(logEntry).
		To(StateAuthorizing).On(eventCaptured).
		To(StateFailed).On(eventFail).
		State(StateAuthorizing).OnEntry(logEntry).
		To(StateComparing).On(eventAccepted).
		To(StateRejected).On(eventRejected).
		To(StateFailed).On(eventFail).
		State(StateComparing).OnEntry(logEntry).
		To(StateNotifying).On(eventChanged).
		To(StateNoChange).On(eventUnchanged).
		To(StateFailed).On(eventFail).
		State(StateNotifying).OnEntry(logEntry).
		To(StateSyncing).On(eventNotified).
		State(StateSyncing).OnEntry(logEntry).
		To(StateIdle).On(eventSynced).
		To(StateFailed).On(eventFail).
		State(StateRejected).Final().
		State(StateNoChange).Final().
		State(StateFailed).Final().
		Build()

	return definition.CreateInstance()
}

func (o *Orchestrator) policyLock(ownerKey string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.locks == nil {
		o.locks = make(map[string]*sync.Mutex)
	}
	lock, ok := o.locks[ownerKey]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[ownerKey] = lock
	}
	return lock
}

// Run executes one full pipeline pass for a policy. A concurrent run
// for the same policy is refused with ErrConflict.
func (o *Orchestrator) Run(ctx context.Context, pol *policy.Policy, dryRun bool) (*RunRecord, error) {
	lock := o.policyLock(pol.OwnerKey)
	if !lock.TryLock() {
		return nil, fmt.Errorf("run already in progress for %q: %w", pol.OwnerKey, kerrors.ErrConflict)
	}
	defer lock.Unlock()

	runID := ulid.Make().String()
	ctx = logger.WithRunID(ctx, runID)
	ctx = logger.WithPolicyID(ctx, pol.OwnerKey)

	rec := &RunRecord{
		RunID:        runID,
		PolicyID:     pol.OwnerKey,
		StartedAt:    time.Now().UTC(),
		StageTimings: make(map[string]int64),
	}
	defer o.Snapshots.Release(runID)

	o.execute(ctx, pol, dryRun, rec)

	rec.FinishedAt = time.Now().UTC()
	if err := o.Runs.Append(rec); err != nil {
		slog.Error("Failed to write run record", "run_id", runID, "error", err)
	}

	o.alertIfNeeded(ctx, pol, rec)

	slog.Info("Pipeline run finished",
		"policy", pol.OwnerKey,
		"outcome", rec.Outcome,
		"run_id", runID,
	)
	return rec, nil
}

// execute walks the state machine, doing each stage's work between
// transitions. Cancellation is honored at transition boundaries only.
func (o *Orchestrator) execute(ctx context.Context, pol *policy.Policy, dryRun bool, rec *RunRecord) {
	machine := newMachine(rec.RunID)
	if err := machine.Start(); err != nil {
		o.failRun(rec, machine, err)
		return
	}

	src := o.sourceFor(pol)

	base, err := o.Baselines.Load(pol.OwnerKey)
	if errors.Is(err, kerrors.ErrNotFound) {
		o.initializeBaseline(ctx, pol, src, rec)
		return
	}
	if err != nil {
		o.failRun(rec, machine, err)
		return
	}

	// MONITORING
	if err := o.fire(ctx, machine, eventBegin); err != nil {
		o.failRun(rec, machine, err)
		return
	}
	monitorSnap, err := o.runStage(rec, StateMonitoring, func() (*snapshot.Record, error) {
		monitor := &Monitor{
			Policy:       pol,
			Source:       src,
			Snapshots:    o.Snapshots,
			Validator:    o.Validator,
			Corrector:    o.Corrector,
			MaxQueries:   o.MaxQueries,
			DriftCeiling: o.DriftCeiling,
		}
		return monitor.Run(ctx, base.Text)
	})
	if err != nil {
		o.fireFail(machine)
		o.failRun(rec, machine, err)
		return
	}
	rec.MonitorSnapshotID = monitorSnap.ID
	o.Snapshots.Retain(rec.RunID, monitorSnap.ID)

	// AUTHORIZING
	if err := o.fire(ctx, machine, eventCaptured); err != nil {
		o.failRun(rec, machine, err)
		return
	}
	var decision *Decision
	authSnap, err := o.runStage(rec, StateAuthorizing, func() (*snapshot.Record, error) {
		authorizer := &Authorizer{
			Policy:          pol,
			Source:          src,
			Snapshots:       o.Snapshots,
			Validator:       o.Validator,
			MinConfidence:   o.MinConfidence,
			FreshnessWindow: o.FreshnessWindow,
		}
		snap, d, err := authorizer.Run(ctx, monitorSnap)
		decision = d
		return snap, err
	})
	if err != nil {
		o.fireFail(machine)
		o.failRun(rec, machine, err)
		return
	}
	rec.AuthorizeSnapshotID = authSnap.ID
	rec.Decision = decision
	o.Snapshots.Retain(rec.RunID, authSnap.ID)

	if !decision.Accepted {
		if err := o.fire(ctx, machine, eventRejected); err != nil {
			o.failRun(rec, machine, err)
			return
		}
		rec.Outcome = OutcomeRejected
		return
	}

	// COMPARING
	if err := o.fire(ctx, machine, eventAccepted); err != nil {
		o.failRun(rec, machine, err)
		return
	}
	started := time.Now()
	result, err := o.Comparer.Compare(ctx, base.Text, authSnap.RawText)
	rec.StageTimings[StateComparing] = time.Since(started).Milliseconds()
	if err != nil {
		o.fireFail(machine)
		o.failRun(rec, machine, err)
		return
	}
	rec.Comparison = result

	if !result.HasChanges {
		if err := o.fire(ctx, machine, eventUnchanged); err != nil {
			o.failRun(rec, machine, err)
			return
		}
		rec.Outcome = OutcomeNoChange
		return
	}

	// NOTIFYING: failures are recorded per recipient and never block sync.
	if err := o.fire(ctx, machine, eventChanged); err != nil {
		o.failRun(rec, machine, err)
		return
	}
	started = time.Now()
	if o.Notifier != nil {
		rec.NotificationIDs = o.Notifier.NotifyChange(ctx, pol, base.Text, authSnap.RawText, result, dryRun)
	}
	rec.StageTimings[StateNotifying] = time.Since(started).Milliseconds()

	// SYNCING
	if err := o.fire(ctx, machine, eventNotified); err != nil {
		o.failRun(rec, machine, err)
		return
	}
	started = time.Now()
	err = o.sync(ctx, pol, base, authSnap.RawText, dryRun)
	rec.StageTimings[StateSyncing] = time.Since(started).Milliseconds()
	if err != nil {
		o.fireFail(machine)
		o.failRun(rec, machine, err)
		return
	}

	if err := o.fire(ctx, machine, eventSynced); err != nil {
		o.failRun(rec, machine, err)
		return
	}
	rec.Outcome = OutcomeSynced

	if o.Retention != nil && !dryRun {
		if err := o.Retention.Prune(ctx); err != nil {
			slog.Warn("Retention prune after sync failed", "error", err, "run_id", rec.RunID)
		}
	}
}

// sync pushes the accepted text to the sink, then swaps the baseline.
// Any failure here leaves the baseline untouched. Dry runs touch
// neither.
func (o *Orchestrator) sync(ctx context.Context, pol *policy.Policy, base *baseline.Baseline, newText string, dryRun bool) error {
	if dryRun {
		slog.Info("Dry run: baseline and document left untouched", "policy", pol.OwnerKey)
		return nil
	}

	if sink := o.sinkFor(pol); sink != nil {
		if err := sink.Upsert(ctx, newText); err != nil {
			return kerrors.Wrap(err, "document sync failed")
		}
	}

	if _, err := o.Baselines.Swap(pol.OwnerKey, base.Version, newText); err != nil {
		return kerrors.Wrap(err, "baseline swap failed")
	}
	return nil
}

// initializeBaseline handles the first run for a policy: capture the
// source once and accept it as the initial reference.
func (o *Orchestrator) initializeBaseline(ctx context.Context, pol *policy.Policy, src source.Source, rec *RunRecord) {
	text, err := src.Fetch(ctx)
	if err != nil {
		rec.Outcome = OutcomeFailed
		rec.Err = err.Error()
		return
	}
	if _, err := o.Baselines.Init(pol.OwnerKey, text); err != nil {
		rec.Outcome = OutcomeFailed
		rec.Err = err.Error()
		return
	}

	slog.Info("Baseline initialized", "policy", pol.OwnerKey, "run_id", rec.RunID)
	rec.Outcome = OutcomeBaselineInit
}

func (o *Orchestrator) runStage(rec *RunRecord, stage string, fn func() (*snapshot.Record, error)) (*snapshot.Record, error) {
	started := time.Now()
	snap, err := fn()
	rec.StageTimings[stage] = time.Since(started).Milliseconds()
	return snap, err
}

// fire advances the machine by one event, honoring cancellation at the
// transition boundary.
func (o *Orchestrator) fire(ctx context.Context, machine fluo.Machine, event string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	result := machine.HandleEvent(event, nil)
	if result.Error != nil {
		return result.Error
	}
	if !result.Processed {
		return kerrors.Internal(fmt.Sprintf("event %q not accepted in state %s", event, machine.CurrentState()))
	}
	return nil
}

// fireFail moves the machine to FAILED where the current state allows it.
func (o *Orchestrator) fireFail(machine fluo.Machine) {
	machine.HandleEvent(eventFail, nil)
}

func (o *Orchestrator) failRun(rec *RunRecord, machine fluo.Machine, err error) {
	rec.Outcome = OutcomeFailed
	rec.Err = err.Error()
}

func (o *Orchestrator) alertIfNeeded(ctx context.Context, pol *policy.Policy, rec *RunRecord) {
	if o.Alerter == nil {
		return
	}
	if rec.Outcome != OutcomeFailed && rec.Outcome != OutcomeRejected {
		return
	}

	message := fmt.Sprintf("kanshi: run %s for policy %q ended %s", rec.RunID, pol.Name, rec.Outcome)
	if rec.Err != "" {
		message += ": " + rec.Err
	} else if rec.Decision != nil && len(rec.Decision.Reasons) > 0 {
		message += " (" + rec.Decision.Reasons[0] + ")"
	}

	if err := o.Alerter.Alert(ctx, message); err != nil {
		slog.Warn("Ops alert failed", "error", err, "run_id", rec.RunID)
	}
}

func (o *Orchestrator) sourceFor(pol *policy.Policy) source.Source {
	if o.SourceFor != nil {
		return o.SourceFor(pol)
	}
	return source.ForURL(pol.SourceURL)
}

func (o *Orchestrator) sinkFor(pol *policy.Policy) source.Sink {
	if o.SinkFor != nil {
		return o.SinkFor(pol)
	}
	return source.SinkForURL(pol.DocURL)
}
