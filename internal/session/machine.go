package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/goodtune/drift/internal/dedup"
	"github.com/goodtune/drift/internal/metrics"
	"github.com/goodtune/drift/internal/pacing"
	"github.com/goodtune/drift/internal/quota"
	"github.com/goodtune/drift/internal/ratelimit"
	"github.com/goodtune/drift/internal/storage"
	"github.com/rs/zerolog"
)

var (
	// ErrSessionNotFound is returned by Resume when no state exists for the
	// session id.
	ErrSessionNotFound = errors.New("session: no resumable state found")

	// ErrStaleState is returned by Resume when the persisted state is older
	// than the configured TTL. The stale record is discarded; the caller
	// should start a fresh session instead.
	ErrStaleState = errors.New("session: persisted state is stale")

	errStopRequested     = errors.New("session: stop requested")
	errRateLimitExceeded = errors.New("session: rate limit persisted after cooldown")
)

const defaultPausePollInterval = 500 * time.Millisecond

// Machine drives the ordered phases of one session. It owns a single
// logical thread of control: all state mutations happen from the run loop,
// and every mutation is persisted before the next suspension point, so the
// host may kill the process at any suspension point without losing
// progress. Status is the only concurrent reader.
type Machine struct {
	cfg      Config
	store    storage.Store
	quotas   *quota.Manager
	dedup    *dedup.Tracker
	pacer    *pacing.Pacer
	monitor  *ratelimit.Monitor
	executor ActionExecutor
	source   CandidateSource
	eligible EligibilityFunc
	control  *Control
	clock    quota.Clock
	sleep    SleepFunc
	roll     func() float64
	kinds    []storage.ActionKind
	logger   zerolog.Logger

	mu          sync.Mutex
	state       storage.SessionState
	actionsDone int
}

// Options supplies the external collaborators and optional test seams.
type Options struct {
	Executor ActionExecutor  // required
	Source   CandidateSource // required
	Eligible EligibilityFunc // optional candidate filter

	Control     *Control     // optional, created if nil
	Clock       quota.Clock  // optional, defaults to system time
	Sleep       SleepFunc    // optional, defaults to timer-based sleep
	Roll        func() float64 // optional probability roll in [0,1)
	PacerSource rand.Source  // optional, for reproducible pacing draws
}

// New creates a machine for the given resolved configuration.
func New(cfg Config, store storage.Store, opts Options, logger zerolog.Logger) (*Machine, error) {
	if opts.Executor == nil {
		return nil, fmt.Errorf("session: action executor is required")
	}
	if opts.Source == nil {
		return nil, fmt.Errorf("session: candidate source is required")
	}
	if len(cfg.Phases) == 0 {
		return nil, fmt.Errorf("session: at least one phase is required")
	}

	clock := opts.Clock
	if clock == nil {
		clock = quota.RealClock{}
	}
	control := opts.Control
	if control == nil {
		control = NewControl()
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = defaultSleep
	}
	roll := opts.Roll
	if roll == nil {
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		roll = rng.Float64
	}
	if cfg.PausePollInterval <= 0 {
		cfg.PausePollInterval = defaultPausePollInterval
	}

	var pacer *pacing.Pacer
	if opts.PacerSource != nil {
		pacer = pacing.NewPacerWithSource(cfg.PacingRanges, cfg.EscalationFactor, opts.PacerSource)
	} else {
		pacer = pacing.NewPacer(cfg.PacingRanges, cfg.EscalationFactor)
	}

	tracker, err := dedup.NewTracker(store.Dedup(), cfg.DedupCap, logger)
	if err != nil {
		return nil, err
	}

	m := &Machine{
		cfg:      cfg,
		store:    store,
		quotas:   quota.NewManager(store.Quotas(), cfg.SessionCaps, cfg.DailyCaps, clock, logger),
		dedup:    tracker,
		pacer:    pacer,
		monitor:  ratelimit.NewMonitor(cfg.RateLimitCooldown, logger),
		executor: opts.Executor,
		source:   opts.Source,
		eligible: opts.Eligible,
		control:  control,
		clock:    clock,
		sleep:    sleep,
		roll:     roll,
		kinds:    cfg.Kinds(),
		logger:   logger.With().Str("component", "session").Str("session_id", cfg.SessionID).Logger(),
	}
	return m, nil
}

func defaultSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Control returns the machine's control channel.
func (m *Machine) Control() *Control {
	return m.control
}

// Status returns a copy of the current session state.
func (m *Machine) Status() storage.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.state
	state.Counters = copyCounters(m.state.Counters)
	return state
}

// Log returns the append-only action log for this session.
func (m *Machine) Log(ctx context.Context) ([]storage.ActionLogEntry, error) {
	return m.store.Logs().List(ctx, m.cfg.SessionID)
}

// Start begins or transparently resumes the session: existing live state is
// picked up at the persisted phase index, stale or terminal state is
// discarded and a fresh run begins.
func (m *Machine) Start(ctx context.Context) (Outcome, error) {
	existing, err := m.store.Sessions().Get(ctx, m.cfg.SessionID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return OutcomeAborted, fmt.Errorf("load session state: %w", err)
	}

	switch {
	case existing == nil, existing.Status.Terminal():
		if err := m.initFresh(ctx); err != nil {
			return OutcomeAborted, err
		}
	case m.isStale(existing):
		m.logger.Warn().
			Time("updated_at", existing.UpdatedAt).
			Dur("ttl", m.cfg.StaleTTL).
			Msg("Discarding stale session state")
		if err := m.discard(ctx); err != nil {
			return OutcomeAborted, err
		}
		if err := m.initFresh(ctx); err != nil {
			return OutcomeAborted, err
		}
	default:
		if err := m.adopt(ctx, existing); err != nil {
			return OutcomeAborted, err
		}
	}

	return m.run(ctx)
}

// Resume re-enters an interrupted session. Unlike Start it refuses to run
// without usable persisted state.
func (m *Machine) Resume(ctx context.Context) (Outcome, error) {
	existing, err := m.store.Sessions().Get(ctx, m.cfg.SessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return OutcomeAborted, ErrSessionNotFound
		}
		return OutcomeAborted, fmt.Errorf("load session state: %w", err)
	}
	if existing.Status.Terminal() {
		return OutcomeAborted, ErrSessionNotFound
	}
	if m.isStale(existing) {
		if err := m.discard(ctx); err != nil {
			return OutcomeAborted, err
		}
		return OutcomeAborted, ErrStaleState
	}

	if err := m.adopt(ctx, existing); err != nil {
		return OutcomeAborted, err
	}
	return m.run(ctx)
}

func (m *Machine) isStale(state *storage.SessionState) bool {
	if m.cfg.StaleTTL <= 0 {
		return false
	}
	return m.clock.Now().Sub(state.UpdatedAt) > m.cfg.StaleTTL
}

func (m *Machine) initFresh(ctx context.Context) error {
	now := m.clock.Now()
	m.mu.Lock()
	m.state = storage.SessionState{
		SessionID: m.cfg.SessionID,
		Account:   m.cfg.Account,
		Purpose:   m.cfg.Purpose,
		Counters:  make(map[storage.ActionKind]int),
		Status:    storage.StatusRunning,
		StartedAt: now,
		UpdatedAt: now,
	}
	m.mu.Unlock()

	if err := m.dedup.Load(ctx, m.kinds); err != nil {
		return err
	}
	if err := m.checkpoint(ctx); err != nil {
		return err
	}

	m.logger.Info().
		Str("account", m.cfg.Account).
		Str("purpose", m.cfg.Purpose).
		Int("phases", len(m.cfg.Phases)).
		Bool("dry_run", m.cfg.DryRun).
		Msg("Session started")
	return nil
}

func (m *Machine) adopt(ctx context.Context, existing *storage.SessionState) error {
	m.mu.Lock()
	m.state = *existing
	if m.state.Counters == nil {
		m.state.Counters = make(map[storage.ActionKind]int)
	}
	m.state.Status = storage.StatusRunning
	m.mu.Unlock()

	m.quotas.SetCounts(existing.Counters)
	// The persisted counters are the authoritative total; a machine that
	// re-enters after a boundary suspension must not add them on top of
	// its own running count.
	m.actionsDone = 0
	for _, count := range existing.Counters {
		m.actionsDone += count
	}

	if err := m.dedup.Load(ctx, m.kinds); err != nil {
		return err
	}
	if err := m.checkpoint(ctx); err != nil {
		return err
	}

	m.logger.Info().
		Int("phase_index", existing.CurrentPhaseIndex).
		Str("phase_cursor", existing.PhaseCursor).
		Msg("Session resumed from checkpoint")
	return nil
}

func (m *Machine) discard(ctx context.Context) error {
	if err := m.store.Sessions().Delete(ctx, m.cfg.SessionID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("discard session state: %w", err)
	}
	if _, err := m.store.Logs().DeleteSession(ctx, m.cfg.SessionID); err != nil {
		return fmt.Errorf("discard session log: %w", err)
	}
	return nil
}

// run executes phases from the persisted phase index onward. It returns
// OutcomeSuspended after a boundary phase so the caller can let the host
// settle before re-entering.
func (m *Machine) run(ctx context.Context) (Outcome, error) {
	for {
		m.mu.Lock()
		index := m.state.CurrentPhaseIndex
		m.mu.Unlock()
		if index >= len(m.cfg.Phases) {
			break
		}
		phase := m.cfg.Phases[index]

		if err := m.pollControl(ctx); err != nil {
			return m.finishOnErr(ctx, err)
		}

		m.logger.Info().Str("phase", phase.Name).Int("index", index).Msg("Entering phase")

		if err := m.runPhase(ctx, phase); err != nil {
			return m.finishOnErr(ctx, err)
		}

		m.mu.Lock()
		m.state.CurrentPhaseIndex = index + 1
		m.state.PhaseCursor = ""
		m.mu.Unlock()
		if err := m.checkpoint(ctx); err != nil {
			return OutcomeAborted, err
		}
		metrics.PhasesCompletedTotal.WithLabelValues(phase.Name).Inc()
		m.logger.Info().Str("phase", phase.Name).Msg("Phase complete")

		if index+1 >= len(m.cfg.Phases) {
			break
		}

		if phase.Boundary {
			// State is durable; the caller must re-enter after the host
			// transition settles.
			m.logger.Info().Str("phase", phase.Name).Msg("Boundary phase complete, suspending for host transition")
			return OutcomeSuspended, nil
		}

		if err := m.pause(ctx, pacing.CategoryBetweenPhases); err != nil {
			return m.finishOnErr(ctx, err)
		}
	}

	return m.complete(ctx)
}

func (m *Machine) finishOnErr(ctx context.Context, err error) (Outcome, error) {
	switch {
	case errors.Is(err, errStopRequested):
		return m.abort(ctx, "stop requested")
	case errors.Is(err, errRateLimitExceeded):
		return m.abort(ctx, "rate limited")
	default:
		// Storage failures and context cancellation propagate; persisted
		// state stays resumable.
		return OutcomeAborted, err
	}
}

// runPhase processes candidates in discovery order until the iteration
// budget is spent, the source is exhausted, or every configured action kind
// has consumed its session quota.
func (m *Machine) runPhase(ctx context.Context, phase Phase) error {
	iter, err := m.source.Candidates(ctx, phase.Name)
	if err != nil {
		return fmt.Errorf("open candidate source for %s: %w", phase.Name, err)
	}

	// Settle on the freshly entered surface before any work.
	if err := m.pause(ctx, pacing.CategoryReadingPause); err != nil {
		return err
	}

	m.mu.Lock()
	cursor := m.state.PhaseCursor
	m.mu.Unlock()
	skipping := cursor != ""

	units := 0
	for units < phase.MaxUnits {
		if err := m.pollControl(ctx); err != nil {
			return err
		}
		if m.sessionQuotasExhausted() {
			m.logger.Info().Str("phase", phase.Name).Msg("All session quotas consumed, ending phase early")
			return nil
		}

		candidate, err := iter.Next(ctx)
		if err != nil {
			return fmt.Errorf("next candidate in %s: %w", phase.Name, err)
		}
		if candidate == nil {
			if !skipping {
				return nil
			}
			// The cursor target is gone from the feed. Replay from the top;
			// the dedup sets keep already-actioned targets no-ops, so only
			// genuinely new candidates get work.
			m.logger.Warn().
				Str("phase", phase.Name).
				Str("cursor", cursor).
				Msg("Phase cursor not found in feed, replaying from the top")
			skipping = false
			iter, err = m.source.Candidates(ctx, phase.Name)
			if err != nil {
				return fmt.Errorf("reopen candidate source for %s: %w", phase.Name, err)
			}
			continue
		}

		// After a reset the source restarts from the top; fast-forward past
		// the persisted cursor before doing real work.
		if skipping {
			if candidate.TargetID == cursor {
				skipping = false
			}
			continue
		}

		processed, err := m.processUnit(ctx, *candidate)
		if err != nil {
			return err
		}
		if !processed {
			// Scrolled past without engaging.
			if err := m.pause(ctx, pacing.CategoryScrollPause); err != nil {
				return err
			}
			continue
		}
		units++

		m.mu.Lock()
		m.state.PhaseCursor = candidate.TargetID
		m.mu.Unlock()
		if err := m.checkpoint(ctx); err != nil {
			return err
		}

		if err := m.pause(ctx, pacing.CategoryBetweenActions); err != nil {
			return err
		}
	}
	return nil
}

// processUnit applies the configured action kinds to one candidate. The
// returned bool reports whether the unit counted against the phase budget.
func (m *Machine) processUnit(ctx context.Context, candidate Candidate) (bool, error) {
	if m.eligible != nil && !m.eligible(candidate) {
		metrics.SkipsTotal.WithLabelValues("unit", "ineligible").Inc()
		return false, nil
	}

	for _, kind := range m.kinds {
		if m.cfg.Weights[kind] <= 0 {
			continue
		}
		if m.dedup.Seen(kind, candidate.TargetID) {
			metrics.SkipsTotal.WithLabelValues(string(kind), "dedup").Inc()
			continue
		}
		if m.roll() >= m.cfg.Weights[kind] {
			metrics.SkipsTotal.WithLabelValues(string(kind), "probability").Inc()
			continue
		}

		reserved, err := m.quotas.TryReserve(ctx, kind)
		if err != nil {
			return false, err
		}
		if !reserved {
			// QuotaExhausted is a normal skip signal, never an error.
			metrics.SkipsTotal.WithLabelValues(string(kind), "quota").Inc()
			continue
		}

		if err := m.performAction(ctx, kind, candidate.TargetID); err != nil {
			return false, err
		}
	}
	return true, nil
}

// performAction invokes the executor for one reserved action and folds the
// outcome into dedup, the action log, and the rate limit monitor.
func (m *Machine) performAction(ctx context.Context, kind storage.ActionKind, targetID string) error {
	result, err := m.attempt(ctx, kind, targetID)
	if err != nil {
		// Transient executor failure: logged and skipped, never aborts the
		// phase.
		m.logger.Warn().
			Err(err).
			Str("kind", string(kind)).
			Str("target_id", targetID).
			Msg("Action executor failure, skipping unit action")
		metrics.ActionsTotal.WithLabelValues(string(kind), "error").Inc()
		m.appendLog(ctx, kind, targetID, "error")
		return m.checkpoint(ctx)
	}

	if result.RateLimited {
		metrics.RateLimitSignalsTotal.Inc()
		metrics.ActionsTotal.WithLabelValues(string(kind), "rate_limited").Inc()
		m.appendLog(ctx, kind, targetID, "rate_limited")
		state := m.monitor.Observe(true)
		if err := m.checkpoint(ctx); err != nil {
			return err
		}
		if state == ratelimit.StateExceeded {
			return errRateLimitExceeded
		}
		// One cooldown-and-retry cycle; the next throttle signal is
		// terminal.
		return m.coolDown(ctx)
	}
	m.monitor.Observe(false)

	outcome := "failed"
	if result.Success {
		outcome = "ok"
		if m.cfg.DryRun {
			outcome = "dry_run"
		}
		m.mu.Lock()
		m.actionsDone++
		m.mu.Unlock()
		if err := m.dedup.Record(ctx, kind, targetID); err != nil {
			return err
		}
	}
	metrics.ActionsTotal.WithLabelValues(string(kind), outcome).Inc()
	m.appendLog(ctx, kind, targetID, outcome)

	m.logger.Debug().
		Str("kind", string(kind)).
		Str("target_id", targetID).
		Str("outcome", outcome).
		Msg("Action performed")

	return m.checkpoint(ctx)
}

func (m *Machine) attempt(ctx context.Context, kind storage.ActionKind, targetID string) (AttemptResult, error) {
	if m.cfg.DryRun {
		return AttemptResult{Success: true}, nil
	}
	return m.executor.Attempt(ctx, kind, targetID)
}

// coolDown suspends for the fixed rate-limit cooldown. State is already
// durable when this is called.
func (m *Machine) coolDown(ctx context.Context) error {
	cooldown := m.monitor.Cooldown()
	m.logger.Warn().Dur("cooldown", cooldown).Msg("Suspending for rate limit cooldown")
	if err := m.sleep(ctx, cooldown); err != nil {
		return err
	}
	return m.pollControl(ctx)
}

// pause takes one pacing delay. The checkpoint preceding it has already
// made state durable, so this is a legal kill point.
func (m *Machine) pause(ctx context.Context, category pacing.Category) error {
	m.mu.Lock()
	done := m.actionsDone
	m.mu.Unlock()

	delay := m.pacer.DelayFor(category, done)
	if delay <= 0 {
		return m.pollControl(ctx)
	}
	metrics.PacingDelaySeconds.WithLabelValues(string(category)).Observe(delay.Seconds())
	if err := m.sleep(ctx, delay); err != nil {
		return err
	}
	return m.pollControl(ctx)
}

// pollControl services pause and stop requests. Pausing persists a Paused
// status and busy-waits at the poll interval until resumed or stopped.
func (m *Machine) pollControl(ctx context.Context) error {
	if m.control.Stopped() {
		return errStopRequested
	}
	if !m.control.Paused() {
		return nil
	}

	m.setStatus(storage.StatusPaused, "")
	if err := m.checkpoint(ctx); err != nil {
		return err
	}
	m.logger.Info().Msg("Session paused")

	for m.control.Paused() && !m.control.Stopped() {
		if err := m.sleep(ctx, m.cfg.PausePollInterval); err != nil {
			return err
		}
	}
	if m.control.Stopped() {
		return errStopRequested
	}

	m.setStatus(storage.StatusRunning, "")
	if err := m.checkpoint(ctx); err != nil {
		return err
	}
	m.logger.Info().Msg("Session resumed")
	return nil
}

func (m *Machine) sessionQuotasExhausted() bool {
	counts := m.quotas.Counts()
	for _, kind := range m.kinds {
		if m.cfg.Weights[kind] <= 0 {
			continue
		}
		if counts[kind] < m.cfg.SessionCaps[kind] {
			return false
		}
	}
	return len(m.kinds) > 0
}

func (m *Machine) complete(ctx context.Context) (Outcome, error) {
	m.setStatus(storage.StatusCompleted, "")
	if err := m.checkpoint(ctx); err != nil {
		return OutcomeAborted, err
	}
	if err := m.writeHistory(ctx); err != nil {
		return OutcomeAborted, err
	}
	// Normal completion deletes the resumable record; the history summary
	// and action log remain.
	if err := m.store.Sessions().Delete(ctx, m.cfg.SessionID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return OutcomeAborted, fmt.Errorf("delete completed session: %w", err)
	}
	metrics.SessionsTotal.WithLabelValues(string(storage.StatusCompleted)).Inc()
	m.logger.Info().Interface("counters", m.quotas.Counts()).Msg("Session completed")
	return OutcomeCompleted, nil
}

func (m *Machine) abort(ctx context.Context, reason string) (Outcome, error) {
	m.setStatus(storage.StatusAborted, reason)
	if err := m.checkpoint(ctx); err != nil {
		return OutcomeAborted, err
	}
	if err := m.writeHistory(ctx); err != nil {
		return OutcomeAborted, err
	}
	metrics.SessionsTotal.WithLabelValues(string(storage.StatusAborted)).Inc()
	m.logger.Warn().Str("reason", reason).Msg("Session aborted")
	return OutcomeAborted, nil
}

func (m *Machine) writeHistory(ctx context.Context) error {
	entries, err := m.store.Logs().List(ctx, m.cfg.SessionID)
	if err != nil {
		return fmt.Errorf("list action log: %w", err)
	}
	unique := make(map[string]bool)
	for _, entry := range entries {
		if entry.Outcome == "ok" || entry.Outcome == "dry_run" {
			unique[entry.TargetID] = true
		}
	}

	m.mu.Lock()
	record := storage.HistoryRecord{
		SessionID:     m.state.SessionID,
		Status:        m.state.Status,
		StartedAt:     m.state.StartedAt,
		EndedAt:       m.clock.Now(),
		Counters:      copyCounters(m.state.Counters),
		UniqueTargets: len(unique),
	}
	m.mu.Unlock()

	if err := m.store.History().Append(ctx, record, m.cfg.HistoryCap); err != nil {
		return fmt.Errorf("append history record: %w", err)
	}
	return nil
}

func (m *Machine) setStatus(status storage.Status, reason string) {
	m.mu.Lock()
	m.state.Status = status
	m.state.AbortReason = reason
	m.mu.Unlock()
}

// checkpoint persists the session state synchronously. Every suspension
// point and externally visible action is preceded by one of these writes.
func (m *Machine) checkpoint(ctx context.Context) error {
	m.mu.Lock()
	m.state.Counters = m.quotas.Counts()
	m.state.UpdatedAt = m.clock.Now()
	state := m.state
	m.mu.Unlock()

	if err := m.store.Sessions().Save(ctx, state); err != nil {
		return fmt.Errorf("checkpoint session state: %w", err)
	}
	metrics.CheckpointsTotal.Inc()
	return nil
}

func (m *Machine) appendLog(ctx context.Context, kind storage.ActionKind, targetID, outcome string) {
	entry := storage.ActionLogEntry{
		SessionID: m.cfg.SessionID,
		Kind:      kind,
		TargetID:  targetID,
		Timestamp: m.clock.Now(),
		Outcome:   outcome,
	}
	// The log is reporting data only; a failed append must not disturb the
	// control flow.
	if err := m.store.Logs().Append(ctx, entry); err != nil {
		m.logger.Error().Err(err).Msg("Failed to append action log entry")
	}
}

func copyCounters(counters map[storage.ActionKind]int) map[storage.ActionKind]int {
	out := make(map[storage.ActionKind]int, len(counters))
	for kind, count := range counters {
		out[kind] = count
	}
	return out
}
