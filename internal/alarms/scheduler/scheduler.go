// Package scheduler drives evaluation cycles: it decides which alarms are
// due, fans evaluation out over a bounded worker pool and isolates
// per-alarm failures from the rest of the cycle.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"cloud-alarming/internal/alarms/application"
	alarms "cloud-alarming/internal/alarms/domain"
	"cloud-alarming/internal/alarms/evaluator"
	"cloud-alarming/internal/alarms/graph"
	"cloud-alarming/internal/observability/metrics"
)

const defaultCronSpec = "@every 1m"

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Scheduler runs evaluation cycles on a cron cadence.
type Scheduler struct {
	store    alarms.Store
	eval     *evaluator.Evaluator
	machine  *application.StateMachine
	logger   *zap.Logger
	clock    Clock
	workers  int
	grace    time.Duration
	cronSpec string
	// cadence is the re-evaluation interval for alarms without their own
	// granularity (event and combination rules).
	cadence time.Duration

	cron    *cron.Cron
	baseCtx context.Context

	mu            sync.Mutex
	inflight      map[string]bool
	lastEvaluated map[string]time.Time

	wg sync.WaitGroup
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithWorkers bounds concurrent evaluations.
func WithWorkers(workers int) Option {
	return func(s *Scheduler) {
		if workers > 0 {
			s.workers = workers
		}
	}
}

// WithGrace sets the shutdown drain deadline.
func WithGrace(grace time.Duration) Option {
	return func(s *Scheduler) {
		if grace > 0 {
			s.grace = grace
		}
	}
}

// WithCronSpec overrides the cycle cadence (robfig/cron syntax).
func WithCronSpec(spec string) Option {
	return func(s *Scheduler) {
		if spec != "" {
			s.cronSpec = spec
		}
	}
}

// WithCadence overrides the default re-evaluation interval for event and
// combination alarms.
func WithCadence(cadence time.Duration) Option {
	return func(s *Scheduler) {
		if cadence > 0 {
			s.cadence = cadence
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(s *Scheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New constructs a scheduler.
func New(store alarms.Store, eval *evaluator.Evaluator, machine *application.StateMachine, logger *zap.Logger, opts ...Option) (*Scheduler, error) {
	if store == nil {
		return nil, errors.New("scheduler: nil store")
	}
	if eval == nil {
		return nil, errors.New("scheduler: nil evaluator")
	}
	if machine == nil {
		return nil, errors.New("scheduler: nil state machine")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		store:         store,
		eval:          eval,
		machine:       machine,
		logger:        logger,
		clock:         systemClock{},
		workers:       8,
		grace:         30 * time.Second,
		cronSpec:      defaultCronSpec,
		cadence:       time.Minute,
		inflight:      make(map[string]bool),
		lastEvaluated: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start begins the cron-driven cycle loop. The context bounds all work the
// scheduler spawns.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cron != nil {
		return errors.New("scheduler: already started")
	}
	s.baseCtx = ctx
	c := cron.New()
	if _, err := c.AddFunc(s.cronSpec, s.runScheduled); err != nil {
		return fmt.Errorf("scheduler: invalid cron spec %q: %w", s.cronSpec, err)
	}
	s.cron = c
	c.Start()
	return nil
}

// Stop halts new cycles and drains in-flight evaluations up to the grace
// deadline; the remainder is abandoned, not corrupted.
func (s *Scheduler) Stop() error {
	if s.cron != nil {
		s.cron.Stop()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(s.grace):
		return errors.New("scheduler: drain abandoned after grace period")
	}
}

func (s *Scheduler) runScheduled() {
	s.wg.Add(1)
	defer s.wg.Done()
	ctx := s.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.RunCycle(ctx, s.clock.Now().UTC()); err != nil {
		s.logger.Error("evaluation cycle failed", zap.Error(err))
	}
}

// RunCycle evaluates every due alarm once. Leaf alarms (threshold, event)
// run in parallel on the worker pool; combination alarms run afterwards in
// dependency order, so every child's state is committed before its parents
// read it. Per-alarm failures are logged and skipped, never fatal to the
// cycle.
func (s *Scheduler) RunCycle(ctx context.Context, now time.Time) error {
	started := time.Now()
	snapshot, err := s.store.LoadEnabledAlarms(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: load alarms: %w", err)
	}

	resolver := graph.NewResolver(snapshot)
	if err := resolver.Validate(); err != nil {
		var cycleErr *alarms.CycleError
		if !errors.As(err, &cycleErr) {
			return fmt.Errorf("scheduler: graph validation: %w", err)
		}
		s.logger.Error("combination dependency cycle detected",
			zap.Strings("members", cycleErr.Members))
	}
	order, skipped := resolver.Order()
	for range skipped {
		metrics.IncSkipped(metrics.SkipCycle)
	}

	byID := make(map[string]alarms.Alarm, len(snapshot))
	for _, alarm := range snapshot {
		byID[alarm.ID] = alarm
	}
	cycle := newCycleState(snapshot)

	// Phase 1: leaves in parallel, bounded by the worker pool.
	sem := make(chan struct{}, s.workers)
	var leaves sync.WaitGroup
	for _, id := range order {
		alarm, ok := byID[id]
		if !ok || alarm.Rule.Type == alarms.RuleTypeCombination {
			continue
		}
		if !s.due(alarm, now) {
			metrics.IncSkipped(metrics.SkipNotDue)
			continue
		}
		if !s.claim(alarm.ID) {
			metrics.IncSkipped(metrics.SkipInflight)
			continue
		}
		leaves.Add(1)
		s.wg.Add(1)
		sem <- struct{}{}
		go func(alarm alarms.Alarm) {
			defer func() {
				<-sem
				s.release(alarm.ID)
				s.wg.Done()
				leaves.Done()
			}()
			s.evaluateOne(ctx, alarm, now, cycle)
		}(alarm)
	}
	leaves.Wait()

	// Phase 2: combination alarms, children already committed.
	for _, id := range order {
		alarm, ok := byID[id]
		if !ok || alarm.Rule.Type != alarms.RuleTypeCombination {
			continue
		}
		if !s.due(alarm, now) {
			metrics.IncSkipped(metrics.SkipNotDue)
			continue
		}
		if !s.claim(alarm.ID) {
			metrics.IncSkipped(metrics.SkipInflight)
			continue
		}
		s.evaluateOne(ctx, alarm, now, cycle)
		s.release(alarm.ID)
	}

	metrics.ObserveCycle(time.Since(started))
	return nil
}

func (s *Scheduler) evaluateOne(ctx context.Context, alarm alarms.Alarm, now time.Time, cycle *cycleState) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncEvaluation(metrics.ResultFailure)
			s.logger.Error("evaluation panicked",
				zap.String("alarm_id", alarm.ID),
				zap.Any("panic", r))
		}
	}()

	verdict, err := s.eval.Evaluate(ctx, alarm, evaluator.Input{
		Now:        now,
		Since:      s.lastEvaluatedAt(alarm.ID),
		ChildState: cycle.get,
	})
	if err != nil {
		metrics.IncEvaluation(metrics.ResultFailure)
		evalErr := &alarms.EvaluationError{AlarmID: alarm.ID, Err: err}
		s.logger.Error("evaluation failed", zap.Error(evalErr))
		// Left for the next cycle; lastEvaluated stays put.
		return
	}

	newState, err := s.machine.Apply(ctx, alarm, verdict)
	if err != nil {
		metrics.IncEvaluation(metrics.ResultFailure)
		s.logger.Error("state transition failed",
			zap.String("alarm_id", alarm.ID),
			zap.Error(err))
		return
	}
	cycle.set(alarm.ID, newState)
	s.markEvaluated(alarm.ID, now)

	if verdict.None {
		metrics.IncEvaluation(metrics.ResultNoVerdict)
		return
	}
	metrics.IncEvaluation(string(verdict.State))
}

// due computes next_due from the alarm's cadence and last evaluation. At
// most one evaluation is scheduled per due check, so missed cycles never
// cause catch-up storms.
func (s *Scheduler) due(alarm alarms.Alarm, now time.Time) bool {
	cadence := s.cadence
	if alarm.Rule.Type == alarms.RuleTypeThreshold && alarm.Rule.Threshold != nil {
		cadence = alarm.Rule.Threshold.Granularity
	}
	last := s.lastEvaluatedAt(alarm.ID)
	if last.IsZero() {
		return true
	}
	return now.Sub(last) >= cadence
}

func (s *Scheduler) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[id] {
		return false
	}
	s.inflight[id] = true
	return true
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, id)
}

func (s *Scheduler) lastEvaluatedAt(id string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEvaluated[id]
}

func (s *Scheduler) markEvaluated(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastEvaluated[id] = at
}

// cycleState is the per-cycle snapshot of committed states that combination
// alarms read. It starts from the stored states and is updated as the
// state machine commits transitions within the cycle.
type cycleState struct {
	mu     sync.RWMutex
	states map[string]alarms.State
}

func newCycleState(snapshot []alarms.Alarm) *cycleState {
	states := make(map[string]alarms.State, len(snapshot))
	for _, alarm := range snapshot {
		states[alarm.ID] = alarm.State
	}
	return &cycleState{states: states}
}

func (c *cycleState) get(id string) (alarms.State, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	state, ok := c.states[id]
	return state, ok
}

func (c *cycleState) set(id string, state alarms.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[id] = state
}
