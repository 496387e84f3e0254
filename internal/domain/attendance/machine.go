package attendance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okian/fieldpresence/internal/domain/geofence"
	"github.com/okian/fieldpresence/internal/domain/model"
	"github.com/okian/fieldpresence/pkg/logger"
)

// Default timings.
const (
	DefaultDebounce      = 500 * time.Millisecond
	DefaultRetryCooldown = 10 * time.Second
)

// Token identifies one armed timer. A fired token that no longer matches
// the machine's current token is stale and ignored.
type Token uint64

// Timers arms one-shot timers. When d elapses the owner must call
// Machine.Fire with tok from the machine's execution context.
type Timers interface {
	After(d time.Duration, tok Token) (cancel func())
}

// Submitter issues the registration call asynchronously. The outcome must
// be delivered back through Machine.Complete.
type Submitter interface {
	Submit(ctx context.Context, sub Submission)
}

// Poller controls the live position-polling task.
type Poller interface {
	SuspendPolling()
	ResumePolling()
}

// Submission is the payload of one registration attempt.
type Submission struct {
	ID        string // idempotency key, unique per attempt
	BranchID  int64
	Latitude  float64
	Longitude float64
	Accuracy  float64
	At        time.Time
}

// Result is the outcome of a Submission.
type Result struct {
	SubmissionID string
	AttendanceID string
	Err          error
}

// Inputs is one evaluation of the gating predicates.
type Inputs struct {
	Now           time.Time
	Estimate      model.Estimate
	Match         geofence.Match
	Inside        bool // location predicate
	RecordedToday bool // server already holds a record for today
}

// Machine is the three-condition attendance trigger. It is not safe for
// concurrent use; every method must run on the engine's loop.
type Machine struct {
	window        Window
	debounce      time.Duration
	retryCooldown time.Duration

	timers    Timers
	submitter Submitter
	poller    Poller
	logger    logger.Logger

	onTransition func(Transition)
	onFailure    func(error)

	state       State
	token       Token
	cancelTimer func()
	inflight    string
	lastResult  Result
	newID       func() string
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithDebounce sets the settle time required before submitting.
func WithDebounce(d time.Duration) MachineOption {
	return func(m *Machine) {
		if d >= 0 {
			m.debounce = d
		}
	}
}

// WithRetryCooldown sets how long Failed lasts before conditions are re-checked.
func WithRetryCooldown(d time.Duration) MachineOption {
	return func(m *Machine) {
		if d >= 0 {
			m.retryCooldown = d
		}
	}
}

// WithLogger sets the machine logger.
func WithLogger(l logger.Logger) MachineOption {
	return func(m *Machine) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithTransitionObserver registers a callback for every state change.
func WithTransitionObserver(fn func(Transition)) MachineOption {
	return func(m *Machine) { m.onTransition = fn }
}

// WithFailureHandler registers a callback invoked once per failed registration.
func WithFailureHandler(fn func(error)) MachineOption {
	return func(m *Machine) { m.onFailure = fn }
}

// WithIDGenerator overrides the submission id source.
func WithIDGenerator(fn func() string) MachineOption {
	return func(m *Machine) {
		if fn != nil {
			m.newID = fn
		}
	}
}

// NewMachine creates a machine in AwaitingConditions.
func NewMachine(window Window, timers Timers, submitter Submitter, poller Poller, opts ...MachineOption) *Machine {
	m := &Machine{
		window:        window,
		debounce:      DefaultDebounce,
		retryCooldown: DefaultRetryCooldown,
		timers:        timers,
		submitter:     submitter,
		poller:        poller,
		logger:        logger.Nop(),
		state:         AwaitingConditions,
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current registration state.
func (m *Machine) State() State { return m.state }

// LastResult returns the outcome of the most recent completed submission.
func (m *Machine) LastResult() Result { return m.lastResult }

// InFlight reports whether a registration call is outstanding.
func (m *Machine) InFlight() bool { return m.state == Submitting }

// TimeOK evaluates the time predicate.
func (m *Machine) TimeOK(now time.Time) bool { return m.window.Contains(now) }

// Ready reports whether all three predicates hold for in.
func (m *Machine) Ready(in Inputs) bool {
	return m.conditionsHold(in) && m.registrationOpen()
}

// conditionsHold checks time, location and the external record; the
// state half of the registration predicate lives in registrationOpen.
func (m *Machine) conditionsHold(in Inputs) bool {
	return m.window.Contains(in.Now) && in.Inside && !in.RecordedToday
}

func (m *Machine) registrationOpen() bool {
	switch m.state {
	case Debouncing, Submitting, Registered:
		return false
	default:
		return true
	}
}

// Evaluate feeds one containment evaluation into the machine.
func (m *Machine) Evaluate(ctx context.Context, in Inputs) {
	switch m.state {
	case AwaitingConditions:
		if !m.Ready(in) {
			return
		}
		m.move(ctx, Debouncing, "conditions met")
		m.arm(m.debounce)
		m.logger.Debug(ctx, "debounce armed",
			logger.Int("token", int(m.token)),
			logger.Int("branch_id", int(in.Match.Branch.ID)),
			logger.Duration("hold", m.debounce),
		)
	case Debouncing:
		if m.conditionsHold(in) {
			return
		}
		m.disarm()
		m.move(ctx, AwaitingConditions, "condition lost while debouncing")
	case Submitting, Registered, Failed:
	}
}

// Fire delivers an expired timer. Stale tokens are ignored and reported
// as false.
func (m *Machine) Fire(ctx context.Context, tok Token, in Inputs) bool {
	if tok != m.token || m.cancelTimer == nil {
		m.logger.Debug(ctx, "stale timer ignored", logger.Int("token", int(tok)), logger.String("state", m.state.String()))
		return false
	}
	m.cancelTimer = nil

	switch m.state {
	case Debouncing:
		if !m.conditionsHold(in) {
			m.move(ctx, AwaitingConditions, "condition lost at debounce expiry")
			return true
		}
		m.submit(ctx, in)
	case Failed:
		m.move(ctx, AwaitingConditions, "retry cooldown elapsed")
	default:
		return false
	}
	return true
}

// Complete delivers the outcome of the in-flight submission. Outcomes for
// any other submission are ignored.
func (m *Machine) Complete(ctx context.Context, res Result) bool {
	if m.state != Submitting || res.SubmissionID != m.inflight {
		m.logger.Warn(ctx, "unexpected registration result ignored",
			logger.String("submission_id", res.SubmissionID),
			logger.String("state", m.state.String()),
		)
		return false
	}
	m.inflight = ""
	m.lastResult = res
	m.poller.ResumePolling()

	if res.Err == nil {
		m.move(ctx, Registered, "registration accepted")
		m.logger.Info(ctx, "attendance registered", logger.String("attendance_id", res.AttendanceID))
		return true
	}

	m.move(ctx, Failed, res.Err.Error())
	m.logger.Warn(ctx, "attendance registration failed", logger.Error(res.Err), logger.Duration("retry_in", m.retryCooldown))
	if m.onFailure != nil {
		m.onFailure(res.Err)
	}
	m.arm(m.retryCooldown)
	return true
}

// Reset returns the machine to AwaitingConditions, for example at the
// start of a new working day. It refuses while a call is in flight.
func (m *Machine) Reset(ctx context.Context, reason string) error {
	if m.state == Submitting {
		return ErrResetInFlight
	}
	m.disarm()
	if m.state == AwaitingConditions {
		return nil
	}
	from := m.state
	m.state = AwaitingConditions
	m.notify(ctx, Transition{From: from, To: AwaitingConditions, Reason: "reset: " + reason})
	return nil
}

// Stop cancels any armed timer. The state is left as is.
func (m *Machine) Stop() {
	m.disarm()
}

func (m *Machine) submit(ctx context.Context, in Inputs) {
	sub := Submission{
		ID:        m.newID(),
		BranchID:  in.Match.Branch.ID,
		Latitude:  in.Estimate.Latitude,
		Longitude: in.Estimate.Longitude,
		Accuracy:  in.Estimate.Accuracy,
		At:        in.Now,
	}
	m.move(ctx, Submitting, "debounce elapsed")
	m.inflight = sub.ID
	m.poller.SuspendPolling()
	m.logger.Info(ctx, "submitting attendance registration",
		logger.String("submission_id", sub.ID),
		logger.Int("branch_id", int(sub.BranchID)),
		logger.Float64("accuracy", sub.Accuracy),
	)
	m.submitter.Submit(ctx, sub)
}

func (m *Machine) arm(d time.Duration) {
	m.disarm()
	m.token++
	m.cancelTimer = m.timers.After(d, m.token)
	if m.cancelTimer == nil {
		m.cancelTimer = func() {}
	}
}

func (m *Machine) disarm() {
	if m.cancelTimer != nil {
		m.cancelTimer()
		m.cancelTimer = nil
	}
	// Bump the token so a timer that already fired but has not been
	// delivered yet is recognised as stale.
	m.token++
}

func (m *Machine) move(ctx context.Context, to State, reason string) {
	if !CanTransition(m.state, to) {
		// The switch statements above only request legal edges.
		panic(fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, m.state, to))
	}
	from := m.state
	m.state = to
	m.notify(ctx, Transition{From: from, To: to, Reason: reason})
}

func (m *Machine) notify(ctx context.Context, t Transition) {
	m.logger.Debug(ctx, "registration state changed",
		logger.String("from", t.From.String()),
		logger.String("to", t.To.String()),
		logger.String("reason", t.Reason),
	)
	if m.onTransition != nil {
		m.onTransition(t)
	}
}
