// Package service runs the presence engine: one loop goroutine owns the
// estimator, the attendance machine, the AWOL monitor and the telemetry
// buffer, and everything else talks to it through messages.
package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/okian/fieldpresence/internal/adapters/http/client"
	eventqueue "github.com/okian/fieldpresence/internal/adapters/mq/queue"
	workerpool "github.com/okian/fieldpresence/internal/adapters/mq/worker"
	"github.com/okian/fieldpresence/internal/adapters/repository"
	"github.com/okian/fieldpresence/internal/domain/attendance"
	"github.com/okian/fieldpresence/internal/domain/awol"
	"github.com/okian/fieldpresence/internal/domain/cooldown"
	"github.com/okian/fieldpresence/internal/domain/estimator"
	"github.com/okian/fieldpresence/internal/domain/geofence"
	"github.com/okian/fieldpresence/internal/domain/model"
	"github.com/okian/fieldpresence/internal/domain/telemetry"
	"github.com/okian/fieldpresence/internal/domain/types"
	"github.com/okian/fieldpresence/internal/positioning"
	"github.com/okian/fieldpresence/pkg/logger"
	"github.com/okian/fieldpresence/pkg/metrics"
)

const inboxSize = 128

// Backend is the outbound side of the engine. *client.Client implements it.
type Backend interface {
	CheckIn(ctx context.Context, in client.Checkin) (string, error)
	UploadTelemetry(ctx context.Context, batch []model.TelemetryRecord) error
	Heartbeat(ctx context.Context, est model.Estimate) ([]model.Colleague, error)
	ReportAWOL(ctx context.Context, lat, lng float64) error
}

// message runs on the loop goroutine.
type message func(ctx context.Context)

// Engine is the single execution context for all presence state.
type Engine struct {
	mu sync.Mutex

	// Configuration
	userID             string
	predictEvery       time.Duration
	exposeEvery        time.Duration
	pollEvery          time.Duration
	flushEvery         time.Duration
	heartbeatEvery     time.Duration
	debounce           time.Duration
	retryCooldown      time.Duration
	awolCooldown       time.Duration
	alertDisplay       time.Duration
	jobTimeout         time.Duration
	shutdownTimeout    time.Duration
	acquisitionTimeout time.Duration
	bufferCapacity     int
	queueSize          int
	workerCount        int
	estimatorOpts      []estimator.Option
	now                func() time.Time
	logger             logger.Logger

	// Collaborators
	backend    Backend
	matcher    *geofence.Matcher
	window     attendance.Window
	colleagues repository.Store
	source     positioning.Source
	supervisor *positioning.Supervisor
	jobs       *eventqueue.InMemoryQueue
	pool       *workerpool.Pool

	// Loop-owned state
	est              *estimator.Estimator
	machine          *attendance.Machine
	awol             *awol.Monitor
	buffer           *telemetry.Buffer
	match            geofence.Match
	inside           bool
	lastRecord       *model.TelemetryRecord
	pollingSuspended bool
	recordedToday    bool
	day              string
	lastFailure      string
	positioningErr   string
	flushing         bool
	heartbeating     bool
	submittedAt      time.Time

	// Lifecycle
	inbox    chan message
	status   atomic.Pointer[types.Status]
	running  atomic.Bool
	started  bool
	stopped  bool
	cancel   context.CancelFunc
	loopDone chan struct{}
}

// New constructs an engine for the given branches and attendance window.
// Nothing runs until Start.
func New(backend Backend, branches []model.Branch, window attendance.Window, opts ...Option) *Engine {
	e := &Engine{
		userID:          "field-worker",
		predictEvery:    100 * time.Millisecond,
		exposeEvery:     time.Second / 60,
		pollEvery:       250 * time.Millisecond,
		flushEvery:      30 * time.Second,
		heartbeatEvery:  time.Minute,
		debounce:        attendance.DefaultDebounce,
		retryCooldown:   attendance.DefaultRetryCooldown,
		awolCooldown:    cooldown.DefaultWindow,
		alertDisplay:    awol.DefaultDisplay,
		jobTimeout:      15 * time.Second,
		shutdownTimeout: 5 * time.Second,
		bufferCapacity:  telemetry.DefaultCapacity,
		queueSize:       256,
		workerCount:     4,
		now:             time.Now,
		logger:          logger.Nop(),
		backend:         backend,
		matcher:         geofence.NewMatcher(branches),
		window:          window,
		colleagues:      repository.NewMemoryStore(),
		inbox:           make(chan message, inboxSize),
		loopDone:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.est = estimator.New(e.estimatorOpts...)
	e.buffer = telemetry.NewBuffer(e.bufferCapacity)
	e.machine = attendance.NewMachine(e.window, loopTimers{e}, checkinSubmitter{e}, pollControl{e},
		attendance.WithDebounce(e.debounce),
		attendance.WithRetryCooldown(e.retryCooldown),
		attendance.WithLogger(e.logger.Named("attendance")),
		attendance.WithTransitionObserver(e.onTransition),
		attendance.WithFailureHandler(e.onFailure),
	)
	e.awol = awol.NewMonitor(
		cooldown.NewInMemoryTracker(cooldown.WithWindow(e.awolCooldown)),
		awolReporter{e},
		awol.WithDisplay(e.alertDisplay),
		awol.WithLogger(e.logger.Named("awol")),
	)
	e.publish()
	return e
}

// Start launches the outbound workers, the loop and, when configured, the
// positioning supervisor. A stopped engine cannot be restarted.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return ErrStopped
	}
	if e.started {
		return nil
	}

	e.logger.Info(ctx, "starting presence engine...")

	base := context.WithoutCancel(ctx)
	e.jobs = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(e.queueSize))
	e.pool = workerpool.NewPool(e.workerCount, e.jobs,
		workerpool.WithLogger(e.logger.Named("worker")),
		workerpool.WithJobTimeout(e.jobTimeout),
	)
	e.pool.Start(base)

	loopCtx, cancel := context.WithCancel(base)
	e.cancel = cancel
	if e.source != nil {
		e.supervisor = positioning.NewSupervisor(e.source,
			func(fix model.Fix) { _ = e.IngestFix(loopCtx, fix) },
			func(err error) { _ = e.ReportPositioningError(loopCtx, err) },
			positioning.WithTimeout(e.acquisitionTimeout),
			positioning.WithLogger(e.logger.Named("positioning")),
		)
	}

	e.running.Store(true)
	go e.run(loopCtx)
	if e.supervisor != nil {
		e.supervisor.Start(loopCtx)
	}

	e.started = true
	e.logger.Info(ctx, "presence engine started",
		logger.String("user_id", e.userID),
		logger.Int("branches", len(e.matcher.Branches())),
		logger.String("window", e.window.String()),
		logger.Int("workers", e.workerCount),
		logger.Int("queueSize", e.queueSize),
	)
	return nil
}

// Stop cancels every ticker and timer, closes the positioning
// subscription and makes one bounded attempt to upload what is buffered.
// It is safe to call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started || e.stopped {
		return
	}
	e.stopped = true

	ctx := context.Background()
	e.logger.Info(ctx, "stopping presence engine...")

	if e.supervisor != nil {
		e.supervisor.Stop()
	}
	e.running.Store(false)
	e.cancel()
	<-e.loopDone

	// The loop has exited; its state is ours now.
	e.machine.Stop()

	sctx, cancel := context.WithTimeout(ctx, e.shutdownTimeout)
	defer cancel()
	e.finalFlush(sctx)
	if err := e.pool.Shutdown(sctx); err != nil {
		e.logger.Warn(ctx, "outbound workers did not drain", logger.Error(err))
	}
	e.publish()

	e.logger.Info(ctx, "presence engine stopped")
}

// Status returns the latest published snapshot.
func (e *Engine) Status() types.Status {
	return *e.status.Load()
}

// Colleagues returns the colleague list from the last successful heartbeat.
func (e *Engine) Colleagues(ctx context.Context, limit int) (types.Colleagues, error) {
	list, at, err := e.colleagues.List(ctx, limit)
	if err != nil {
		return types.Colleagues{}, err
	}
	return types.Colleagues{Colleagues: list, UpdatedAt: at}, nil
}

// IngestFix hands a positioning fix to the loop.
func (e *Engine) IngestFix(ctx context.Context, fix model.Fix) error {
	if !fix.Valid() {
		metrics.RecordErrorByComponent("estimator", "invalid_fix")
		return fmt.Errorf("%w: fix out of range", ErrInvalidSample)
	}
	return e.send(ctx, func(ctx context.Context) { e.ingestFix(ctx, fix) })
}

// IngestMotion hands an inertial sample to the loop.
func (e *Engine) IngestMotion(ctx context.Context, s model.MotionSample) error {
	if !s.Valid() {
		metrics.RecordMotionSample(false)
		return fmt.Errorf("%w: %s sample", ErrInvalidSample, s.Kind)
	}
	return e.send(ctx, func(context.Context) {
		metrics.RecordMotionSample(e.est.IngestMotion(s))
	})
}

// ReportPositioningError records a non-fatal positioning failure.
func (e *Engine) ReportPositioningError(ctx context.Context, err error) error {
	return e.send(ctx, func(ctx context.Context) {
		kind := positioning.Kind(err)
		e.positioningErr = kind
		metrics.RecordPositioningError(kind)
	})
}

// SetRecordedToday records whether the server already holds today's
// attendance record. While it is set no registration is attempted; a
// pending debounce is abandoned on the next poll. Clearing it does not
// leave Registered; use Reset for that.
func (e *Engine) SetRecordedToday(ctx context.Context, recorded bool) error {
	return e.send(ctx, func(ctx context.Context) {
		if e.recordedToday == recorded {
			return
		}
		e.recordedToday = recorded
		e.logger.Info(ctx, "recorded-today status updated", logger.Bool("recorded_today", recorded))
	})
}

// Reset returns the registration machine to AwaitingConditions and clears
// the recorded-today flag. It fails with attendance.ErrResetInFlight
// while a check-in call is outstanding.
func (e *Engine) Reset(ctx context.Context, reason string) error {
	errc := make(chan error, 1)
	if err := e.send(ctx, func(ctx context.Context) { errc <- e.reset(ctx, reason) }); err != nil {
		return err
	}
	select {
	case err := <-errc:
		return err
	case <-e.loopDone:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) send(ctx context.Context, m message) error {
	if !e.running.Load() {
		return ErrNotRunning
	}
	select {
	case e.inbox <- m:
		return nil
	case <-e.loopDone:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post delivers a completion from a timer or worker goroutine. It is
// dropped once the loop is gone.
func (e *Engine) post(m message) {
	_ = e.send(context.Background(), m)
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.loopDone)

	predict := time.NewTicker(e.predictEvery)
	expose := time.NewTicker(e.exposeEvery)
	poll := time.NewTicker(e.pollEvery)
	flush := time.NewTicker(e.flushEvery)
	heartbeat := time.NewTicker(e.heartbeatEvery)
	defer predict.Stop()
	defer expose.Stop()
	defer poll.Stop()
	defer flush.Stop()
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case m := <-e.inbox:
			m(ctx)
		case <-predict.C:
			e.timed(ctx, "predict", e.predict)
		case <-expose.C:
			e.timed(ctx, "expose", e.expose)
		case <-poll.C:
			e.timed(ctx, "poll", e.poll)
		case <-flush.C:
			e.flush(ctx)
		case <-heartbeat.C:
			e.heartbeat(ctx)
		}
		e.publish()
	}
}

func (e *Engine) timed(ctx context.Context, task string, fn func(context.Context)) {
	start := time.Now()
	fn(ctx)
	metrics.RecordLoopTaskLatency(task, float64(time.Since(start).Microseconds())/1000)
}

func (e *Engine) ingestFix(ctx context.Context, fix model.Fix) {
	c, err := e.est.IngestFix(fix)
	if err != nil {
		metrics.RecordErrorByComponent("estimator", "invalid_fix")
		return
	}
	e.positioningErr = ""
	metrics.RecordFixIngested()
	metrics.RecordCorrection(c.Kind.String())
	if c.Kind == estimator.CorrectionSnap {
		e.logger.Debug(ctx, "estimate snapped to fix", logger.Float64("drift_m", c.Drift))
	}
}

func (e *Engine) predict(context.Context) {
	if !e.est.Initialized() {
		return
	}
	e.est.Tick(e.predictEvery, e.now())
	metrics.RecordPredictionTick()
}

// expose samples the estimate into the telemetry buffer. Consecutive
// samples that compress to the same record are stored once.
func (e *Engine) expose(context.Context) {
	if !e.est.Initialized() {
		return
	}
	est := e.est.Estimate()
	metrics.UpdateEstimate(est.Accuracy, est.Velocity)

	rec := telemetry.Compress(est)
	// Only changed records are appended, so a stationary estimate adds nothing between flushes.
	if e.lastRecord != nil && sameSample(*e.lastRecord, rec) {
		return
	}
	e.lastRecord = &rec
	if n := e.buffer.Append(rec); n > 0 {
		metrics.RecordTelemetryDropped(n)
	}
	metrics.UpdateTelemetryBufferSize(e.buffer.Len())
}

func sameSample(a, b model.TelemetryRecord) bool {
	return a.Lat == b.Lat && a.Lng == b.Lng && a.Heading == b.Heading &&
		a.Velocity == b.Velocity && a.Accuracy == b.Accuracy
}

func (e *Engine) poll(ctx context.Context) {
	now := e.now()
	e.rollover(ctx, now)
	if e.pollingSuspended || !e.est.Initialized() {
		return
	}

	in := e.inputs(now)
	metrics.RecordGeofenceEvaluation(in.Inside)
	e.machine.Evaluate(ctx, in)

	registered := e.machine.State() == attendance.Registered
	switch out := e.awol.Observe(ctx, e.userID, registered, in.Inside, in.Estimate, now); out {
	case awol.Alerted, awol.Suppressed:
		metrics.RecordAWOL(out.String())
	}
}

// inputs evaluates the geofence against the current estimate and caches
// the match for the status snapshot.
func (e *Engine) inputs(now time.Time) attendance.Inputs {
	est := e.est.Estimate()
	e.match, e.inside = geofence.Match{}, false
	if e.est.Initialized() {
		e.match, e.inside = e.matcher.Match(est)
	}
	return attendance.Inputs{
		Now:           now,
		Estimate:      est,
		Match:         e.match,
		Inside:        e.inside,
		RecordedToday: e.recordedToday,
	}
}

// rollover clears the per-day state when the local date changes.
func (e *Engine) rollover(ctx context.Context, now time.Time) {
	day := now.Format(time.DateOnly)
	if e.day == "" {
		e.day = day
		return
	}
	if day == e.day {
		return
	}
	if err := e.reset(ctx, "new day"); err != nil {
		// Submitting; try again on the next poll.
		return
	}
	e.logger.Info(ctx, "new working day", logger.String("day", day))
	e.day = day
}

func (e *Engine) reset(ctx context.Context, reason string) error {
	if err := e.machine.Reset(ctx, reason); err != nil {
		return err
	}
	e.recordedToday = false
	e.lastFailure = ""
	e.awol.Forget(e.userID)
	return nil
}

func (e *Engine) fire(ctx context.Context, tok attendance.Token) {
	e.machine.Fire(ctx, tok, e.inputs(e.now()))
}

func (e *Engine) complete(ctx context.Context, res attendance.Result) {
	ms := float64(e.now().Sub(e.submittedAt).Microseconds()) / 1000
	if !e.machine.Complete(ctx, res) {
		return
	}
	metrics.RecordRegistrationOutcome(client.Kind(res.Err), ms)
	if res.Err == nil {
		e.recordedToday = true
		e.lastFailure = ""
	}
}

func (e *Engine) onTransition(t attendance.Transition) {
	metrics.RecordRegistrationTransition(t.From.String(), t.To.String(), int(t.To))
}

func (e *Engine) onFailure(err error) {
	e.lastFailure = err.Error()
}

func (e *Engine) flush(ctx context.Context) {
	if e.flushing || e.buffer.Len() == 0 {
		return
	}
	batch := e.buffer.Drain()
	metrics.UpdateTelemetryBufferSize(0)
	e.flushing = true

	err := e.dispatch(ctx, eventqueue.KindTelemetry, func(jctx context.Context) error {
		err := e.backend.UploadTelemetry(jctx, batch)
		e.post(func(ctx context.Context) { e.flushed(ctx, batch, err) })
		return err
	})
	if err != nil {
		e.flushed(ctx, batch, err)
	}
}

func (e *Engine) flushed(ctx context.Context, batch []model.TelemetryRecord, err error) {
	e.flushing = false
	metrics.RecordTelemetryUpload(client.Kind(err), len(batch))
	if err == nil {
		return
	}
	dropped := e.buffer.Requeue(batch)
	if dropped > 0 {
		metrics.RecordTelemetryDropped(dropped)
	}
	metrics.UpdateTelemetryBufferSize(e.buffer.Len())
	e.logger.Debug(ctx, "telemetry upload failed, batch requeued",
		logger.Int("records", len(batch)),
		logger.Int("dropped", dropped),
		logger.Error(err),
	)
}

func (e *Engine) finalFlush(ctx context.Context) {
	batch := e.buffer.Drain()
	if len(batch) == 0 {
		return
	}
	err := e.backend.UploadTelemetry(ctx, batch)
	metrics.RecordTelemetryUpload(client.Kind(err), len(batch))
	if err != nil {
		e.logger.Warn(ctx, "final telemetry flush failed, records discarded",
			logger.Int("records", len(batch)),
			logger.Error(err),
		)
		return
	}
	e.logger.Info(ctx, "final telemetry flush sent", logger.Int("records", len(batch)))
}

func (e *Engine) heartbeat(ctx context.Context) {
	if e.heartbeating || !e.est.Initialized() {
		return
	}
	est := e.est.Estimate()
	e.heartbeating = true

	err := e.dispatch(ctx, eventqueue.KindHeartbeat, func(jctx context.Context) error {
		list, err := e.backend.Heartbeat(jctx, est)
		if err == nil {
			e.colleagues.Replace(jctx, list, e.now())
		}
		e.post(func(ctx context.Context) { e.heartbeatDone(ctx, len(list), err) })
		return err
	})
	if err != nil {
		e.heartbeatDone(ctx, 0, err)
	}
}

func (e *Engine) heartbeatDone(ctx context.Context, colleagues int, err error) {
	e.heartbeating = false
	metrics.RecordHeartbeat(client.Kind(err), colleagues)
	if err != nil {
		e.logger.Debug(ctx, "heartbeat failed", logger.Error(err))
	}
}

func (e *Engine) dispatch(ctx context.Context, kind string, run func(context.Context) error) error {
	return e.dispatchID(ctx, uuid.NewString(), kind, run)
}

func (e *Engine) dispatchID(ctx context.Context, id, kind string, run func(context.Context) error) error {
	err := e.jobs.Enqueue(ctx, eventqueue.Job{ID: id, Kind: kind, Enqueued: time.Now(), Run: run})
	if err != nil {
		return fmt.Errorf("%w: %s job not queued: %w", client.ErrNetworkFailure, kind, err)
	}
	return nil
}

// publish stores a fresh snapshot for readers outside the loop.
func (e *Engine) publish() {
	now := e.now()
	st := &types.Status{
		UserID:           e.userID,
		Initialized:      e.est.Initialized(),
		State:            e.machine.State().String(),
		Inside:           e.inside,
		WithinWindow:     e.machine.TimeOK(now),
		RecordedToday:    e.recordedToday,
		LastFailure:      e.lastFailure,
		AWOLActive:       e.awol.AlertActive(now),
		BufferLen:        e.buffer.Len(),
		BufferDropped:    e.buffer.Dropped(),
		PollingSuspended: e.pollingSuspended,
		PositioningError: e.positioningErr,
		UpdatedAt:        now,
	}
	if st.Initialized {
		est := e.est.Estimate()
		st.Estimate = &est
	}
	if e.inside {
		b := e.match.Branch
		st.Branch = &b
	}
	if e.machine.State() == attendance.Registered {
		st.AttendanceID = e.machine.LastResult().AttendanceID
	}
	if a, ok := e.awol.LastAlert(); ok {
		st.LastAlert = &types.Alert{ID: a.ID, Latitude: a.Latitude, Longitude: a.Longitude, At: a.At}
	}
	if e.supervisor != nil {
		st.PositioningAcquired = e.supervisor.Acquired()
		metrics.UpdatePositioningAcquired(st.PositioningAcquired)
	}
	e.status.Store(st)
}
