package service

import (
	"context"
	"time"

	"github.com/okian/fieldpresence/internal/adapters/http/client"
	eventqueue "github.com/okian/fieldpresence/internal/adapters/mq/queue"
	"github.com/okian/fieldpresence/internal/domain/attendance"
	"github.com/okian/fieldpresence/internal/domain/awol"
	"github.com/okian/fieldpresence/pkg/logger"
)

// loopTimers arms one-shot timers whose expiry is delivered to the loop.
type loopTimers struct{ e *Engine }

func (t loopTimers) After(d time.Duration, tok attendance.Token) func() {
	timer := time.AfterFunc(d, func() {
		t.e.post(func(ctx context.Context) { t.e.fire(ctx, tok) })
	})
	return func() { timer.Stop() }
}

// checkinSubmitter turns a registration attempt into an outbound job.
type checkinSubmitter struct{ e *Engine }

func (s checkinSubmitter) Submit(ctx context.Context, sub attendance.Submission) {
	e := s.e
	e.submittedAt = e.now()
	req := client.Checkin{
		IdempotencyKey: sub.ID,
		BranchID:       sub.BranchID,
		Latitude:       sub.Latitude,
		Longitude:      sub.Longitude,
		Accuracy:       sub.Accuracy,
	}
	err := e.dispatchID(ctx, sub.ID, eventqueue.KindCheckin, func(jctx context.Context) error {
		id, err := e.backend.CheckIn(jctx, req)
		e.post(func(ctx context.Context) {
			e.complete(ctx, attendance.Result{SubmissionID: sub.ID, AttendanceID: id, Err: err})
		})
		return err
	})
	if err != nil {
		// Complete must not re-enter the machine from inside Submit.
		go e.post(func(ctx context.Context) {
			e.complete(ctx, attendance.Result{SubmissionID: sub.ID, Err: err})
		})
	}
}

// pollControl suspends the containment task while a check-in is in flight.
type pollControl struct{ e *Engine }

func (p pollControl) SuspendPolling() { p.e.pollingSuspended = true }
func (p pollControl) ResumePolling()  { p.e.pollingSuspended = false }

// awolReporter sends alerts fire-and-forget.
type awolReporter struct{ e *Engine }

func (r awolReporter) ReportAWOL(ctx context.Context, a awol.Alert) {
	e := r.e
	err := e.dispatchID(ctx, a.ID, eventqueue.KindAWOL, func(jctx context.Context) error {
		return e.backend.ReportAWOL(jctx, a.Latitude, a.Longitude)
	})
	if err != nil {
		e.logger.Warn(ctx, "awol report dropped", logger.String("alert_id", a.ID), logger.Error(err))
	}
}
