// Package pipeline drives the run lifecycle: created -> enriching ->
// synthesizing -> completed or failed. Each inquiry identity has at most one
// live run; every caller waiting on that identity receives the same outcome,
// exactly once, within the run deadline.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/freightwise/logistics-cli/internal/dedup"
	"github.com/freightwise/logistics-cli/internal/enrich"
	"github.com/freightwise/logistics-cli/internal/model"
	"github.com/freightwise/logistics-cli/internal/resilience"
	"github.com/freightwise/logistics-cli/internal/store"
	"github.com/freightwise/logistics-cli/internal/synth"
	"github.com/freightwise/logistics-cli/pkg/airtable"
)

// persistTimeout bounds the fire-and-forget CRM write and notification after
// a run settles.
const persistTimeout = 30 * time.Second

// dlqMaxRetries is the replay budget for failed CRM writes.
const dlqMaxRetries = 3

// Notifier delivers a settled run to an outward channel. Delivery failures
// are logged, never propagated.
type Notifier interface {
	Deliver(ctx context.Context, run *model.Run) error
}

// Pipeline orchestrates runs end to end.
type Pipeline struct {
	registry    *dedup.Registry
	coordinator *enrich.Coordinator
	synthesizer *synth.Synthesizer
	store       store.Store
	crm         airtable.Client
	crmTable    string
	notifier    Notifier
	runDeadline time.Duration
}

// New creates a pipeline. crm and notifier may be nil; persistence to the
// run store is always on.
func New(
	registry *dedup.Registry,
	coordinator *enrich.Coordinator,
	synthesizer *synth.Synthesizer,
	st store.Store,
	crm airtable.Client,
	crmTable string,
	notifier Notifier,
	runDeadline time.Duration,
) *Pipeline {
	if runDeadline <= 0 {
		runDeadline = 3 * time.Minute
	}
	return &Pipeline{
		registry:    registry,
		coordinator: coordinator,
		synthesizer: synthesizer,
		store:       st,
		crm:         crm,
		crmTable:    crmTable,
		notifier:    notifier,
		runDeadline: runDeadline,
	}
}

// Submit runs an inquiry to completion and returns its terminal run. A
// duplicate of an in-flight inquiry joins that run instead of starting
// another; ctx cancellation detaches this caller without aborting the run
// for other waiters.
func (p *Pipeline) Submit(ctx context.Context, q model.Inquiry) (*model.Run, error) {
	handle, initiator, err := p.admit(q)
	if err != nil {
		return nil, err
	}
	if initiator {
		go p.execute(handle)
	}
	return handle.Wait(ctx)
}

// SubmitAsync starts (or joins) a run without waiting and returns its ID.
func (p *Pipeline) SubmitAsync(q model.Inquiry) (runID string, started bool, err error) {
	handle, initiator, err := p.admit(q)
	if err != nil {
		return "", false, err
	}
	if initiator {
		go p.execute(handle)
	}
	return handle.RunID, initiator, nil
}

func (p *Pipeline) admit(q model.Inquiry) (*dedup.Handle, bool, error) {
	if err := q.Validate(); err != nil {
		return nil, false, err
	}
	handle, initiator := p.registry.AcquireOrJoin(q)
	return handle, initiator, nil
}

// persistCtx detaches store writes from the run deadline so a run that
// exhausts it can still record its terminal state and report.
func persistCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}

// execute drives one run to a terminal state. It owns the run's context: the
// deadline starts here and every caller, present or joined later, sees a
// settled handle before deadline plus a small epsilon.
func (p *Pipeline) execute(h *dedup.Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), p.runDeadline)
	defer cancel()

	log := zap.L().With(
		zap.String("run_id", h.RunID),
		zap.String("inquiry_id", h.InquiryID),
	)
	log.Info("run starting", zap.String("route", h.Inquiry.Route()))

	run := &model.Run{
		ID:        h.RunID,
		InquiryID: h.InquiryID,
		Inquiry:   h.Inquiry,
		State:     model.RunCreated,
		CreatedAt: time.Now().UTC(),
	}
	pctx, pcancel := persistCtx(ctx)
	if err := p.store.CreateRun(pctx, run); err != nil {
		log.Warn("run persist failed, continuing", zap.Error(err))
	}
	pcancel()

	setState := func(state model.RunState) {
		run.State = state
		run.UpdatedAt = time.Now().UTC()
		pctx, pcancel := persistCtx(ctx)
		defer pcancel()
		if err := p.store.UpdateRunState(pctx, run.ID, state); err != nil {
			log.Warn("state persist failed", zap.String("state", string(state)), zap.Error(err))
		}
	}

	setState(model.RunEnriching)
	set, err := p.coordinator.Enrich(ctx, run.ID, h.Inquiry)
	if err != nil {
		p.fail(ctx, h, run, err, log)
		return
	}

	setState(model.RunSynthesizing)
	report, err := p.synthesizer.Synthesize(ctx, run.ID, h.Inquiry, set)
	if err != nil {
		p.fail(ctx, h, run, err, log)
		return
	}

	run.Report = report
	run.State = model.RunCompleted
	run.UpdatedAt = time.Now().UTC()
	pctx, pcancel = persistCtx(ctx)
	if err := p.store.CompleteRun(pctx, run.ID, report); err != nil {
		log.Warn("report persist failed", zap.Error(err))
	}
	pcancel()

	log.Info("run completed",
		zap.Bool("degraded_synthesis", report.Synthesis.Degraded),
		zap.Int("degraded_sections", len(report.Degraded)),
	)
	p.registry.Settle(h, run, nil)

	// Outward effects happen after waiters are released and never block
	// or fail the run.
	go p.persistCRM(report, h.Inquiry)
	go p.notify(run)
}

func (p *Pipeline) fail(ctx context.Context, h *dedup.Handle, run *model.Run, cause error, log *zap.Logger) {
	run.State = model.RunFailed
	run.Error = cause.Error()
	run.UpdatedAt = time.Now().UTC()
	pctx, pcancel := persistCtx(ctx)
	defer pcancel()
	if err := p.store.FailRun(pctx, run.ID, run.Error); err != nil {
		log.Warn("failure persist failed", zap.Error(err))
	}
	log.Warn("run failed", zap.Error(cause))
	p.registry.Settle(h, run, cause)
	go p.notify(run)
}

// persistCRM writes the report to the CRM. On failure the report lands in
// the dead letter queue for later replay.
func (p *Pipeline) persistCRM(report *model.Report, q model.Inquiry) {
	if p.crm == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	_, err := p.crm.CreateRecord(ctx, p.crmTable, crmFields(report, q))
	if err == nil {
		return
	}
	zap.L().Warn("crm persist failed, queueing for replay",
		zap.String("report_id", report.ID),
		zap.Error(err),
	)

	now := time.Now().UTC()
	entry := resilience.DLQEntry{
		Report:       *report,
		Error:        err.Error(),
		ErrorType:    resilience.ClassifyError(err),
		MaxRetries:   dlqMaxRetries,
		NextRetryAt:  now.Add(5 * time.Minute),
		CreatedAt:    now,
		LastFailedAt: now,
	}
	if dlqErr := p.store.EnqueueDLQ(ctx, entry); dlqErr != nil {
		zap.L().Error("dlq enqueue failed, report not persisted to crm",
			zap.String("report_id", report.ID),
			zap.Error(dlqErr),
		)
	}
}

func (p *Pipeline) notify(run *model.Run) {
	if p.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := p.notifier.Deliver(ctx, run); err != nil {
		zap.L().Warn("notification delivery failed",
			zap.String("run_id", run.ID),
			zap.Error(err),
		)
	}
}

// ReplayDLQ retries queued CRM writes that are due. Entries that succeed are
// removed; the rest get their retry budget decremented and a pushed-out next
// attempt.
func (p *Pipeline) ReplayDLQ(ctx context.Context, limit int) (replayed, failed int, err error) {
	if p.crm == nil {
		return 0, 0, eris.New("pipeline: no crm configured")
	}
	entries, err := p.store.DequeueDLQ(ctx, resilience.DLQFilter{ErrorType: "transient", Limit: limit})
	if err != nil {
		return 0, 0, err
	}

	for _, entry := range entries {
		_, crmErr := p.crm.CreateRecord(ctx, p.crmTable, crmFields(&entry.Report, model.Inquiry{}))
		if crmErr == nil {
			if err := p.store.RemoveDLQ(ctx, entry.ID); err != nil {
				zap.L().Warn("dlq remove failed", zap.String("id", entry.ID), zap.Error(err))
			}
			replayed++
			continue
		}
		failed++
		nextRetry := time.Now().UTC().Add(time.Duration(entry.RetryCount+1) * 10 * time.Minute)
		if err := p.store.IncrementDLQRetry(ctx, entry.ID, nextRetry, crmErr.Error()); err != nil {
			zap.L().Warn("dlq retry update failed", zap.String("id", entry.ID), zap.Error(err))
		}
	}
	return replayed, failed, nil
}

// Sweep drops settled dedup entries past their grace period.
func (p *Pipeline) Sweep() int {
	return p.registry.Sweep()
}

func crmFields(report *model.Report, q model.Inquiry) map[string]any {
	fields := map[string]any{
		"report_id":  report.ID,
		"inquiry_id": report.InquiryID,
		"summary":    report.ExecutiveSummary,
		"created_at": report.GeneratedAt.UTC().Format(time.RFC3339),
	}
	if q.Description != "" {
		fields["description"] = q.Description
		fields["weight_kg"] = q.WeightKg
		fields["volume_m3"] = q.VolumeM3
		fields["category"] = string(q.Category)
		fields["origin"] = q.Origin
		fields["destination"] = q.Destination
	}
	if report.Classification != nil {
		fields["tnved_code"] = report.Classification.Code
	}
	if report.Supplier != nil {
		fields["supplier"] = report.Supplier.CompanyName
		fields["supplier_score"] = report.Supplier.ReliabilityScore
	}
	if report.Costing != nil {
		fields["cargo_cost"] = report.Costing.Cargo.TotalCost
		fields["white_cost"] = report.Costing.White.TotalCost
	}
	return fields
}
