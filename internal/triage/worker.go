package triage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lanebird/inbox-ai-platform/internal/audit"
	"github.com/lanebird/inbox-ai-platform/internal/observability/metrics"
	"github.com/lanebird/inbox-ai-platform/internal/queue"
	"github.com/lanebird/inbox-ai-platform/internal/tenancy"
	"github.com/lanebird/inbox-ai-platform/internal/workspace"
	"github.com/lanebird/inbox-ai-platform/pkg/logging"
)

const (
	defaultWorkerCount     = 2
	defaultWaitSeconds     = 2
	defaultBatchSize       = 10
	defaultVisibility      = 120 * time.Second
	defaultPassBudget      = 45 * time.Second
	defaultMaxAttempts     = 6
	defaultOracleTimeout   = 25 * time.Second
	defaultOracleBatchSize = 10
	defaultThreadDepth     = 6
	maxWaitSeconds         = 20
	maxReceiveBatchSize    = 10
	deleteTimeoutSeconds   = 5

	classifyQueueName = "classify"
)

var tracer = otel.Tracer("github.com/lanebird/inbox-ai-platform/internal/triage")

// AuditSink records what happened to each queue delivery. Best-effort:
// the worker logs recording failures and moves on.
type AuditSink interface {
	RecordJob(ctx context.Context, rec audit.JobRecord) error
}

// ArchiveSink durably archives dead letters outside the row store.
type ArchiveSink interface {
	ArchiveDeadLetter(ctx context.Context, letter audit.DeadLetter) error
}

// AlertSink notifies operators about dead letters.
type AlertSink interface {
	NotifyDeadLetter(ctx context.Context, letter audit.DeadLetter)
}

// Worker consumes classify jobs from the queue and runs the triage
// pipeline: gatekeeper, sender rules, batched oracle classification,
// routing, and the guarded conversation mutation.
type Worker struct {
	queue         queue.Client
	mutator       *Mutator
	conversations ConversationStore
	messages      MessageStore
	rules         RuleStore
	workspaces    workspace.Provider
	oracle        Oracle
	deadLetters   audit.DeadLetterStore
	archive       ArchiveSink
	alerts        AlertSink
	auditor       AuditSink
	metrics       *metrics.TriageMetrics
	logger        *logging.Logger
	clock         func() time.Time

	cfg workerConfig
	wg  sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	visibility       time.Duration
	passBudget       time.Duration
	maxAttempts      int
	oracleTimeout    time.Duration
	oracleBatchSize  int
	threadDepth      int
	confidenceFloor  float64
	clock            func() time.Time
	metrics          *metrics.TriageMetrics
	deadLetters      audit.DeadLetterStore
	archive          ArchiveSink
	alerts           AlertSink
	auditor          AuditSink
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// WithVisibilityTimeout sets how long received messages stay hidden.
func WithVisibilityTimeout(d time.Duration) WorkerOption {
	return func(cfg *workerConfig) {
		if d > 0 {
			cfg.visibility = d
		}
	}
}

// WithPassBudget caps the wall-clock time of one pass. Work left over
// when the budget runs out stays on the queue and redelivers.
func WithPassBudget(d time.Duration) WorkerOption {
	return func(cfg *workerConfig) {
		if d > 0 {
			cfg.passBudget = d
		}
	}
}

// WithMaxAttempts sets the delivery count at which jobs dead-letter.
func WithMaxAttempts(n int) WorkerOption {
	return func(cfg *workerConfig) {
		if n > 0 {
			cfg.maxAttempts = n
		}
	}
}

// WithOracleTimeout bounds a single oracle batch call.
func WithOracleTimeout(d time.Duration) WorkerOption {
	return func(cfg *workerConfig) {
		if d > 0 {
			cfg.oracleTimeout = d
		}
	}
}

// WithOracleBatchSize caps how many items go into one oracle call.
func WithOracleBatchSize(n int) WorkerOption {
	return func(cfg *workerConfig) {
		if n > 0 {
			cfg.oracleBatchSize = n
		}
	}
}

// WithConfidenceFloor overrides the minimum confidence for automatic
// routing. Values outside (0, 1] keep the default.
func WithConfidenceFloor(floor float64) WorkerOption {
	return func(cfg *workerConfig) {
		if floor > 0 && floor <= 1 {
			cfg.confidenceFloor = floor
		}
	}
}

// WithThreadDepth sets how much conversation history the oracle sees.
func WithThreadDepth(n int) WorkerOption {
	return func(cfg *workerConfig) {
		if n > 0 {
			cfg.threadDepth = n
		}
	}
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) WorkerOption {
	return func(cfg *workerConfig) {
		if now != nil {
			cfg.clock = now
		}
	}
}

// WithMetrics wires pipeline metrics.
func WithMetrics(m *metrics.TriageMetrics) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.metrics = m
	}
}

// WithDeadLetterStore wires the dead-letter store.
func WithDeadLetterStore(store audit.DeadLetterStore) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.deadLetters = store
	}
}

// WithArchive wires the dead-letter archive.
func WithArchive(archive ArchiveSink) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.archive = archive
	}
}

// WithAlerts wires operator alerting for dead letters.
func WithAlerts(alerts AlertSink) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.alerts = alerts
	}
}

// WithAuditor wires the job audit trail.
func WithAuditor(auditor AuditSink) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.auditor = auditor
	}
}

// NewWorker constructs the triage queue consumer.
func NewWorker(q queue.Client, mutator *Mutator, conversations ConversationStore, messages MessageStore, rules RuleStore, workspaces workspace.Provider, oracle Oracle, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if q == nil {
		panic("triage: queue cannot be nil")
	}
	if mutator == nil {
		panic("triage: mutator cannot be nil")
	}
	if conversations == nil {
		panic("triage: conversation store cannot be nil")
	}
	if messages == nil {
		panic("triage: message store cannot be nil")
	}
	if workspaces == nil {
		panic("triage: workspace provider cannot be nil")
	}
	if oracle == nil {
		panic("triage: oracle cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
		visibility:       defaultVisibility,
		passBudget:       defaultPassBudget,
		maxAttempts:      defaultMaxAttempts,
		oracleTimeout:    defaultOracleTimeout,
		oracleBatchSize:  defaultOracleBatchSize,
		threadDepth:      defaultThreadDepth,
		confidenceFloor:  ConfidenceFloor,
		clock:            time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Worker{
		queue:         q,
		mutator:       mutator,
		conversations: conversations,
		messages:      messages,
		rules:         rules,
		workspaces:    workspaces,
		oracle:        oracle,
		deadLetters:   cfg.deadLetters,
		archive:       cfg.archive,
		alerts:        cfg.alerts,
		auditor:       cfg.auditor,
		metrics:       cfg.metrics,
		logger:        logger,
		clock:         cfg.clock,
		cfg:           cfg,
	}
}

// Start launches worker goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("triage worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("triage worker stopping", "worker_id", workerID)
			return
		default:
		}

		if _, err := w.RunPass(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("triage pass failed", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
	}
}

// pendingJob is one delivery flowing through a pass.
type pendingJob struct {
	msg     queue.Message
	job     ClassifyJob
	event   *MessageEvent
	preseed *GateDecision
}

// RunPass receives one batch and drives it through the pipeline. It
// returns the number of deliveries it finished (deleted from the
// queue); messages left behind redeliver after the visibility timeout.
func (w *Worker) RunPass(ctx context.Context) (int, error) {
	runID := uuid.NewString()
	start := w.clock()

	ctx, span := tracer.Start(ctx, "triage.pass", trace.WithAttributes(
		attribute.String("run_id", runID),
	))
	defer span.End()

	received, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs, w.cfg.visibility)
	if err != nil {
		return 0, fmt.Errorf("triage: receive failed: %w", err)
	}
	if len(received) == 0 {
		return 0, nil
	}
	span.SetAttributes(attribute.Int("batch_size", len(received)))

	finished := 0
	ruleCache := map[string][]SenderRule{}
	aiPending := map[string][]*pendingJob{}
	var workspaceOrder []string

	for _, msg := range received {
		job, err := DecodeClassifyJob(msg.Body)
		if err != nil {
			// Malformed payloads can never succeed; drop them immediately.
			w.discard(ctx, msg, ClassifyJob{RunID: runID}, "malformed payload: "+err.Error())
			finished++
			continue
		}
		if job.RunID == "" {
			job.RunID = runID
		}

		jctx := tenancy.WithWorkspaceID(ctx, job.WorkspaceID)
		pending := &pendingJob{msg: msg, job: job}
		done, err := w.resolveDeterministic(jctx, pending, ruleCache)
		if err != nil {
			if w.handleFailure(jctx, msg, job, err) {
				finished++
			}
			continue
		}
		if done {
			finished++
			continue
		}

		if _, seen := aiPending[job.WorkspaceID]; !seen {
			workspaceOrder = append(workspaceOrder, job.WorkspaceID)
		}
		aiPending[job.WorkspaceID] = append(aiPending[job.WorkspaceID], pending)
	}

	for _, workspaceID := range workspaceOrder {
		group := aiPending[workspaceID]
		if w.clock().Sub(start) > w.cfg.passBudget {
			w.logger.Warn("pass budget exhausted, deferring remaining jobs",
				"run_id", runID, "workspace_id", workspaceID, "deferred", len(group))
			continue
		}
		finished += w.classifyGroup(tenancy.WithWorkspaceID(ctx, workspaceID), workspaceID, group)
	}

	w.metrics.ObservePassDuration(w.clock().Sub(start).Seconds())
	return finished, nil
}

// resolveDeterministic loads state and tries to settle the job without
// the oracle. Returns true when the delivery is finished either way.
func (w *Worker) resolveDeterministic(ctx context.Context, p *pendingJob, ruleCache map[string][]SenderRule) (bool, error) {
	event, err := w.messages.Get(ctx, p.job.EventID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			w.discard(ctx, p.msg, p.job, "message event missing")
			return true, nil
		}
		return false, fmt.Errorf("triage: load message event: %w", err)
	}
	p.event = event

	conv, err := w.conversations.Get(ctx, p.job.WorkspaceID, p.job.ConversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			w.discard(ctx, p.msg, p.job, "conversation missing")
			return true, nil
		}
		return false, fmt.Errorf("triage: load conversation: %w", err)
	}
	if conv.LastInboundMessageID != p.job.TargetMessageID {
		w.discard(ctx, p.msg, p.job, "superseded by newer inbound message")
		return true, nil
	}
	if conv.LastClassifiedMessageID == p.job.TargetMessageID {
		w.discard(ctx, p.msg, p.job, "already classified")
		return true, nil
	}

	rules, ok := ruleCache[p.job.WorkspaceID]
	if !ok {
		if w.rules != nil {
			rules, err = w.rules.ListByWorkspace(ctx, p.job.WorkspaceID)
			if err != nil {
				return false, fmt.Errorf("triage: load sender rules: %w", err)
			}
		}
		ruleCache[p.job.WorkspaceID] = rules
	}

	// Workspace rules outrank the built-in gatekeeper: an operator may
	// deliberately route a known automated sender to a human.
	if match := MatchSenderRules(rules, event.FromIdentifier, event.Subject, event.Body); match != nil {
		w.metrics.ObserveGatekeeper("sender_rule")
		bucket, status := w.route(match.Classification, match.ForceBucket, match.ForceStatus)
		result := Result{
			Classification: match.Classification,
			Lane:           bucket.DefaultLane(),
		}
		if err := w.commit(ctx, p, result, bucket, status, nil); err != nil {
			return false, err
		}
		return true, nil
	}

	gate := Gatekeep(event.FromIdentifier, event.Subject)
	if gate != nil && gate.SkipLLM {
		w.metrics.ObserveGatekeeper(gate.Source)
		result := Result{
			Classification: gate.Classification,
			Lane:           gate.Bucket.DefaultLane(),
		}
		if err := w.commit(ctx, p, result, gate.Bucket, gate.Status, nil); err != nil {
			return false, err
		}
		return true, nil
	}

	// Escalation preseed survives as a floor for the oracle outcome.
	p.preseed = gate
	return false, nil
}

// classifyGroup runs one workspace's pending jobs through the oracle
// and commits the results. Returns how many deliveries it finished.
func (w *Worker) classifyGroup(ctx context.Context, workspaceID string, group []*pendingJob) int {
	wctx, err := w.workspaces.LoadContext(ctx, workspaceID)
	if err != nil {
		finished := 0
		for _, p := range group {
			if w.handleFailure(ctx, p.msg, p.job, fmt.Errorf("triage: load workspace context: %w", err)) {
				finished++
			}
		}
		return finished
	}

	finished := 0
	for offset := 0; offset < len(group); offset += w.cfg.oracleBatchSize {
		end := offset + w.cfg.oracleBatchSize
		if end > len(group) {
			end = len(group)
		}
		finished += w.classifyBatch(ctx, wctx, group[offset:end])
	}
	return finished
}

func (w *Worker) classifyBatch(ctx context.Context, wctx *workspace.Context, batch []*pendingJob) int {
	items := make([]OracleItem, 0, len(batch))
	for _, p := range batch {
		history, err := w.messages.RecentThread(ctx, p.job.ConversationID, w.cfg.threadDepth)
		if err != nil {
			w.logger.Warn("failed to load thread history",
				"error", err, "conversation_id", p.job.ConversationID)
		}
		items = append(items, OracleItem{
			ItemID:  p.job.TargetMessageID,
			Channel: p.event.Channel,
			From:    p.event.FromIdentifier,
			Subject: p.event.Subject,
			Body:    p.event.Body,
			History: history,
		})
	}

	octx, cancel := context.WithTimeout(ctx, w.cfg.oracleTimeout)
	octx, span := tracer.Start(octx, "triage.oracle", trace.WithAttributes(
		attribute.String("provider", w.oracle.Name()),
		attribute.Int("items", len(items)),
	))
	callStart := w.clock()
	results, err := w.oracle.ClassifyBatch(octx, wctx, items)
	elapsed := w.clock().Sub(callStart).Seconds()
	span.End()
	cancel()

	if err != nil {
		w.metrics.ObserveOracleCall(w.oracle.Name(), "error", elapsed)
		finished := 0
		for _, p := range batch {
			if w.handleFailure(ctx, p.msg, p.job, fmt.Errorf("triage: oracle batch failed: %w", err)) {
				finished++
			}
		}
		return finished
	}
	w.metrics.ObserveOracleCall(w.oracle.Name(), "ok", elapsed)

	finished := 0
	for _, p := range batch {
		var (
			result Result
			issues []string
		)
		raw, ok := results[p.job.TargetMessageID]
		if !ok {
			result = SafeResult()
			issues = []string{"item missing from oracle response"}
		} else {
			result = Normalize(raw)
			result, issues = AutoCorrect(result)
		}

		bucket, status := w.route(result.Classification, "", "")

		// A pre-seeded escalation may never be silently auto-closed.
		if p.preseed != nil && bucket == BucketAutoHandled {
			bucket, status = p.preseed.Bucket, p.preseed.Status
			if result.Lane == LaneDone || result.Lane == "" {
				result.Lane = LaneReview
			}
			issues = append(issues, "auto_handled overridden by escalation preseed")
		}
		if result.Lane == "" {
			result.Lane = bucket.DefaultLane()
		}

		if err := w.commit(ctx, p, result, bucket, status, issues); err != nil {
			if w.handleFailure(ctx, p.msg, p.job, err) {
				finished++
			}
			continue
		}
		finished++
	}
	return finished
}

func (w *Worker) route(c Classification, forceBucket Bucket, forceStatus Status) (Bucket, Status) {
	return RouteWithFloor(c, forceBucket, forceStatus, w.cfg.confidenceFloor)
}

// commit applies the decision through the mutator and settles the
// queue delivery.
func (w *Worker) commit(ctx context.Context, p *pendingJob, result Result, bucket Bucket, status Status, issues []string) error {
	body := ""
	if p.event != nil {
		body = p.event.Body
	}
	outcome, err := w.mutator.Apply(ctx, p.job, result, bucket, status, body)
	if err != nil {
		return err
	}

	w.deleteMessage(ctx, p.msg.ReceiptHandle)
	w.metrics.ObserveJob(string(outcome))

	auditOutcome := audit.OutcomeProcessed
	if outcome == OutcomeStale || outcome == OutcomeDuplicate {
		auditOutcome = audit.OutcomeDiscarded
	}
	w.recordAudit(ctx, audit.JobRecord{
		WorkspaceID:      p.job.WorkspaceID,
		RunID:            p.job.RunID,
		QueueName:        classifyQueueName,
		JobPayload:       p.msg.Body,
		Outcome:          auditOutcome,
		Attempts:         p.msg.ReadCount,
		ValidationIssues: issues,
	})

	w.logger.Info("triage decision committed",
		"run_id", p.job.RunID,
		"conversation_id", p.job.ConversationID,
		"target_message_id", p.job.TargetMessageID,
		"category", string(result.Category),
		"bucket", string(bucket),
		"lane", string(result.Lane),
		"outcome", string(outcome),
	)
	return nil
}

// discard deletes a delivery that can never usefully retry.
func (w *Worker) discard(ctx context.Context, msg queue.Message, job ClassifyJob, reason string) {
	w.deleteMessage(ctx, msg.ReceiptHandle)
	w.metrics.ObserveJob("discarded")
	w.recordAudit(ctx, audit.JobRecord{
		WorkspaceID: job.WorkspaceID,
		RunID:       job.RunID,
		QueueName:   classifyQueueName,
		JobPayload:  msg.Body,
		Outcome:     audit.OutcomeDiscarded,
		Error:       reason,
		Attempts:    msg.ReadCount,
	})
	w.logger.Info("triage job discarded", "reason", reason, "run_id", job.RunID, "conversation_id", job.ConversationID)
}

// handleFailure decides between redelivery and dead-lettering. Returns
// true when the delivery is finished (dead-lettered and deleted).
func (w *Worker) handleFailure(ctx context.Context, msg queue.Message, job ClassifyJob, cause error) bool {
	w.logger.Error("triage job failed",
		"error", cause, "run_id", job.RunID, "conversation_id", job.ConversationID, "attempt", msg.ReadCount)

	if job.EventID != "" {
		if err := w.messages.RecordError(ctx, job.EventID, cause.Error()); err != nil {
			w.logger.Warn("failed to record message error", "error", err, "event_id", job.EventID)
		}
	}

	if msg.ReadCount < w.cfg.maxAttempts {
		// Leave the message in flight; it redelivers after the
		// visibility timeout.
		w.metrics.ObserveJob("retry")
		w.recordAudit(ctx, audit.JobRecord{
			WorkspaceID: job.WorkspaceID,
			RunID:       job.RunID,
			QueueName:   classifyQueueName,
			JobPayload:  msg.Body,
			Outcome:     audit.OutcomeRetry,
			Error:       cause.Error(),
			Attempts:    msg.ReadCount,
		})
		return false
	}

	letter := audit.DeadLetter{
		ID:          uuid.NewString(),
		WorkspaceID: job.WorkspaceID,
		RunID:       job.RunID,
		QueueName:   classifyQueueName,
		Payload:     msg.Body,
		Reason:      cause.Error(),
		Attempts:    msg.ReadCount,
		CreatedAt:   w.clock().UTC(),
	}

	if w.deadLetters != nil {
		if err := w.deadLetters.Store(ctx, letter); err != nil {
			// Keep the message on the queue rather than lose it; the next
			// redelivery retries the dead-letter write too.
			w.logger.Error("failed to store dead letter", "error", err, "dead_letter_id", letter.ID)
			return false
		}
	}
	if w.archive != nil {
		if err := w.archive.ArchiveDeadLetter(ctx, letter); err != nil {
			w.logger.Warn("failed to archive dead letter", "error", err, "dead_letter_id", letter.ID)
		}
	}
	if w.alerts != nil {
		w.alerts.NotifyDeadLetter(ctx, letter)
	}

	w.deleteMessage(ctx, msg.ReceiptHandle)
	w.metrics.ObserveDeadLetter()
	w.metrics.ObserveJob("dead_lettered")
	w.recordAudit(ctx, audit.JobRecord{
		WorkspaceID: job.WorkspaceID,
		RunID:       job.RunID,
		QueueName:   classifyQueueName,
		JobPayload:  msg.Body,
		Outcome:     audit.OutcomeDeadLettered,
		Error:       cause.Error(),
		Attempts:    msg.ReadCount,
	})
	w.logger.Error("triage job dead-lettered",
		"dead_letter_id", letter.ID, "run_id", job.RunID, "conversation_id", job.ConversationID, "attempts", msg.ReadCount)
	return true
}

func (w *Worker) recordAudit(ctx context.Context, rec audit.JobRecord) {
	if w.auditor == nil {
		return
	}
	if err := w.auditor.RecordJob(ctx, rec); err != nil {
		w.logger.Warn("failed to record audit entry", "error", err, "run_id", rec.RunID)
	}
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}

	deleteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deleteTimeoutSeconds*time.Second)
	defer cancel()

	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete triage job", "error", err)
	}
}
