// Package streamprocessor implements spec §4.2: drain the EventQueue in
// batches, run the four detectors per event, fuse their scores, persist
// and publish the result, and update the actor's profile.
//
// The per-actor lane pool is grounded on the teacher's cmd/octoreflex
// event-worker pool (runWorker, one goroutine per tracked PID pulling
// from a shared channel); the parallel detector fan-out per event is
// grounded on golang.org/x/sync/errgroup, which the teacher's own go.mod
// already carries as an indirect dependency for its escalation package's
// concurrent BPF map writes.
package streamprocessor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/octoanomaly/octoanomaly/internal/detectors"
	"github.com/octoanomaly/octoanomaly/internal/enrichment"
	"github.com/octoanomaly/octoanomaly/internal/eventmodel"
	"github.com/octoanomaly/octoanomaly/internal/fuser"
	"github.com/octoanomaly/octoanomaly/internal/pubsub"
	"github.com/octoanomaly/octoanomaly/internal/storage"
)

// Dequeuer is the narrow interface the processor needs from the
// EventQueue.
type Dequeuer interface {
	DequeueBatch(max int) ([]storage.QueuedEvent, error)
}

// Metrics is the narrow observability surface the processor reports
// through.
type Metrics interface {
	ObserveBatch(size int, wallTime time.Duration)
	ObserveDetectorTimeout(detector string)
	ObserveAnomalyScore(score float64)
	ObserveQueueDepth(n int)
	ObservePublishDropped(n uint64)
}

// Config holds the processor's tunables, narrowed from config.Config the
// same way the detector packages narrow their own config structs.
type Config struct {
	BatchMax        int
	BatchMaxWait    time.Duration
	Lanes           int
	DetectorTimeout time.Duration
	EventTimeout    time.Duration
	BatchTimeout    time.Duration
	PrefilterWarmN  int
	PrefilterShare  float64
	ReportFloor     float64
	CriticalityTTL  time.Duration

	Behavioral detectors.BehavioralConfig
	Temporal   detectors.TemporalConfig

	EnrichmentEnabled   bool
	EnrichmentName      string
	EnrichmentTimeout   time.Duration

	WindowIdleAfter time.Duration
}

// Processor is the StreamProcessor of spec §4.2.
type Processor struct {
	cfg Config
	log *zap.Logger

	queue    Dequeuer
	profiles *storage.ProfileStore
	sink     *storage.AnomalySink
	pub      pubsub.Publisher
	metrics  Metrics

	windows *detectors.WindowStore

	behavioral *detectors.Behavioral
	temporal   *detectors.Temporal
	content    *detectors.Content
	contextual *detectors.Contextual
}

// New constructs a Processor.
func New(
	cfg Config,
	queue Dequeuer,
	profiles *storage.ProfileStore,
	sink *storage.AnomalySink,
	pub pubsub.Publisher,
	metrics Metrics,
	log *zap.Logger,
) *Processor {
	return &Processor{
		cfg:        cfg,
		log:        log,
		queue:      queue,
		profiles:   profiles,
		sink:       sink,
		pub:        pub,
		metrics:    metrics,
		windows:    detectors.NewWindowStore(),
		behavioral: detectors.NewBehavioral(cfg.Behavioral),
		temporal:   detectors.NewTemporal(cfg.Temporal),
		content:    &detectors.Content{},
		contextual: &detectors.Contextual{},
	}
}

// laneJob is one unit of work dispatched to a lane goroutine.
type laneJob struct {
	qe   storage.QueuedEvent
	done chan<- eventOutcome
}

type eventOutcome struct {
	reported         bool
	detectorTimeouts int
	err              error
}

// Run drives the batch loop until ctx is cancelled. Lane goroutines are
// started once and live for the lifetime of Run, so per-actor ordering
// holds across batch boundaries, not just within one batch.
func (p *Processor) Run(ctx context.Context) error {
	lanes := p.cfg.Lanes
	if lanes < 1 {
		lanes = 1
	}
	laneChans := make([]chan laneJob, lanes)
	for i := range laneChans {
		laneChans[i] = make(chan laneJob, p.cfg.BatchMax)
		go p.laneWorker(ctx, laneChans[i])
	}

	evictTicker := time.NewTicker(10 * time.Minute)
	defer evictTicker.Stop()

	ticker := time.NewTicker(p.cfg.BatchMaxWait)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for _, ch := range laneChans {
				close(ch)
			}
			return nil
		case <-evictTicker.C:
			idleAfter := p.cfg.WindowIdleAfter
			if idleAfter <= 0 {
				idleAfter = 24 * time.Hour
			}
			p.windows.EvictIdle(time.Now(), idleAfter)
		case <-ticker.C:
			if err := p.runBatch(ctx, laneChans); err != nil {
				if p.log != nil {
					p.log.Error("streamprocessor: batch failed", zap.Error(err))
				}
			}
		}
	}
}

// runBatch dequeues up to BatchMax events, dispatches them to their
// actor's lane, waits for the batch to fully drain (spec §4.2: "a batch
// is processed atomically end-to-end"), and emits processing_stats.
func (p *Processor) runBatch(ctx context.Context, laneChans []chan laneJob) error {
	start := time.Now()
	batch, err := p.queue.DequeueBatch(p.cfg.BatchMax)
	if err != nil {
		return fmt.Errorf("streamprocessor.runBatch: dequeue: %w", err)
	}
	if len(batch) == 0 {
		return nil
	}

	batchID := uuid.New().String()
	batchCtx, cancel := context.WithTimeout(ctx, p.cfg.BatchTimeout)
	defer cancel()

	results := make(chan eventOutcome, len(batch))
	for _, qe := range batch {
		lane := laneFor(qe.Event.Actor.ID, len(laneChans))
		select {
		case laneChans[lane] <- laneJob{qe: qe, done: results}:
		case <-batchCtx.Done():
			results <- eventOutcome{err: batchCtx.Err()}
		}
	}

	stats := pubsub.ProcessingStats{BatchID: batchID, BatchSize: len(batch)}
collectLoop:
	for i := 0; i < len(batch); i++ {
		select {
		case outcome := <-results:
			stats.EventsProcessed++
			if outcome.reported {
				stats.AnomaliesDetected++
			}
			stats.DetectorTimeouts += outcome.detectorTimeouts
			if outcome.err != nil && p.log != nil {
				p.log.Warn("streamprocessor: event failed", zap.Error(outcome.err))
			}
		case <-batchCtx.Done():
			if p.log != nil {
				p.log.Warn("streamprocessor: batch deadline exceeded, abandoning remaining outcomes",
					zap.Int("remaining", len(batch)-i))
			}
			break collectLoop
		}
	}

	if p.metrics != nil {
		p.metrics.ObserveBatch(len(batch), time.Since(start))
	}
	if p.pub != nil {
		if payload, err := json.Marshal(stats); err == nil {
			p.pub.Publish(pubsub.ChannelProcessingStats, payload)
		}
	}
	return nil
}

// laneWorker processes jobs from one lane strictly serially, giving the
// per-actor ordering guarantee of spec §4.2.
func (p *Processor) laneWorker(ctx context.Context, jobs <-chan laneJob) {
	for job := range jobs {
		outcome := p.processEvent(ctx, job.qe)
		job.done <- outcome
	}
}

// processEvent runs the full per-event pipeline of spec §4.2 steps 1–7.
func (p *Processor) processEvent(ctx context.Context, qe storage.QueuedEvent) eventOutcome {
	ev := qe.Event
	eventCtx, cancel := context.WithTimeout(ctx, p.cfg.EventTimeout)
	defer cancel()

	userProfile, err := p.profiles.GetUser(ev.Actor.ID)
	if err != nil {
		return eventOutcome{err: fmt.Errorf("processEvent: GetUser: %w", err)}
	}
	repoProfile, err := p.profiles.GetRepo(ev.Repository.ID)
	if err != nil {
		return eventOutcome{err: fmt.Errorf("processEvent: GetRepo: %w", err)}
	}
	repoProfile = p.refreshCriticality(repoProfile)

	if shouldSkipDetectors(ev, userProfile, p.cfg.PrefilterWarmN, p.cfg.PrefilterShare) {
		p.persistZeroScore(ev, repoProfile)
		p.updateProfiles(ev)
		return eventOutcome{}
	}

	actorWin := p.windows.Actor(ev.Actor.ID)
	repoWin := p.windows.Repo(ev.Repository.ID)
	actorWin.Add(toActorEvent(ev))
	repoWin.Add(detectors.RepoEvent{Timestamp: ev.Timestamp, ActorID: ev.Actor.ID})

	type detResult struct {
		res  detectors.Result
		expl interface{}
	}
	var (
		behavioral, temporal, content, contextual detResult
		timeouts                                  int
	)

	g, gctx := errgroup.WithContext(eventCtx)
	g.Go(func() error {
		res, expl, timedOut := p.runWithTimeout(gctx, func(ctx context.Context) (detectors.Result, interface{}) {
			r, e := p.behavioral.Detect(ev, actorWin, userProfile)
			return r, e
		})
		behavioral = detResult{res, expl}
		if timedOut {
			timeouts++
			p.reportTimeout("behavioral")
		}
		return nil
	})
	g.Go(func() error {
		res, expl, timedOut := p.runWithTimeout(gctx, func(ctx context.Context) (detectors.Result, interface{}) {
			r, e := p.temporal.Detect(ev, actorWin, repoWin)
			return r, e
		})
		temporal = detResult{res, expl}
		if timedOut {
			timeouts++
			p.reportTimeout("temporal")
		}
		return nil
	})
	g.Go(func() error {
		res, expl, timedOut := p.runWithTimeout(gctx, func(ctx context.Context) (detectors.Result, interface{}) {
			r, e := p.content.Detect(ev)
			return r, e
		})
		content = detResult{res, expl}
		if timedOut {
			timeouts++
			p.reportTimeout("content")
		}
		return nil
	})
	g.Go(func() error {
		res, expl, timedOut := p.runWithTimeout(gctx, func(ctx context.Context) (detectors.Result, interface{}) {
			r, e := p.contextual.Detect(repoProfile)
			return r, e
		})
		contextual = detResult{res, expl}
		if timedOut {
			timeouts++
			p.reportTimeout("contextual")
		}
		return nil
	})
	_ = g.Wait()

	out := fuser.Fuse(fuser.Inputs{
		Behavioral:  behavioral.res.Score,
		Temporal:    temporal.res.Score,
		Content:     content.res.Score,
		Criticality: contextual.res.Score,
	})

	rec := storage.AnomalyRecord{
		EventID:                    ev.ID,
		RepositoryName:             ev.Repository.FullName,
		UserLogin:                  ev.Actor.Login,
		EventType:                  string(ev.Type),
		Timestamp:                  ev.Timestamp,
		BehavioralAnomalyScore:     behavioral.res.Score,
		ContentRiskScore:           content.res.Score,
		TemporalAnomalyScore:       temporal.res.Score,
		RepositoryCriticalityScore: contextual.res.Score,
		FinalAnomalyScore:          out.Final,
		SeverityLevel:              out.Severity,
		PrimaryMethod:              out.PrimaryMethod,
		HighRiskIndicators:         collectIndicators(behavioral.res, temporal.res, content.res),
	}
	rec.BehavioralAnalysis = marshalOrNull(behavioral.expl)
	rec.TemporalAnalysis = marshalOrNull(temporal.expl)
	rec.ContentAnalysis = marshalOrNull(content.expl)
	rec.RepositoryContext = marshalOrNull(contextual.expl)

	reported := out.Final >= p.cfg.ReportFloor
	if reported && p.cfg.EnrichmentEnabled {
		p.enrich(eventCtx, &rec)
	}

	if err := p.sink.Put(rec); err != nil {
		return eventOutcome{err: fmt.Errorf("processEvent: sink.Put: %w", err)}
	}
	if p.metrics != nil {
		p.metrics.ObserveAnomalyScore(out.Final)
	}

	if reported {
		p.publish(rec, ev.Actor.ID)
	}

	p.updateProfiles(ev)
	if _, err := p.profiles.TouchRepo(ev.Repository.ID, ev.Timestamp); err != nil && p.log != nil {
		p.log.Warn("processEvent: TouchRepo failed", zap.Error(err))
	}

	return eventOutcome{reported: reported, detectorTimeouts: timeouts}
}

// refreshCriticality recomputes repo's cached criticality score once it is
// absent or older than CriticalityTTL (spec §4.6 feature, §4.8 "criticality
// score cached with TTL"). contributorCount comes from the profile's own
// running estimate; security-policy presence and protected-branch count have
// no source in the public activity stream itself, so they are passed as
// false/0 until a repository-metadata collaborator is wired in.
func (p *Processor) refreshCriticality(repo *storage.RepositoryProfile) *storage.RepositoryProfile {
	ttl := p.cfg.CriticalityTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	if !repo.CriticalityComputed.IsZero() && time.Since(repo.CriticalityComputed) < ttl {
		return repo
	}

	score := detectors.ComputeCriticality(repo, repo.ContributorSetSize, false, 0)
	if err := p.profiles.PutRepoCriticality(repo.RepoID, score, repo.Stars, repo.Forks); err != nil {
		if p.log != nil {
			p.log.Warn("refreshCriticality: PutRepoCriticality failed", zap.Error(err))
		}
		return repo
	}
	repo.CriticalityScore = score
	repo.CriticalityComputed = time.Now().UTC()
	return repo
}

// runWithTimeout bounds a single detector call to DetectorTimeout (spec
// §4.2 step 3): on timeout the detector's score is treated as 0 and its
// explanation records timeout=true.
func (p *Processor) runWithTimeout(ctx context.Context, fn func(context.Context) (detectors.Result, interface{})) (detectors.Result, interface{}, bool) {
	timeout := p.cfg.DetectorTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	type out struct {
		res  detectors.Result
		expl interface{}
	}
	ch := make(chan out, 1)
	go func() {
		r, e := fn(ctx)
		ch <- out{r, e}
	}()
	select {
	case o := <-ch:
		return o.res, o.expl, false
	case <-time.After(timeout):
		return detectors.Result{Score: 0, Timeout: true}, map[string]bool{"timeout": true}, true
	}
}

func (p *Processor) reportTimeout(detector string) {
	if p.metrics != nil {
		p.metrics.ObserveDetectorTimeout(detector)
	}
}

func (p *Processor) updateProfiles(ev eventmodel.Event) {
	actorWin := p.windows.Actor(ev.Actor.ID)
	features := detectors.ExtractBehavioralFeatures(ev, actorWin)
	if _, err := p.profiles.UpsertUser(
		ev.Actor.ID, features, string(ev.Type),
		p.cfg.Behavioral.EWMAAlpha, p.cfg.Behavioral.VarianceFloor, p.cfg.Behavioral.MVNN,
	); err != nil && p.log != nil {
		p.log.Warn("updateProfiles: UpsertUser failed", zap.Error(err))
	}
}

// persistZeroScore handles the pre-filter fast path: the event is still
// recorded (idempotent on event id, spec §4.2 step 5's "regardless, the
// event itself is persisted once") with a zero score and never published.
func (p *Processor) persistZeroScore(ev eventmodel.Event, repoProfile *storage.RepositoryProfile) {
	rec := storage.AnomalyRecord{
		EventID:        ev.ID,
		RepositoryName: ev.Repository.FullName,
		UserLogin:      ev.Actor.Login,
		EventType:      string(ev.Type),
		Timestamp:      ev.Timestamp,
		SeverityLevel:  storage.SeverityInfo,
		PrimaryMethod:  "prefilter",
	}
	if repoProfile != nil {
		rec.RepositoryCriticalityScore = repoProfile.CriticalityScore
	}
	if err := p.sink.Put(rec); err != nil && p.log != nil {
		p.log.Warn("persistZeroScore: sink.Put failed", zap.Error(err))
	}
}

// publish fans rec out to every channel spec §6 names: the firehose, the
// per-severity channel, and the per-actor/per-repository channels a
// dashboard would subscribe to when watching one user or one repository.
func (p *Processor) publish(rec storage.AnomalyRecord, actorID int64) {
	if p.pub == nil {
		return
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return
	}
	p.pub.Publish(pubsub.ChannelAnomalies, payload)
	p.pub.Publish(pubsub.ChannelSeverity(rec.SeverityLevel), payload)
	p.pub.Publish(pubsub.ChannelUser(actorID), payload)
	p.pub.Publish(pubsub.ChannelRepo(rec.RepositoryName), payload)
}

func (p *Processor) enrich(ctx context.Context, rec *storage.AnomalyRecord) {
	summarizer, err := enrichment.Get(p.cfg.EnrichmentName)
	if err != nil {
		if p.log != nil {
			p.log.Warn("enrich: summarizer unavailable", zap.Error(err))
		}
		return
	}
	timeout := p.cfg.EnrichmentTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	enrichCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	summary, err := summarizer.Summarize(enrichCtx, *rec)
	if err != nil {
		if p.log != nil {
			p.log.Warn("enrich: summarize failed", zap.Error(err))
		}
		return
	}
	rec.AISummary = summary
}

func toActorEvent(ev eventmodel.Event) detectors.ActorEvent {
	ae := detectors.ActorEvent{
		Timestamp: ev.Timestamp,
		Type:      ev.Type,
		RepoID:    ev.Repository.ID,
	}
	if push, ok := ev.Payload.(eventmodel.PayloadPush); ok {
		ae.IsCommitEvent = true
		ae.CommitMsgCount = len(push.Commits)
		var totalLen int
		var totalFiles int
		for _, c := range push.Commits {
			totalLen += len(c.Message)
			totalFiles += c.FilesChanged
		}
		if len(push.Commits) > 0 {
			ae.CommitMsgLenAvg = float64(totalLen) / float64(len(push.Commits))
		}
		ae.FilesChanged = totalFiles
	}
	return ae
}

func collectIndicators(results ...detectors.Result) []string {
	var out []string
	for _, r := range results {
		for _, a := range r.Anomalies {
			if a.Location != "" {
				out = append(out, fmt.Sprintf("%s:%s", a.Type, a.Location))
			} else if a.FeatureName != "" {
				out = append(out, fmt.Sprintf("%s:%s", a.Type, a.FeatureName))
			} else {
				out = append(out, a.Type)
			}
		}
	}
	return out
}

func marshalOrNull(v interface{}) json.RawMessage {
	if v == nil {
		return json.RawMessage("null")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return data
}
