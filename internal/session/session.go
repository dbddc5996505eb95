// File: internal/session/session.go

// Package session runs one target attempt end to end: resolve, analyze,
// challenge-check, fill, submit, verify. It owns the attempt's browser tab,
// its deadline and its event trail, and it is the single place where
// component errors are translated into terminal outcomes.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/formcourier/formcourier/api/schemas"
	"github.com/formcourier/formcourier/internal/config"
	"github.com/formcourier/formcourier/internal/heuristics"
)

// PageResolver finds the contact page for a site.
type PageResolver interface {
	Resolve(ctx context.Context, sess schemas.BrowserSession, site string) (schemas.ResolvedPage, error)
	ReportNoForm(ctx context.Context, site string) error
}

// FormAnalyzer maps a page snapshot to a form descriptor.
type FormAnalyzer interface {
	Analyze(page *heuristics.PageSnapshot, onContactPage bool) (schemas.FormDescriptor, error)
}

// ChallengeDetector scans a live page for anti-automation mechanisms.
type ChallengeDetector interface {
	Detect(ctx context.Context, sess schemas.BrowserSession) (schemas.ChallengeResult, error)
}

// FormFiller fills and submits a described form.
type FormFiller interface {
	Fill(ctx context.Context, sess schemas.BrowserSession, desc schemas.FormDescriptor, payload schemas.Payload) error
	Submit(ctx context.Context, sess schemas.BrowserSession, desc schemas.FormDescriptor) (schemas.SubmissionOutcome, error)
}

// Runner executes attempts. It is stateless between targets; all per-attempt
// state lives on the attempt struct so a crashed target leaks nothing into
// the next one.
type Runner struct {
	logger   *zap.Logger
	clock    clockwork.Clock
	manager  schemas.SessionManager
	resolver PageResolver
	analyzer FormAnalyzer
	detector ChallengeDetector
	filler   FormFiller
	sink     schemas.EventSink
	shots    schemas.ScreenshotSink

	deadline     time.Duration
	postLoadWait time.Duration
}

// New wires a runner from its collaborators.
func New(
	logger *zap.Logger,
	clock clockwork.Clock,
	manager schemas.SessionManager,
	resolver PageResolver,
	analyzer FormAnalyzer,
	detector ChallengeDetector,
	filler FormFiller,
	sink schemas.EventSink,
	shots schemas.ScreenshotSink,
	ecfg config.EngineConfig,
	ncfg config.NetworkConfig,
) *Runner {
	return &Runner{
		logger:       logger.Named("session"),
		clock:        clock,
		manager:      manager,
		resolver:     resolver,
		analyzer:     analyzer,
		detector:     detector,
		filler:       filler,
		sink:         sink,
		shots:        shots,
		deadline:     ecfg.SessionDeadline,
		postLoadWait: ncfg.PostLoadWait,
	}
}

// attempt is the mutable state of one target run.
type attempt struct {
	target      schemas.Target
	id          string
	state       schemas.SessionState
	resolvedURL string
	started     time.Time
}

// Run executes one attempt and always produces exactly one terminal
// outcome. The browser tab is released on every exit path; a deadline hit
// anywhere in the pipeline surfaces as the timed-out outcome rather than a
// stuck target.
func (r *Runner) Run(ctx context.Context, target schemas.Target) (schemas.SubmissionOutcome, schemas.AttemptMetadata) {
	at := &attempt{
		target:  target,
		id:      uuid.NewString(),
		state:   schemas.StateQueued,
		started: r.clock.Now(),
	}
	log := r.logger.With(
		zap.String("target_id", target.ID),
		zap.String("attempt_id", at.id),
		zap.String("site", target.SiteURL),
	)

	runCtx, cancel := context.WithTimeout(ctx, r.deadline)
	defer cancel()

	outcome := r.runPipeline(runCtx, at, log)

	completed := r.clock.Now()
	meta := schemas.AttemptMetadata{
		AttemptID:   at.id,
		ResolvedURL: at.resolvedURL,
		Duration:    completed.Sub(at.started),
		CompletedAt: completed,
	}
	log.Info("Attempt finished",
		zap.String("outcome", string(outcome.Kind)),
		zap.String("reason", outcome.HumanReason()),
		zap.Duration("duration", meta.Duration),
	)
	return outcome, meta
}

// runPipeline walks the attempt through the state machine and returns its
// terminal outcome. Terminal event publication (with screenshot capture)
// happens here, while the browser tab is still alive.
func (r *Runner) runPipeline(ctx context.Context, at *attempt, log *zap.Logger) schemas.SubmissionOutcome {
	sess, err := r.manager.OpenSession(ctx)
	if err != nil {
		log.Error("Failed to open browser session", zap.Error(err))
		outcome := schemas.BlockedOutcome(schemas.BlockUnreachable, "browser session could not be opened")
		r.finish(at, outcome, "")
		return outcome
	}
	defer r.closeSession(sess, log)

	outcome := r.drive(ctx, at, sess, log)

	ref := ""
	if outcome.Kind != schemas.OutcomeSuccess {
		// A screenshot of the final page state is what makes a blocked or
		// failed target actionable for a human.
		ref = r.captureScreenshot(at, sess, log)
	}
	r.finish(at, outcome, ref)
	return outcome
}

// drive runs the forward stages. Each stage either advances the state or
// returns the attempt's terminal outcome.
func (r *Runner) drive(ctx context.Context, at *attempt, sess schemas.BrowserSession, log *zap.Logger) schemas.SubmissionOutcome {
	// Resolving.
	r.transition(at, schemas.StateResolving)
	r.publish(at, schemas.Event{Kind: schemas.EventResolving})

	page, err := r.resolver.Resolve(ctx, sess, at.target.SiteURL)
	if err != nil {
		return r.translate(at, err, log)
	}
	at.resolvedURL = page.URL
	log.Debug("Contact page resolved",
		zap.String("url", page.URL),
		zap.Float64("confidence", page.Confidence),
		zap.Bool("from_cache", page.FromCache),
	)

	// Let late scripts (form builders, challenge loaders) render.
	if err := r.settle(ctx); err != nil {
		return r.translate(at, err, log)
	}

	// Challenge check. This runs before the analyzer on purpose: a
	// challenge interstitial has no contact form, and letting the analyzer
	// see it first would charge the cached resolution a no-form strike it
	// does not deserve.
	r.transition(at, schemas.StateChallengeCheck)
	challenge, err := r.detector.Detect(ctx, sess)
	if err != nil {
		return r.translate(at, err, log)
	}
	if challenge.Detected() {
		log.Warn("Challenge detected, attempt stopped",
			zap.String("type", string(challenge.Type)),
			zap.String("selector", challenge.Selector),
		)
		return schemas.ChallengeOutcome(challenge.Type, "challenge present on contact page")
	}

	// Analyzing.
	r.transition(at, schemas.StateAnalyzing)
	desc, err := r.analyzeLivePage(ctx, at, sess)
	if err != nil {
		return r.translate(at, err, log)
	}
	log.Debug("Form analyzed",
		zap.String("form", desc.FormSelector),
		zap.Int("confidence", desc.Confidence),
		zap.Int("fields", len(desc.Fields)),
		zap.Int("composites", len(desc.Composites)),
	)

	// Filling.
	r.transition(at, schemas.StateFilling)
	r.publish(at, schemas.Event{Kind: schemas.EventFilling})
	if err := r.filler.Fill(ctx, sess, desc, at.target.Payload); err != nil {
		return r.translate(at, err, log)
	}

	// Submitting and verifying run inside the executor. The submitted
	// event marks the click being dispatched; a pre-submit stop (missing
	// control, late challenge, visible validation error) never emits it.
	r.transition(at, schemas.StateSubmitting)
	outcome, err := r.filler.Submit(ctx, sess, desc)
	if err != nil {
		return r.translate(at, err, log)
	}
	if outcome.ClickDispatched {
		r.transition(at, schemas.StateVerifying)
		r.publish(at, schemas.Event{Kind: schemas.EventSubmitted})
	}
	return outcome
}

// analyzeLivePage snapshots the live DOM and runs the pure analyzer over
// it. An analyzer miss is reported back to the resolution cache so the
// cached URL accrues its no-form strike.
func (r *Runner) analyzeLivePage(ctx context.Context, at *attempt, sess schemas.BrowserSession) (schemas.FormDescriptor, error) {
	rawHTML, err := sess.DOM(ctx)
	if err != nil {
		return schemas.FormDescriptor{}, err
	}
	page, err := heuristics.Parse(rawHTML, at.resolvedURL)
	if err != nil {
		return schemas.FormDescriptor{}, err
	}
	desc, err := r.analyzer.Analyze(page, true)
	if err != nil {
		if errors.Is(err, schemas.ErrNoFormFound) {
			if rerr := r.resolver.ReportNoForm(ctx, at.target.SiteURL); rerr != nil {
				r.logger.Warn("Failed to record form miss", zap.Error(rerr))
			}
		}
		return schemas.FormDescriptor{}, err
	}
	return desc, nil
}

// translate maps a pipeline error onto the outcome lattice. Sentinel errors
// carry their own classification; everything else from a live browser is
// treated as the site being unreachable, since a disconnected tab and a
// down site are indistinguishable from here.
func (r *Runner) translate(at *attempt, err error, log *zap.Logger) schemas.SubmissionOutcome {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn("Attempt deadline exceeded", zap.String("state", string(at.state)))
		return schemas.TimedOutOutcome(at.state)
	case errors.Is(err, context.Canceled):
		return schemas.SubmissionOutcome{Kind: schemas.OutcomeTimedOut, Detail: "attempt cancelled"}
	case errors.Is(err, schemas.ErrUnreachable):
		return schemas.BlockedOutcome(schemas.BlockUnreachable, err.Error())
	case errors.Is(err, schemas.ErrNoContactPage), errors.Is(err, schemas.ErrNoFormFound):
		return schemas.BlockedOutcome(schemas.BlockNoForm, err.Error())
	default:
		log.Warn("Attempt error, classifying as unreachable", zap.Error(err))
		return schemas.BlockedOutcome(schemas.BlockUnreachable, err.Error())
	}
}

// finish moves the attempt to its terminal state and publishes the terminal
// event carrying everything a human needs to pick the target up.
func (r *Runner) finish(at *attempt, outcome schemas.SubmissionOutcome, screenshotRef string) {
	if outcome.Kind == schemas.OutcomeTimedOut {
		r.transition(at, schemas.StateTimedOut)
	} else {
		r.transition(at, schemas.StateCompleted)
	}
	r.publish(at, schemas.Event{
		Kind:          outcome.EventKind(),
		ChallengeType: outcome.ChallengeType,
		ScreenshotRef: screenshotRef,
		Detail:        outcome.HumanReason(),
	})
}

// captureScreenshot grabs the final page state and hands it to the sink.
// The attempt context may already be dead (deadline outcomes), so capture
// runs on its own short budget. Best effort: a failed capture costs only
// the reference.
func (r *Runner) captureScreenshot(at *attempt, sess schemas.BrowserSession, log *zap.Logger) string {
	shotCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	png, err := sess.Screenshot(shotCtx)
	if err != nil {
		log.Debug("Screenshot capture failed", zap.Error(err))
		return ""
	}
	ref, err := r.shots.Store(shotCtx, at.target.ID, png)
	if err != nil {
		log.Warn("Screenshot store failed", zap.Error(err))
		return ""
	}
	return ref
}

// closeSession releases the tab on its own budget, independent of the
// attempt deadline.
func (r *Runner) closeSession(sess schemas.BrowserSession, log *zap.Logger) {
	closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sess.Close(closeCtx); err != nil {
		log.Warn("Browser session close failed", zap.Error(err))
	}
}

// transition advances the state machine, tolerating the short-circuit paths
// the lattice allows.
func (r *Runner) transition(at *attempt, next schemas.SessionState) {
	if !at.state.CanTransition(next) {
		r.logger.DPanic("Illegal session state transition",
			zap.String("from", string(at.state)),
			zap.String("to", string(next)),
		)
		return
	}
	at.state = next
}

// publish stamps the attempt identity onto an event and hands it to the
// sink. Seq and timestamp are the bus's job.
func (r *Runner) publish(at *attempt, ev schemas.Event) {
	ev.TargetID = at.target.ID
	ev.State = at.state
	ev.ResolvedURL = at.resolvedURL
	r.sink.Publish(ev)
}

// settle waits out the post-load grace period.
func (r *Runner) settle(ctx context.Context) error {
	if r.postLoadWait <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.clock.After(r.postLoadWait):
		return nil
	}
}
