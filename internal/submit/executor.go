// File: internal/submit/executor.go
// Description: Fills the analyzed form and drives it through submission.
// The executor never guesses success: a click with no verification signal is
// reported as a failure, not assumed delivered.
package submit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/formcourier/formcourier/api/schemas"
	"github.com/formcourier/formcourier/internal/config"
	"github.com/formcourier/formcourier/internal/heuristics"
)

// ChallengeScanner is the single-pass challenge check run before clicking.
type ChallengeScanner interface {
	ScanOnce(ctx context.Context, sess schemas.BrowserSession) (schemas.ChallengeResult, error)
}

// clickChain is the ordered escalation of click dispatch methods.
var clickChain = []schemas.ClickStrategy{
	schemas.ClickStandard,
	schemas.ClickForced,
	schemas.ClickScript,
	schemas.ClickSynthetic,
}

// submitPhrases match submit-control text exactly (after normalization).
var submitPhrases = []string{
	"send", "submit", "send message", "send us a message",
	"contact us", "get in touch", "submit form", "send inquiry",
}

// submitTokens mark a button text as submit-adjacent for the last-resort
// pass over remaining button-like elements.
var submitTokens = []string{"send", "submit", "contact", "message"}

// validationSelectors locate visible inline validation errors, checked
// scoped under the form before clicking.
var validationSelectors = []string{
	".validation_message",
	".wpcf7-not-valid-tip",
	".field-error",
	".form-error",
	".error-message",
	`[role="alert"]`,
}

// successSelectors locate provider confirmation banners.
var successSelectors = []string{
	".gform_confirmation_message",
	".wpcf7-mail-sent-ok",
	".elementor-message-success",
	".form-success",
	".success-message",
	".thank-you-message",
}

// confirmationTokens in a post-click URL mark a redirect to a thank-you
// page.
var confirmationTokens = []string{"thank", "success", "confirm", "submitted"}

// thankYouPhrases in the post-click body text confirm delivery.
var thankYouPhrases = []string{
	"thank you", "thanks for", "message has been sent",
	"we will be in touch", "we'll be in touch", "successfully sent",
	"your message was sent", "submission received",
}

// Executor fills and submits one analyzed form.
type Executor struct {
	logger  *zap.Logger
	scanner ChallengeScanner
	clock   clockwork.Clock
	settle  time.Duration
}

// New creates an executor.
func New(logger *zap.Logger, scanner ChallengeScanner, clock clockwork.Clock, cfg config.SubmitConfig) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Executor{
		logger:  logger.Named("submit"),
		scanner: scanner,
		clock:   clock,
		settle:  cfg.SettleDelay,
	}
}

// Fill types the payload into every mapped field. Roles without a payload
// value are skipped; composite fields receive their value in parts.
func (e *Executor) Fill(ctx context.Context, sess schemas.BrowserSession, desc schemas.FormDescriptor, payload schemas.Payload) error {
	for _, field := range desc.Fields {
		value, ok := valueForRole(field.Role, payload)
		if !ok {
			continue
		}
		if field.Role == schemas.RoleConsent {
			if err := sess.SetChecked(ctx, field.Selector, true); err != nil {
				return fmt.Errorf("consent checkbox %s: %w", field.Selector, err)
			}
			continue
		}
		if err := sess.Type(ctx, field.Selector, value); err != nil {
			return fmt.Errorf("field %s (%s): %w", field.Role, field.Selector, err)
		}
	}

	for _, comp := range desc.Composites {
		if err := e.fillComposite(ctx, sess, comp, payload); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) fillComposite(ctx context.Context, sess schemas.BrowserSession, comp schemas.CompositeField, payload schemas.Payload) error {
	typePart := func(tag schemas.PartTag, value string) error {
		part, ok := comp.Part(tag)
		if !ok || value == "" {
			return nil
		}
		if err := sess.Type(ctx, part.Selector, value); err != nil {
			return fmt.Errorf("composite %s part %s (%s): %w", comp.Kind, tag, part.Selector, err)
		}
		return nil
	}

	switch comp.Kind {
	case schemas.CompositeSplitPhone:
		area, prefix, suffix, ok := SplitPhone(payload.Phone)
		if !ok {
			if payload.Phone != "" {
				e.logger.Debug("phone does not split into 3/3/4, skipping split widget",
					zap.String("phone", payload.Phone))
			}
			return nil
		}
		for _, p := range []struct {
			tag   schemas.PartTag
			value string
		}{
			{schemas.PartArea, area},
			{schemas.PartPrefix, prefix},
			{schemas.PartSuffix, suffix},
		} {
			if err := typePart(p.tag, p.value); err != nil {
				return err
			}
		}
		return nil

	case schemas.CompositeSplitName:
		if err := typePart(schemas.PartFirst, payload.FirstName); err != nil {
			return err
		}
		return typePart(schemas.PartLast, payload.LastName)

	case schemas.CompositeProviderZip:
		return typePart(schemas.PartZip, payload.PostalCode)
	}
	return nil
}

func valueForRole(role schemas.FieldRole, p schemas.Payload) (string, bool) {
	var v string
	switch role {
	case schemas.RoleEmail:
		v = p.Email
	case schemas.RoleFirstName:
		v = p.FirstName
	case schemas.RoleLastName:
		v = p.LastName
	case schemas.RoleName:
		v = p.FullName()
	case schemas.RolePhone:
		v = PhoneDigits(p.Phone)
	case schemas.RoleZip:
		v = p.PostalCode
	case schemas.RoleMessage:
		v = p.Message
	case schemas.RoleConsent:
		if !p.Consent {
			return "", false
		}
		return "", true
	}
	return v, strings.TrimSpace(v) != ""
}

// Submit runs the guards, clicks the submit control and verifies the
// result. The returned outcome is terminal for the attempt; the error is
// reserved for session-level failures (a dead tab, a cancelled context).
func (e *Executor) Submit(ctx context.Context, sess schemas.BrowserSession, desc schemas.FormDescriptor) (schemas.SubmissionOutcome, error) {
	beforeURL, err := sess.CurrentURL(ctx)
	if err != nil {
		return schemas.SubmissionOutcome{}, fmt.Errorf("pre-submit URL: %w", err)
	}

	// A challenge can appear between analysis and submission, rendered by
	// the page's own scripts in response to the filling activity.
	chal, err := e.scanner.ScanOnce(ctx, sess)
	if err != nil {
		return schemas.SubmissionOutcome{}, err
	}
	if chal.Detected() && chal.Visible {
		return schemas.ChallengeOutcome(chal.Type, "challenge appeared before submit"), nil
	}

	if detail, found := e.visibleValidationError(ctx, sess, desc); found {
		return schemas.FailedOutcome(schemas.FailValidationError, detail), nil
	}

	control, detail := e.findSubmitControl(ctx, sess, desc)
	if control == "" {
		return schemas.FailedOutcome(schemas.FailSubmitControlMissing, detail), nil
	}

	method, clicked := e.click(ctx, sess, control)
	if !clicked {
		return schemas.FailedOutcome(schemas.FailClickStrategiesExhausted,
			fmt.Sprintf("all %d click strategies failed on %s", len(clickChain), control)), nil
	}

	select {
	case <-ctx.Done():
		return schemas.SubmissionOutcome{}, ctx.Err()
	case <-e.clock.After(e.settle):
	}

	outcome := e.verify(ctx, sess, desc, beforeURL, method)
	outcome.ClickDispatched = true
	return outcome, nil
}

func (e *Executor) visibleValidationError(ctx context.Context, sess schemas.BrowserSession, desc schemas.FormDescriptor) (string, bool) {
	for _, sel := range validationSelectors {
		scoped := desc.FormSelector + " " + sel
		visible, err := sess.Visible(ctx, scoped)
		if err != nil || !visible {
			continue
		}
		text, err := sess.Text(ctx, scoped)
		if err != nil || strings.TrimSpace(text) == "" {
			continue
		}
		return strings.TrimSpace(text), true
	}
	return "", false
}

// findSubmitControl locates the element to click: canonical submit
// selectors, then text-matched buttons from a fresh snapshot, then any
// remaining button-like element with submit-adjacent text.
func (e *Executor) findSubmitControl(ctx context.Context, sess schemas.BrowserSession, desc schemas.FormDescriptor) (string, string) {
	canonical := []string{
		desc.FormSelector + ` button[type="submit"]`,
		desc.FormSelector + ` input[type="submit"]`,
	}
	for _, sel := range canonical {
		if found, err := sess.Exists(ctx, sel); err == nil && found {
			return sel, ""
		}
	}

	form, ok := e.snapshotForm(ctx, sess, desc)
	if !ok {
		return "", "form not found in post-fill snapshot"
	}

	for _, b := range form.Buttons {
		if !b.Visible {
			continue
		}
		text := normalizeButtonText(b.Text)
		for _, phrase := range submitPhrases {
			if text == phrase {
				return b.Selector, ""
			}
		}
	}
	for _, b := range form.Buttons {
		if !b.Visible {
			continue
		}
		text := normalizeButtonText(b.Text)
		for _, token := range submitTokens {
			if strings.Contains(text, token) {
				return b.Selector, ""
			}
		}
	}
	return "", fmt.Sprintf("no submit control among %d button(s)", len(form.Buttons))
}

func (e *Executor) snapshotForm(ctx context.Context, sess schemas.BrowserSession, desc schemas.FormDescriptor) (heuristics.FormSnapshot, bool) {
	raw, err := sess.DOM(ctx)
	if err != nil {
		e.logger.Warn("failed to snapshot page for submit discovery", zap.Error(err))
		return heuristics.FormSnapshot{}, false
	}
	page, err := heuristics.Parse(raw, "")
	if err != nil {
		return heuristics.FormSnapshot{}, false
	}
	for _, form := range page.Forms {
		if form.Selector == desc.FormSelector {
			return form, true
		}
	}
	return heuristics.FormSnapshot{}, false
}

func (e *Executor) click(ctx context.Context, sess schemas.BrowserSession, control string) (schemas.ClickStrategy, bool) {
	for _, strategy := range clickChain {
		if err := sess.Click(ctx, control, strategy); err != nil {
			e.logger.Debug("click strategy failed",
				zap.String("strategy", string(strategy)),
				zap.String("control", control),
				zap.Error(err),
			)
			continue
		}
		return strategy, true
	}
	return "", false
}

// verify checks the post-click signals in order; any single one confirms
// delivery. None of them firing is a failure, never an assumed success.
func (e *Executor) verify(ctx context.Context, sess schemas.BrowserSession, desc schemas.FormDescriptor, beforeURL string, method schemas.ClickStrategy) schemas.SubmissionOutcome {
	if after, err := sess.CurrentURL(ctx); err == nil && after != beforeURL && hasConfirmationToken(after) {
		return schemas.SuccessOutcome(string(method), schemas.VerifyURLChange)
	}

	for _, sel := range successSelectors {
		if visible, err := sess.Visible(ctx, sel); err == nil && visible {
			return schemas.SuccessOutcome(string(method), schemas.VerifySuccessMessage)
		}
	}

	if exists, err := sess.Exists(ctx, desc.FormSelector); err == nil && !exists {
		return schemas.SuccessOutcome(string(method), schemas.VerifyFormGone)
	}

	if raw, err := sess.DOM(ctx); err == nil {
		if page, perr := heuristics.Parse(raw, ""); perr == nil {
			body := strings.ToLower(page.BodyText)
			for _, phrase := range thankYouPhrases {
				if strings.Contains(body, phrase) {
					return schemas.SuccessOutcome(string(method), schemas.VerifyThankYouText)
				}
			}
		}
	}

	return schemas.FailedOutcome(schemas.FailAmbiguousNoSignal,
		"click dispatched but no verification signal appeared")
}

func normalizeButtonText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func hasConfirmationToken(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, tok := range confirmationTokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}
