// File: internal/analyzer/analyzer.go
// Description: Turns a page snapshot into a FormDescriptor. The highest
// scoring form container wins, not the first one encountered; composites are
// recognized in a second pass over inputs the primary mapping left unclaimed.
package analyzer

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/formcourier/formcourier/api/schemas"
	"github.com/formcourier/formcourier/internal/heuristics"
)

// Analyzer extracts structured form descriptors from page snapshots.
type Analyzer struct {
	logger *zap.Logger
}

// New creates a form analyzer.
func New(logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{logger: logger.Named("analyzer")}
}

// scoredForm pairs a form with its mapping and clamped total.
type scoredForm struct {
	form    heuristics.FormSnapshot
	fields  []schemas.FieldCandidate
	claimed map[int]bool // index into form.Inputs
	total   int
}

// Analyze scores every form on the page and returns a descriptor for the
// best one. onContactPage adds the contextual bonus for pages that were
// themselves resolved as the contact page. Returns ErrNoFormFound (wrapped)
// when nothing qualifies.
func (a *Analyzer) Analyze(page *heuristics.PageSnapshot, onContactPage bool) (schemas.FormDescriptor, error) {
	var best *scoredForm
	for _, form := range page.Forms {
		sf := a.scoreForm(form, onContactPage)
		if sf.total <= 0 {
			continue
		}
		if best == nil || sf.total > best.total {
			best = sf
		}
	}

	if best == nil {
		return schemas.FormDescriptor{}, fmt.Errorf("analyzed %d form(s) on %s: %w",
			len(page.Forms), page.URL, schemas.ErrNoFormFound)
	}

	desc := schemas.FormDescriptor{
		FormSelector: best.form.Selector,
		Fields:       best.fields,
		Confidence:   best.total,
		Composites:   detectComposites(best.form, best.claimed),
	}

	a.logger.Debug("form selected",
		zap.String("url", page.URL),
		zap.String("form", desc.FormSelector),
		zap.Int("confidence", desc.Confidence),
		zap.Int("fields", len(desc.Fields)),
		zap.Int("composites", len(desc.Composites)),
	)
	return desc, nil
}

// scoreForm assigns roles to a form's inputs and totals the heuristic.
// Each role is claimed at most once, in document order.
func (a *Analyzer) scoreForm(form heuristics.FormSnapshot, onContactPage bool) *scoredForm {
	sf := &scoredForm{form: form, claimed: map[int]bool{}}
	seen := map[schemas.FieldRole]bool{}

	for i, in := range form.Inputs {
		role, points, ok := heuristics.ClassifyInput(in)
		if !ok || seen[role] {
			continue
		}
		// A phone input too short to hold a full number is a composite
		// member, not the primary phone field; leave it unclaimed for the
		// second pass.
		if role == schemas.RolePhone && in.MaxLength > 0 && in.MaxLength <= 5 {
			continue
		}
		// Likewise a name input inside a provider split-name widget
		// belongs to the composite, even when its label says "First".
		if nameRole(role) && hasProviderNameContainer(in) {
			continue
		}
		if in.Visible {
			points += heuristics.BonusVisible
		}
		seen[role] = true
		sf.claimed[i] = true
		sf.fields = append(sf.fields, schemas.FieldCandidate{
			Role:     role,
			Selector: in.Selector,
			Points:   points,
			Visible:  in.Visible,
		})
		sf.total += points
	}

	if sf.total == 0 {
		return sf
	}
	if onContactPage {
		sf.total += heuristics.BonusContactPage
	}
	if heuristics.HasSalesKeyword(form.Text) {
		sf.total += heuristics.BonusSalesKeyword
	}
	sf.total = heuristics.Clamp(sf.total)
	return sf
}

func nameRole(role schemas.FieldRole) bool {
	switch role {
	case schemas.RoleFirstName, schemas.RoleLastName, schemas.RoleName:
		return true
	}
	return false
}
