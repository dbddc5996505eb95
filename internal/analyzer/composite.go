// File: internal/analyzer/composite.go
// Description: Second-pass recognition of composite fields: one logical
// input spread across several DOM elements. Only inputs the primary mapping
// left unclaimed are considered, so a value is never written twice.
package analyzer

import (
	"strings"

	"github.com/formcourier/formcourier/api/schemas"
	"github.com/formcourier/formcourier/internal/heuristics"
)

// splitNameContainerClasses are provider-specific markers for a first/last
// name pair (Gravity Forms complex name widgets and kin).
var splitNameContainerClasses = []string{"ginput_complex", "name-fields", "gfield_name"}

// detectComposites scans unclaimed inputs for split-phone, split-name and
// provider zip patterns. Claimed indexes grow as composites are found so
// overlapping patterns cannot double-claim an element.
func detectComposites(form heuristics.FormSnapshot, claimed map[int]bool) []schemas.CompositeField {
	var out []schemas.CompositeField

	if c, ok := detectSplitPhone(form, claimed); ok {
		out = append(out, c)
	}
	if c, ok := detectSplitName(form, claimed); ok {
		out = append(out, c)
	}
	if c, ok := detectProviderZip(form, claimed); ok {
		out = append(out, c)
	}
	return out
}

// detectSplitPhone finds three adjacent text/tel inputs whose maxlength
// attributes are 3, 3 and 4 (area/prefix/suffix) with a phone keyword in
// their container, preceding label or names.
func detectSplitPhone(form heuristics.FormSnapshot, claimed map[int]bool) (schemas.CompositeField, bool) {
	inputs := form.Inputs
	for i := 0; i+2 < len(inputs); i++ {
		a, b, c := inputs[i], inputs[i+1], inputs[i+2]
		if claimed[i] || claimed[i+1] || claimed[i+2] {
			continue
		}
		if !phonePartCapable(a) || !phonePartCapable(b) || !phonePartCapable(c) {
			continue
		}
		if a.MaxLength != 3 || b.MaxLength != 3 || c.MaxLength != 4 {
			continue
		}
		if !heuristics.ContainsPhoneKeyword(a.ContainerText, a.Label, a.Name, b.Name, c.Name) {
			continue
		}

		claimed[i], claimed[i+1], claimed[i+2] = true, true, true
		return schemas.CompositeField{
			Kind: schemas.CompositeSplitPhone,
			Parts: []schemas.CompositePart{
				{Tag: schemas.PartArea, Selector: a.Selector, MaxLength: a.MaxLength},
				{Tag: schemas.PartPrefix, Selector: b.Selector, MaxLength: b.MaxLength},
				{Tag: schemas.PartSuffix, Selector: c.Selector, MaxLength: c.MaxLength},
			},
		}, true
	}
	return schemas.CompositeField{}, false
}

func phonePartCapable(in heuristics.InputSnapshot) bool {
	return in.Tag == "input" && (in.Type == "" || in.Type == "text" || in.Type == "tel")
}

// detectSplitName finds a first/last input pair, either inside a
// provider-specific container or, generically, governed by a "Name" label
// with exactly two inputs tagged first and last.
func detectSplitName(form heuristics.FormSnapshot, claimed map[int]bool) (schemas.CompositeField, bool) {
	inputs := form.Inputs
	for i := 0; i+1 < len(inputs); i++ {
		a, b := inputs[i], inputs[i+1]
		if claimed[i] || claimed[i+1] {
			continue
		}
		if !a.IsTextual() || !b.IsTextual() || a.Tag != "input" || b.Tag != "input" {
			continue
		}

		provider := hasProviderNameContainer(a) && hasProviderNameContainer(b)
		generic := strings.Contains(strings.ToLower(a.ContainerText), "name") &&
			partIndicates(a, "first") && partIndicates(b, "last")
		if !provider && !generic {
			continue
		}
		if provider && !(partIndicates(a, "first") && partIndicates(b, "last")) {
			continue
		}

		claimed[i], claimed[i+1] = true, true
		return schemas.CompositeField{
			Kind: schemas.CompositeSplitName,
			Parts: []schemas.CompositePart{
				{Tag: schemas.PartFirst, Selector: a.Selector},
				{Tag: schemas.PartLast, Selector: b.Selector},
			},
		}, true
	}
	return schemas.CompositeField{}, false
}

func hasProviderNameContainer(in heuristics.InputSnapshot) bool {
	for _, cls := range in.ContainerClasses {
		for _, marker := range splitNameContainerClasses {
			if strings.Contains(cls, marker) {
				return true
			}
		}
	}
	return false
}

// partIndicates checks every naming surface of a sub-input for a part
// keyword ("first"/"last").
func partIndicates(in heuristics.InputSnapshot, kw string) bool {
	surfaces := []string{in.Label, in.Placeholder, in.AriaLabel, in.Name, in.ID}
	surfaces = append(surfaces, in.Classes...)
	for _, s := range surfaces {
		if strings.Contains(strings.ToLower(s), kw) {
			return true
		}
	}
	return false
}

// detectProviderZip finds a single text input bound to a "Zip Code" label
// through its for attribute or a common ancestor.
func detectProviderZip(form heuristics.FormSnapshot, claimed map[int]bool) (schemas.CompositeField, bool) {
	for i, in := range form.Inputs {
		if claimed[i] || in.Tag != "input" || !in.IsTextual() {
			continue
		}
		label := strings.ToLower(in.Label)
		container := strings.ToLower(in.ContainerText)
		if !strings.Contains(label, "zip code") && !strings.Contains(container, "zip code") {
			continue
		}

		claimed[i] = true
		return schemas.CompositeField{
			Kind:  schemas.CompositeProviderZip,
			Parts: []schemas.CompositePart{{Tag: schemas.PartZip, Selector: in.Selector}},
		}, true
	}
	return schemas.CompositeField{}, false
}
