// File: internal/heuristics/scoring.go
// Description: Pure scoring functions classifying structural snapshots into
// semantic roles. Point weights follow the contact-form heuristic: email 30,
// first/last name 20/15, message 25, phone 10, plus contextual bonuses.
package heuristics

import (
	"strings"

	"github.com/formcourier/formcourier/api/schemas"
)

// Point weights for role indicators.
const (
	PointsEmail     = 30
	PointsMessage   = 25
	PointsFirstName = 20
	PointsName      = 20
	PointsLastName  = 15
	PointsPhone     = 10
	PointsZip       = 10
	PointsConsent   = 5

	// Contextual bonuses applied at the form level.
	BonusContactPage  = 15
	BonusSalesKeyword = 20
	BonusVisible      = 5

	// MaxConfidence caps a form's clamped total.
	MaxConfidence = 100
)

// contactKeywords score hyperlinks during page resolution.
var contactKeywords = []struct {
	kw     string
	points int
}{
	{"contact us", 12},
	{"contact-us", 12},
	{"contactus", 10},
	{"contact", 10},
	{"get in touch", 8},
	{"reach us", 6},
	{"enquir", 5},
	{"inquir", 5},
	{"support", 3},
}

// LandmarkBonus rewards links nested inside nav/header landmarks.
const LandmarkBonus = 5

// salesKeywords mark a form as inquiry-capable.
var salesKeywords = []string{"sales", "inquiry", "enquiry", "quote", "request", "message us", "get in touch"}

var roleIndicators = map[schemas.FieldRole][]string{
	schemas.RoleEmail:     {"email", "e-mail"},
	schemas.RoleFirstName: {"first_name", "firstname", "first-name", "fname", "first"},
	schemas.RoleLastName:  {"last_name", "lastname", "last-name", "lname", "last", "surname"},
	schemas.RoleName:      {"your-name", "full_name", "fullname", "full-name", "name"},
	schemas.RolePhone:     {"phone", "telephone", "tel", "mobile"},
	schemas.RoleZip:       {"zip", "postal", "postcode"},
	schemas.RoleMessage:   {"message", "comments", "comment", "inquiry", "enquiry", "question"},
	schemas.RoleConsent:   {"consent", "agree", "privacy", "gdpr", "opt_in", "opt-in", "optin"},
}

// ScoreLink rates how likely a hyperlink leads to a contact page, matching
// the keyword set against visible text, href, title and accessible label.
func ScoreLink(l LinkSnapshot) int {
	score := 0
	text := strings.ToLower(l.Text)
	href := strings.ToLower(l.Href)
	title := strings.ToLower(l.Title)
	aria := strings.ToLower(l.AriaLabel)

	for _, c := range contactKeywords {
		matched := false
		if strings.Contains(href, c.kw) {
			score += c.points
			matched = true
		}
		if strings.Contains(text, c.kw) {
			score += c.points
			matched = true
		}
		if strings.Contains(title, c.kw) || strings.Contains(aria, c.kw) {
			score += c.points / 2
			matched = true
		}
		if matched {
			// The keyword list is ordered most-specific first; one match
			// is enough.
			break
		}
	}

	if score > 0 && l.InLandmark {
		score += LandmarkBonus
	}
	return score
}

// ClassifyInput assigns a semantic role and its point contribution to one
// input. Returns ok=false for inputs that match no role.
func ClassifyInput(in InputSnapshot) (schemas.FieldRole, int, bool) {
	if !in.IsTextual() && !(in.Tag == "input" && in.Type == "checkbox") {
		return "", 0, false
	}

	// Hard signals from the type attribute come first.
	if in.Tag == "input" {
		switch in.Type {
		case "email":
			return schemas.RoleEmail, PointsEmail, true
		case "tel":
			return schemas.RolePhone, PointsPhone, true
		case "checkbox":
			if matchesRole(in, schemas.RoleConsent) {
				return schemas.RoleConsent, PointsConsent, true
			}
			return "", 0, false
		}
	}

	// A textarea is a message box unless its attributes say otherwise.
	if in.Tag == "textarea" {
		return schemas.RoleMessage, PointsMessage, true
	}

	// Attribute/label keyword matching, most-specific role first. RoleName
	// comes after first/last so "first_name" never falls through to the
	// generic "name" indicator.
	ordered := []struct {
		role   schemas.FieldRole
		points int
	}{
		{schemas.RoleEmail, PointsEmail},
		{schemas.RoleMessage, PointsMessage},
		{schemas.RoleFirstName, PointsFirstName},
		{schemas.RoleLastName, PointsLastName},
		{schemas.RolePhone, PointsPhone},
		{schemas.RoleZip, PointsZip},
		{schemas.RoleName, PointsName},
	}
	for _, r := range ordered {
		if matchesRole(in, r.role) {
			return r.role, r.points, true
		}
	}
	return "", 0, false
}

// matchesRole checks the role's indicator keywords against every naming
// surface the element exposes.
func matchesRole(in InputSnapshot, role schemas.FieldRole) bool {
	haystack := strings.ToLower(strings.Join([]string{
		in.Name, in.ID, in.Placeholder, in.AriaLabel, in.Label,
	}, " "))
	for _, kw := range roleIndicators[role] {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}

// HasSalesKeyword reports whether form text suggests a sales/inquiry form.
func HasSalesKeyword(formText string) bool {
	lower := strings.ToLower(formText)
	for _, kw := range salesKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ContainsPhoneKeyword checks container/label text for a phone indicator,
// used by the split-phone composite detector.
func ContainsPhoneKeyword(texts ...string) bool {
	for _, t := range texts {
		lower := strings.ToLower(t)
		for _, kw := range roleIndicators[schemas.RolePhone] {
			if strings.Contains(lower, kw) {
				return true
			}
		}
	}
	return false
}

// Clamp bounds a form total to [0, MaxConfidence].
func Clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > MaxConfidence {
		return MaxConfidence
	}
	return score
}
