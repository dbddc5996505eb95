// File: internal/heuristics/selector.go
package heuristics

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// cssSafeIdent reports whether a value can be used in a #id selector
// without escaping. Markup in the wild uses ids like "input_2:1.3"; a
// #input_2:1.3 lookup silently matches nothing, so such ids are rejected
// here and the name attribute is used instead.
func cssSafeIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == '-':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// formSelector builds a locator for a form element: id, then name, then
// action attribute, then position.
func formSelector(n *html.Node, index int) string {
	if id := attrVal(n, "id"); cssSafeIdent(id) {
		return "#" + id
	}
	if name := attrVal(n, "name"); name != "" {
		return fmt.Sprintf(`form[name=%q]`, name)
	}
	if action := attrVal(n, "action"); action != "" {
		return fmt.Sprintf(`form[action=%q]`, action)
	}
	return fmt.Sprintf("form:nth-of-type(%d)", index+1)
}

// inputSelector builds a locator for an input, scoped under its form so it
// stays unique on pages with several similar forms.
func inputSelector(in InputSnapshot, formSelector string) string {
	var local string
	switch {
	case cssSafeIdent(in.ID):
		// A clean id is unique by definition; no form scoping needed.
		return "#" + in.ID
	case in.Name != "":
		// Quoted attribute selectors are safe for any name value,
		// including names containing colons.
		local = fmt.Sprintf(`%s[name=%q]`, in.Tag, in.Name)
	case in.Placeholder != "":
		local = fmt.Sprintf(`%s[placeholder=%q]`, in.Tag, in.Placeholder)
	default:
		local = in.Tag
	}
	if formSelector == "" {
		return local
	}
	return strings.TrimSpace(formSelector + " " + local)
}

// buttonSelector builds a locator for a clickable control. Buttons that
// expose neither a usable id nor a name fall back to an XPath anchored on
// the form's document position, since CSS cannot select by text.
func buttonSelector(n *html.Node, b ButtonSnapshot, form *FormSnapshot) string {
	if id := attrVal(n, "id"); cssSafeIdent(id) {
		return "#" + id
	}
	if name := attrVal(n, "name"); name != "" {
		return fmt.Sprintf(`%s %s[name=%q]`, form.Selector, b.Tag, name)
	}
	if b.Tag == "input" && b.Type != "" {
		return fmt.Sprintf(`%s input[type=%q]`, form.Selector, b.Type)
	}
	if text := strings.TrimSpace(b.Text); text != "" {
		if b.Tag == "button" {
			return fmt.Sprintf(`(//form)[%d]//button[normalize-space()=%q]`, form.Index+1, text)
		}
		return fmt.Sprintf(`(//form)[%d]//*[@role="button"][normalize-space()=%q]`, form.Index+1, text)
	}
	return fmt.Sprintf(`%s %s`, form.Selector, b.Tag)
}
