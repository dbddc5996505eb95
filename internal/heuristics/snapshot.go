// File: internal/heuristics/snapshot.go
// Description: Parses a raw DOM snapshot into typed structural values. The
// scoring functions operate on these values only, which keeps every
// heuristic testable without a live browser.
package heuristics

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// PageSnapshot is a structural view of one loaded page.
type PageSnapshot struct {
	URL      string
	Title    string
	BodyText string
	Links    []LinkSnapshot
	Forms    []FormSnapshot
	// FrameSrcs lists the src of every iframe/frame on the page; challenge
	// widgets almost always embed their vendor frame.
	FrameSrcs []string
}

// LinkSnapshot is one hyperlink-like element.
type LinkSnapshot struct {
	Text      string
	Href      string
	Title     string
	AriaLabel string
	// InLandmark is true when the link sits inside a nav/header landmark,
	// where real contact links tend to live.
	InLandmark bool
}

// FormSnapshot is one candidate form container.
type FormSnapshot struct {
	// Selector locates the form element. Uses id, name or action when
	// available, nth-of-type as a last resort.
	Selector string
	Index    int
	Action   string
	Text     string
	Classes  []string
	Inputs   []InputSnapshot
	Buttons  []ButtonSnapshot
}

// ButtonSnapshot is one clickable control inside a form: button elements,
// submit/button/image inputs and role="button" elements.
type ButtonSnapshot struct {
	Tag      string
	Type     string
	Text     string
	Visible  bool
	Selector string
}

// InputSnapshot is one input-capable descendant of a form, in document
// order. Adjacency of composite sub-fields is positional in Inputs.
type InputSnapshot struct {
	Tag         string // input, textarea, select
	Type        string // input type attribute, lowercased
	ID          string
	Name        string
	Placeholder string
	AriaLabel   string
	// Label is the text of the associated label element, matched by its
	// for attribute or by wrapping.
	Label     string
	MaxLength int
	Classes   []string
	// ContainerClasses and ContainerText describe the input's nearest
	// non-form ancestors, used for provider-specific pattern detection.
	ContainerClasses []string
	ContainerText    string
	Visible          bool
	// Selector locates this element, scoped under its form. It references
	// the id only when the id needs no CSS escaping; otherwise the name
	// attribute in quoted form, since id-based lookups silently fail on
	// markup like id="input_1:2".
	Selector string
}

// IsTextual reports whether the input accepts typed text.
func (in InputSnapshot) IsTextual() bool {
	if in.Tag == "textarea" {
		return true
	}
	if in.Tag != "input" {
		return false
	}
	switch in.Type {
	case "", "text", "email", "tel", "number", "search", "url":
		return true
	}
	return false
}

// parser walks the HTML tree accumulating snapshot state.
type parser struct {
	page      *PageSnapshot
	labels    map[string]string // label for= -> text
	formCount int
}

// Parse builds a PageSnapshot from raw outer HTML.
func Parse(rawHTML, pageURL string) (*PageSnapshot, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page snapshot: %w", err)
	}

	p := &parser{
		page:   &PageSnapshot{URL: pageURL},
		labels: map[string]string{},
	}
	// Labels first, so inputs anywhere in the tree can find theirs.
	p.collectLabels(doc)
	p.walk(doc, walkState{})

	p.page.BodyText = strings.Join(strings.Fields(p.page.BodyText), " ")
	return p.page, nil
}

// walkState carries ancestor context down the tree.
type walkState struct {
	inLandmark bool
	hidden     bool
}

func (p *parser) collectLabels(n *html.Node) {
	if n.Type == html.ElementNode && n.DataAtom == atom.Label {
		if forID := attrVal(n, "for"); forID != "" {
			p.labels[forID] = nodeText(n)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		p.collectLabels(c)
	}
}

func (p *parser) walk(n *html.Node, st walkState) {
	if n.Type == html.TextNode {
		p.page.BodyText += " " + n.Data
		return
	}
	if n.Type != html.ElementNode {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			p.walk(c, st)
		}
		return
	}

	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Noscript:
		return
	case atom.Title:
		p.page.Title = nodeText(n)
		return
	case atom.Nav, atom.Header:
		st.inLandmark = true
	case atom.Iframe, atom.Frame:
		if src := attrVal(n, "src"); src != "" {
			p.page.FrameSrcs = append(p.page.FrameSrcs, src)
		}
	case atom.A:
		p.page.Links = append(p.page.Links, LinkSnapshot{
			Text:       strings.TrimSpace(nodeText(n)),
			Href:       attrVal(n, "href"),
			Title:      attrVal(n, "title"),
			AriaLabel:  attrVal(n, "aria-label"),
			InLandmark: st.inLandmark || attrVal(n, "role") == "navigation",
		})
	case atom.Form:
		p.parseForm(n, st)
		return
	}

	if isHiddenNode(n) {
		st.hidden = true
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		p.walk(c, st)
	}
}

func (p *parser) parseForm(n *html.Node, st walkState) {
	form := FormSnapshot{
		Index:   p.formCount,
		Action:  attrVal(n, "action"),
		Classes: classList(n),
		Text:    strings.Join(strings.Fields(nodeText(n)), " "),
	}
	form.Selector = formSelector(n, p.formCount)
	p.formCount++

	p.collectInputs(n, &form, inputContext{hidden: st.hidden})
	p.page.Forms = append(p.page.Forms, form)

	// Form text still belongs to the page body for block-page signatures.
	p.page.BodyText += " " + form.Text
}

// inputContext mirrors walkState for descent inside a form.
type inputContext struct {
	hidden           bool
	containerClasses []string
	containerText    string
	wrappingLabel    string
}

func (p *parser) collectInputs(n *html.Node, form *FormSnapshot, ctx inputContext) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			// Bare text ahead of an input acts as its container text.
			if t := strings.TrimSpace(c.Data); t != "" {
				ctx.containerText = t
			}
			continue
		}
		if c.Type != html.ElementNode {
			continue
		}
		childCtx := ctx
		if isHiddenNode(c) {
			childCtx.hidden = true
		}

		switch c.DataAtom {
		case atom.Script, atom.Style:
			continue
		case atom.Label:
			label := strings.TrimSpace(nodeText(c))
			childCtx.wrappingLabel = label
			// A label also precedes its sibling inputs.
			ctx.containerText = label
		case atom.Input, atom.Textarea, atom.Select:
			if isButtonInput(c) {
				form.Buttons = append(form.Buttons, p.buildButton(c, form, childCtx))
				continue
			}
			form.Inputs = append(form.Inputs, p.buildInput(c, form, childCtx))
			continue
		case atom.Button:
			form.Buttons = append(form.Buttons, p.buildButton(c, form, childCtx))
			continue
		default:
			if attrVal(c, "role") == "button" {
				form.Buttons = append(form.Buttons, p.buildButton(c, form, childCtx))
				continue
			}
			// Any other wrapper becomes the nearest container for its
			// descendants, and its text precedes the siblings that follow.
			if cls := classList(c); len(cls) > 0 {
				childCtx.containerClasses = cls
			}
			if txt := directText(c); txt != "" {
				childCtx.containerText = txt
				ctx.containerText = txt
			}
		}
		p.collectInputs(c, form, childCtx)
	}
}

func (p *parser) buildInput(n *html.Node, form *FormSnapshot, ctx inputContext) InputSnapshot {
	in := InputSnapshot{
		Tag:              n.Data,
		Type:             strings.ToLower(attrVal(n, "type")),
		ID:               attrVal(n, "id"),
		Name:             attrVal(n, "name"),
		Placeholder:      attrVal(n, "placeholder"),
		AriaLabel:        attrVal(n, "aria-label"),
		Classes:          classList(n),
		ContainerClasses: ctx.containerClasses,
		ContainerText:    ctx.containerText,
	}
	if ml := attrVal(n, "maxlength"); ml != "" {
		if v, err := strconv.Atoi(ml); err == nil {
			in.MaxLength = v
		}
	}

	in.Label = ctx.wrappingLabel
	if in.Label == "" && in.ID != "" {
		in.Label = strings.TrimSpace(p.labels[in.ID])
	}

	in.Visible = !ctx.hidden && !isHiddenNode(n) && in.Type != "hidden"
	in.Selector = inputSelector(in, form.Selector)
	return in
}

func isButtonInput(n *html.Node) bool {
	if n.DataAtom != atom.Input {
		return false
	}
	switch strings.ToLower(attrVal(n, "type")) {
	case "submit", "button", "image", "reset":
		return true
	}
	return false
}

func (p *parser) buildButton(n *html.Node, form *FormSnapshot, ctx inputContext) ButtonSnapshot {
	b := ButtonSnapshot{
		Tag:     n.Data,
		Type:    strings.ToLower(attrVal(n, "type")),
		Visible: !ctx.hidden && !isHiddenNode(n),
	}
	if n.DataAtom == atom.Input {
		b.Text = attrVal(n, "value")
	} else {
		b.Text = nodeText(n)
	}
	b.Selector = buttonSelector(n, b, form)
	return b
}

// -- node helpers --

func attrVal(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func classList(n *html.Node) []string {
	return strings.Fields(attrVal(n, "class"))
}

// nodeText concatenates all descendant text.
func nodeText(n *html.Node) string {
	var sb strings.Builder
	var rec func(*html.Node)
	rec = func(m *html.Node) {
		if m.Type == html.TextNode {
			sb.WriteString(m.Data)
			sb.WriteString(" ")
		}
		for c := m.FirstChild; c != nil; c = c.NextSibling {
			if c.DataAtom == atom.Script || c.DataAtom == atom.Style {
				continue
			}
			rec(c)
		}
	}
	rec(n)
	return strings.TrimSpace(strings.Join(strings.Fields(sb.String()), " "))
}

// directText returns only the immediate text children of a node.
func directText(n *html.Node) string {
	var parts []string
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			if t := strings.TrimSpace(c.Data); t != "" {
				parts = append(parts, t)
			}
		}
	}
	return strings.Join(parts, " ")
}

func isHiddenNode(n *html.Node) bool {
	if hasAttr(n, "hidden") || attrVal(n, "aria-hidden") == "true" {
		return true
	}
	style := strings.ReplaceAll(strings.ToLower(attrVal(n, "style")), " ", "")
	return strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden")
}
