// -- api/schemas/form.go --
package schemas

// FieldRole is the semantic role assigned to a form input by the analyzer.
type FieldRole string

const (
	RoleEmail     FieldRole = "email"
	RoleFirstName FieldRole = "first_name"
	RoleLastName  FieldRole = "last_name"
	RoleName      FieldRole = "name"
	RolePhone     FieldRole = "phone"
	RoleZip       FieldRole = "zip"
	RoleMessage   FieldRole = "message"
	RoleConsent   FieldRole = "consent"
)

// FieldCandidate binds a semantic role to a concrete element locator along
// with the points the heuristic awarded it. It is a plain value so the
// scoring logic stays testable without a live browser.
type FieldCandidate struct {
	Role     FieldRole `json:"role"`
	Selector string    `json:"selector"`
	Points   int       `json:"points"`
	Visible  bool      `json:"visible"`
}

// CompositeKind identifies a recognized multi-element input pattern.
type CompositeKind string

const (
	// CompositeSplitPhone is three adjacent inputs with maxlengths 3/3/4
	// (area, prefix, suffix), the layout used by Gravity-Forms-style phone
	// widgets.
	CompositeSplitPhone CompositeKind = "split_phone"
	// CompositeSplitName is a first/last input pair governed by a single
	// "Name" label or a provider-specific container class.
	CompositeSplitName CompositeKind = "split_name"
	// CompositeProviderZip is a provider-specific postal code input bound to
	// a "Zip Code" label via its for attribute or a common ancestor.
	CompositeProviderZip CompositeKind = "provider_zip"
)

// PartTag names one member of a composite field.
type PartTag string

const (
	PartArea   PartTag = "area"
	PartPrefix PartTag = "prefix"
	PartSuffix PartTag = "suffix"
	PartFirst  PartTag = "first"
	PartLast   PartTag = "last"
	PartZip    PartTag = "zip"
)

// CompositePart is one sub-element of a composite field.
type CompositePart struct {
	Tag      PartTag `json:"tag"`
	Selector string  `json:"selector"`
	// MaxLength mirrors the element's maxlength attribute (0 when absent);
	// the split-phone detector keys off the 3/3/4 pattern.
	MaxLength int `json:"max_length,omitempty"`
}

// CompositeField is a single logical input implemented as multiple DOM
// elements. Its members are excluded from the primary field mapping so a
// value is never written twice.
type CompositeField struct {
	Kind  CompositeKind   `json:"kind"`
	Parts []CompositePart `json:"parts"`
}

// Part returns the member with the given tag.
func (c CompositeField) Part(tag PartTag) (CompositePart, bool) {
	for _, p := range c.Parts {
		if p.Tag == tag {
			return p, true
		}
	}
	return CompositePart{}, false
}

// FormDescriptor is the analyzer's structured view of one form. It is
// rebuilt on every attempt and never persisted; third-party markup changes
// under us without notice.
type FormDescriptor struct {
	FormSelector string           `json:"form_selector"`
	Fields       []FieldCandidate `json:"fields"`
	// Confidence is the clamped 0..100 heuristic total for the selected form.
	Confidence int              `json:"confidence"`
	Composites []CompositeField `json:"composites,omitempty"`
}

// Field returns the candidate mapped to the given role, if any.
func (d FormDescriptor) Field(role FieldRole) (FieldCandidate, bool) {
	for _, f := range d.Fields {
		if f.Role == role {
			return f, true
		}
	}
	return FieldCandidate{}, false
}

// Composite returns the first composite of the given kind, if any.
func (d FormDescriptor) Composite(kind CompositeKind) (CompositeField, bool) {
	for _, c := range d.Composites {
		if c.Kind == kind {
			return c, true
		}
	}
	return CompositeField{}, false
}

// Usable reports whether the descriptor carries anything worth filling.
func (d FormDescriptor) Usable() bool {
	return d.FormSelector != "" && (len(d.Fields) > 0 || len(d.Composites) > 0)
}
