package api

// Sentinel values returned by descriptor queries.
const (
	// NotDefined replaces an empty descriptor field.
	NotDefined = "NOT_DEFINED"

	// InfoNotDefined is returned for every field when a plugin has no
	// descriptor at all.
	InfoNotDefined = "INFO_NOT_DEFINED"
)

// Descriptor is the static metadata a plugin supplies about itself.
// Fields are optional; an empty field reads back as NotDefined through
// Field and the host's handle accessors.
type Descriptor struct {
	Name    string `json:"name" yaml:"name" toml:"name"`
	Version string `json:"version" yaml:"version" toml:"version"`
	Kind    string `json:"kind" yaml:"kind" toml:"kind"`
	Author  string `json:"author" yaml:"author" toml:"author"`
	Company string `json:"company" yaml:"company" toml:"company"`
	License string `json:"license" yaml:"license" toml:"license"`
}

// Field identifies a descriptor field.
type Field int

// Descriptor fields.
const (
	FieldName Field = iota
	FieldVersion
	FieldKind
	FieldAuthor
	FieldCompany
	FieldLicense
)

// String returns the field name.
func (f Field) String() string {
	switch f {
	case FieldName:
		return "name"
	case FieldVersion:
		return "version"
	case FieldKind:
		return "kind"
	case FieldAuthor:
		return "author"
	case FieldCompany:
		return "company"
	case FieldLicense:
		return "license"
	default:
		return "unknown"
	}
}

// Field returns the normalized value of f. A nil descriptor yields
// InfoNotDefined and an empty field yields NotDefined.
func (d *Descriptor) Field(f Field) string {
	if d == nil {
		return InfoNotDefined
	}

	var v string
	switch f {
	case FieldName:
		v = d.Name
	case FieldVersion:
		v = d.Version
	case FieldKind:
		v = d.Kind
	case FieldAuthor:
		v = d.Author
	case FieldCompany:
		v = d.Company
	case FieldLicense:
		v = d.License
	}
	return orNotDefined(v)
}

// String formats the descriptor as "name version, by company".
func (d *Descriptor) String() string {
	if d == nil {
		return InfoNotDefined
	}
	return d.Name + " " + d.Version + ", by " + d.Company
}

func orNotDefined(s string) string {
	if s == "" {
		return NotDefined
	}
	return s
}
