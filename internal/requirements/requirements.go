// Package requirements decides which supporting documents a medical-leave
// claim needs.
package requirements

import "fmt"

// Category is the top-level claim classification.
type Category string

const (
	CategoryMaternity Category = "maternity"
	CategoryPaternity Category = "paternity"
	CategoryOther     Category = "other"
)

// Subtype refines CategoryOther.
type Subtype string

const (
	SubtypeGeneral Subtype = "general"
	SubtypeLabor   Subtype = "labor"
	SubtypeTraffic Subtype = "traffic"
)

// ShortLeaveMaxDays is the longest leave that only needs the medical certificate.
const ShortLeaveMaxDays = 2

// Context holds the wizard answers that drive document resolution.
// Optional answers are pointers so an unanswered question stays distinguishable
// from a zero answer.
type Context struct {
	Category       Category `json:"category,omitempty" msgpack:"category,omitempty"`
	Subtype        Subtype  `json:"subtype,omitempty" msgpack:"subtype,omitempty"`
	MotherWorks    bool     `json:"motherWorks,omitempty" msgpack:"motherWorks,omitempty"`
	PhantomVehicle bool     `json:"phantomVehicle,omitempty" msgpack:"phantomVehicle,omitempty"`
	DaysOfLeave    *int     `json:"daysOfLeave,omitempty" msgpack:"daysOfLeave,omitempty"`
}

// Complete reports whether the context carries enough answers to resolve a
// non-empty document set.
func (c Context) Complete() bool {
	return len(Documents(c)) > 0
}

// Tipo is the claim type sent to the backend: the category for maternity and
// paternity, the subtype otherwise.
func (c Context) Tipo() string {
	if c.Category == CategoryOther {
		return string(c.Subtype)
	}
	return string(c.Category)
}

// ParseCategory validates a category coming from the outside world.
func ParseCategory(s string) (Category, error) {
	switch c := Category(s); c {
	case CategoryMaternity, CategoryPaternity, CategoryOther:
		return c, nil
	}
	return "", fmt.Errorf("unknown category: %q", s)
}

// ParseSubtype validates a subtype coming from the outside world.
func ParseSubtype(s string) (Subtype, error) {
	switch st := Subtype(s); st {
	case SubtypeGeneral, SubtypeLabor, SubtypeTraffic:
		return st, nil
	}
	return "", fmt.Errorf("unknown subtype: %q", s)
}

// Documents returns the required document kinds for ctx in presentation order.
// An incomplete or inconsistent context yields nil.
func Documents(ctx Context) []Document {
	switch ctx.Category {
	case CategoryMaternity:
		return []Document{
			DocMaternityLicense,
			DocEpicrisis,
			DocMotherID,
			DocCivilRegistry,
			DocLiveBirthCertificate,
		}
	case CategoryPaternity:
		docs := []Document{
			DocEpicrisis,
			DocFatherID,
			DocCivilRegistry,
			DocLiveBirthCertificate,
		}
		if ctx.MotherWorks {
			docs = append(docs, DocMaternityLicense)
		}
		return docs
	case CategoryOther:
		return otherDocuments(ctx)
	}
	return nil
}

func otherDocuments(ctx Context) []Document {
	switch ctx.Subtype {
	case SubtypeGeneral, SubtypeLabor:
		if ctx.DaysOfLeave == nil {
			return nil
		}
		if *ctx.DaysOfLeave <= ShortLeaveMaxDays {
			return []Document{DocMedicalLeave}
		}
		return []Document{DocMedicalLeave, DocEpicrisis}
	case SubtypeTraffic:
		docs := []Document{DocMedicalLeave, DocEpicrisis, DocFURIPS}
		// a vehicle that fled has no policy to attach
		if !ctx.PhantomVehicle {
			docs = append(docs, DocSOAT)
		}
		return docs
	}
	return nil
}

// Resolver turns a Context into display labels using a Catalog.
type Resolver struct {
	catalog Catalog
}

// NewResolver creates a resolver bound to catalog. A nil catalog means the
// default labels.
func NewResolver(catalog Catalog) *Resolver {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Resolver{catalog: catalog}
}

// Resolve returns the ordered, duplicate-free document labels for ctx.
// It never fails; an empty result means the form is incomplete.
func (r *Resolver) Resolve(ctx Context) []string {
	docs := Documents(ctx)
	labels := make([]string, 0, len(docs))
	for _, d := range docs {
		labels = append(labels, r.catalog.Label(d))
	}
	return labels
}

// Catalog returns the resolver's label catalog.
func (r *Resolver) Catalog() Catalog {
	return r.catalog
}

var defaultResolver = NewResolver(nil)

// Resolve resolves ctx with the default catalog.
func Resolve(ctx Context) []string {
	return defaultResolver.Resolve(ctx)
}
