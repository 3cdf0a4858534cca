package requirements

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document identifies a kind of supporting document.
type Document string

const (
	DocMaternityLicense     Document = "maternity_license"
	DocEpicrisis            Document = "epicrisis"
	DocMotherID             Document = "mother_id"
	DocFatherID             Document = "father_id"
	DocCivilRegistry        Document = "civil_registry"
	DocLiveBirthCertificate Document = "live_birth_certificate"
	DocMedicalLeave         Document = "medical_leave"
	DocFURIPS               Document = "furips"
	DocSOAT                 Document = "soat"
)

var defaultLabels = map[Document]string{
	DocMaternityLicense:     "Licencia o incapacidad de maternidad",
	DocEpicrisis:            "Epicrisis o resumen clínico",
	DocMotherID:             "Cédula de la madre",
	DocFatherID:             "Cédula del padre",
	DocCivilRegistry:        "Registro civil",
	DocLiveBirthCertificate: "Certificado de nacido vivo",
	DocMedicalLeave:         "Incapacidad médica",
	DocFURIPS:               "FURIPS",
	DocSOAT:                 "SOAT",
}

// Catalog maps document kinds to the labels shown to claimants and sent to
// the backend.
type Catalog map[Document]string

// DefaultCatalog returns a fresh copy of the built-in labels.
func DefaultCatalog() Catalog {
	c := make(Catalog, len(defaultLabels))
	for k, v := range defaultLabels {
		c[k] = v
	}
	return c
}

// Label returns the label for d, falling back to the built-in one.
func (c Catalog) Label(d Document) string {
	if l, ok := c[d]; ok && l != "" {
		return l
	}
	return defaultLabels[d]
}

// LoadCatalog reads a YAML label override file.
func LoadCatalog(filePath string) (Catalog, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return LoadCatalogFromReader(file)
}

// LoadCatalogFromReader parses label overrides of the form
//
//	labels:
//	  soat: "Póliza SOAT"
//
// Kinds not listed keep their default label.
func LoadCatalogFromReader(r io.Reader) (Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var doc struct {
		Labels map[string]string `yaml:"labels"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing label catalog: %w", err)
	}

	catalog := DefaultCatalog()
	for key, label := range doc.Labels {
		d := Document(key)
		if _, ok := defaultLabels[d]; !ok {
			return nil, fmt.Errorf("unknown document kind: %q", key)
		}
		label = strings.TrimSpace(label)
		if label == "" {
			return nil, fmt.Errorf("empty label for %q", key)
		}
		catalog[d] = label
	}

	// Labels key the upload slots, so two kinds must never share one.
	seen := make(map[string]Document, len(catalog))
	for d, label := range catalog {
		if other, dup := seen[label]; dup {
			return nil, fmt.Errorf("label %q used by both %q and %q", label, other, d)
		}
		seen[label] = d
	}

	return catalog, nil
}
