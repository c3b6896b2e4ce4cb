// internal/rules/document.go
package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/solatis/endpointrules/internal/types"
)

// Format is a document serialization.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

func (f Format) String() string {
	if f == FormatYAML {
		return "yaml"
	}
	return "json"
}

// FormatFromPath picks YAML for .yaml/.yml files and JSON otherwise.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// DecodeDocument parses a rule-set document.
func DecodeDocument(data []byte, format Format) (*types.Document, error) {
	var doc types.Document
	if err := decode(data, format, &doc); err != nil {
		return nil, &LoadError{Err: err}
	}
	return &doc, nil
}

// DecodeSuite parses a test-suite document.
func DecodeSuite(data []byte, format Format) (*types.SuiteDoc, error) {
	var doc types.SuiteDoc
	if err := decode(data, format, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrMalformedSuite, err)
	}
	return &doc, nil
}

// LoadFile reads, decodes and loads a rule-set file.
func LoadFile(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule-set: %w", err)
	}
	doc, err := DecodeDocument(data, FormatFromPath(path))
	if err != nil {
		return nil, err
	}
	return Load(doc)
}

// decode unmarshals JSON directly. YAML goes through a generic tree and is
// re-encoded as JSON, so both formats share the json tags and the raw
// expression handling of the document types.
func decode(data []byte, format Format, out any) error {
	if len(data) > types.MaxDocumentSize {
		return types.ErrDocumentTooLarge
	}

	if format == FormatYAML {
		var tree any
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return fmt.Errorf("invalid yaml: %w", err)
		}
		converted, err := json.Marshal(tree)
		if err != nil {
			return fmt.Errorf("yaml document is not representable as json: %w", err)
		}
		data = converted
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("invalid json: trailing data after document")
	}
	return nil
}
