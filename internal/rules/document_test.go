// internal/rules/document_test.go
package rules

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/solatis/endpointrules/internal/types"
)

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path string
		want Format
	}{
		{"rules.json", FormatJSON},
		{"rules.yaml", FormatYAML},
		{"RULES.YML", FormatYAML},
		{"rules", FormatJSON},
	}
	for _, tt := range tests {
		if got := FormatFromPath(tt.path); got != tt.want {
			t.Errorf("FormatFromPath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestDecodeDocument_YAMLMatchesJSON(t *testing.T) {
	yamlData, err := os.ReadFile("testdata/minimal.yaml")
	if err != nil {
		t.Fatalf("ReadFile() error = %v, want nil", err)
	}
	fromYAML, err := DecodeDocument(yamlData, FormatYAML)
	if err != nil {
		t.Fatalf("DecodeDocument(yaml) error = %v, want nil", err)
	}
	rsYAML, err := Load(fromYAML)
	if err != nil {
		t.Fatalf("Load(yaml) error = %v, want nil", err)
	}

	rsJSON := mustLoad(t, `{
		"version": "1.0",
		"serviceId": "minimal",
		"parameters": {
			"Region": {"type": "string", "required": true},
			"DisableHttp": {"type": "boolean"}
		},
		"rules": [{
			"conditions": [
				{"fn": "isSet", "argv": [{"ref": "DisableHttp"}]},
				{"fn": "booleanEquals", "argv": [{"ref": "DisableHttp"}, true]}
			],
			"endpoint": {"url": "{Region}.amazonaws.com"}
		}]
	}`)

	if rsYAML.Fingerprint() != rsJSON.Fingerprint() {
		t.Errorf("Fingerprint() yaml = %s, json = %s; want equal", rsYAML.Fingerprint(), rsJSON.Fingerprint())
	}
}

func TestDecodeDocument_Errors(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		format  Format
		wantErr error
	}{
		{name: "too large", data: bytes.Repeat([]byte(" "), types.MaxDocumentSize+1), format: FormatJSON, wantErr: types.ErrDocumentTooLarge},
		{name: "trailing data", data: []byte(`{"rules": []} {}`), format: FormatJSON, wantErr: types.ErrMalformedRuleSet},
		{name: "bad yaml", data: []byte("rules: [\n"), format: FormatYAML, wantErr: types.ErrMalformedRuleSet},
		{name: "wrong shape", data: []byte(`{"rules": "nope"}`), format: FormatJSON, wantErr: types.ErrMalformedRuleSet},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeDocument(tt.data, tt.format)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("DecodeDocument() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
