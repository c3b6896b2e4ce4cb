// internal/rules/partition_test.go
package rules

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultPartitions_Lookup(t *testing.T) {
	table := DefaultPartitions()

	tests := []struct {
		region    string
		wantName  string
		wantFound bool
	}{
		{region: "us-west-2", wantName: "aws", wantFound: true},
		{region: "aws-global", wantName: "aws", wantFound: true},
		{region: "cn-north-1", wantName: "aws-cn", wantFound: true},
		{region: "us-gov-west-1", wantName: "aws-us-gov", wantFound: true},
		{region: "us-gov-east-9", wantName: "aws-us-gov", wantFound: true},
		{region: "us-iso-east-1", wantName: "aws-iso", wantFound: true},
		{region: "us-isob-east-1", wantName: "aws-iso-b", wantFound: true},
		{region: "eu-south-9", wantName: "aws", wantFound: true},
		{region: "mars-central", wantName: "aws", wantFound: true},
		{region: "not a region", wantFound: false},
		{region: "", wantFound: false},
	}

	for _, tt := range tests {
		t.Run(tt.region, func(t *testing.T) {
			got, ok := table.Lookup(tt.region)
			if ok != tt.wantFound {
				t.Fatalf("Lookup(%q) found = %v, want %v", tt.region, ok, tt.wantFound)
			}
			if ok && got.Name != tt.wantName {
				t.Errorf("Lookup(%q).Name = %q, want %q", tt.region, got.Name, tt.wantName)
			}
		})
	}
}

func TestPartitionOutputs_ValueConforms(t *testing.T) {
	for _, id := range DefaultPartitions().Partitions() {
		out, ok := DefaultPartitions().Lookup(id + "-global")
		if !ok {
			t.Fatalf("Lookup(%s-global) found = false, want true", id)
		}
		if !out.Value().Conforms(partitionType) {
			t.Errorf("partition %s outputs do not conform to %v", id, partitionType)
		}
	}
}

func TestLoadPartitionTable_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "invalid json", doc: `{`},
		{name: "no partitions", doc: `{"partitions": []}`},
		{name: "missing id", doc: `{"partitions": [{"regionRegex": ".*"}]}`},
		{name: "duplicate id", doc: `{"partitions": [{"id": "a", "regionRegex": "x"}, {"id": "a", "regionRegex": "y"}]}`},
		{name: "bad regex", doc: `{"partitions": [{"id": "a", "regionRegex": "("}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadPartitionTable([]byte(tt.doc)); err == nil {
				t.Errorf("LoadPartitionTable() error = nil, want error")
			}
		})
	}
}

func TestLoadPartitionFile_Fixture(t *testing.T) {
	doc := `{
		"version": "1.1",
		"partitions": [{
			"id": "test",
			"regionRegex": "^test-\\d+$",
			"regions": {"special": {}},
			"outputs": {"dnsSuffix": "test.example", "supportsFIPS": false}
		}]
	}`
	path := filepath.Join(t.TempDir(), "partitions.json")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v, want nil", err)
	}

	table, err := LoadPartitionFile(path)
	if err != nil {
		t.Fatalf("LoadPartitionFile() error = %v, want nil", err)
	}

	got, ok := table.Lookup("special")
	if !ok || got.Name != "test" || got.DNSSuffix != "test.example" {
		t.Errorf("Lookup(special) = %+v, %v; want test partition", got, ok)
	}
	if _, ok := table.Lookup("test-1"); !ok {
		t.Errorf("Lookup(test-1) found = false, want true")
	}
	// Without an "aws" partition there is no fallback.
	if _, ok := table.Lookup("us-west-2"); ok {
		t.Errorf("Lookup(us-west-2) found = true, want false")
	}
}
