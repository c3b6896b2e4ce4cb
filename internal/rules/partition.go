// internal/rules/partition.go
package rules

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sync"
)

/*
 * Partition metadata table.
 *
 * The table is static, read-only data injected into the Engine. DefaultPartitions
 * parses the embedded table once per process; tests and deployments with their
 * own table use LoadPartitionTable / LoadPartitionFile instead.
 *
 * Lookup order:
 *   1. explicit region list of each partition (table order)
 *   2. regionRegex of each partition (table order)
 *   3. the "aws" partition, when region is a syntactically valid host label
 * Anything else has no partition and aws.partition yields None.
 */

// DefaultPartitionID is the partition regions fall back to when no pattern matches.
const DefaultPartitionID = "aws"

//go:embed partitions.json
var embeddedPartitions []byte

// PartitionOutputs is the metadata aws.partition exposes to rule-sets.
type PartitionOutputs struct {
	Name                 string `json:"name"`
	DNSSuffix            string `json:"dnsSuffix"`
	DualStackDNSSuffix   string `json:"dualStackDnsSuffix"`
	SupportsFIPS         bool   `json:"supportsFIPS"`
	SupportsDualStack    bool   `json:"supportsDualStack"`
	ImplicitGlobalRegion string `json:"implicitGlobalRegion"`
}

// partitionType is the static record type produced by aws.partition.
var partitionType = RecordOf("Partition", map[string]Type{
	"name":                 StringType,
	"dnsSuffix":            StringType,
	"dualStackDnsSuffix":   StringType,
	"supportsFIPS":         BoolType,
	"supportsDualStack":    BoolType,
	"implicitGlobalRegion": StringType,
})

// Value converts the outputs to their record representation.
func (o PartitionOutputs) Value() Value {
	return Record(map[string]Value{
		"name":                 String(o.Name),
		"dnsSuffix":            String(o.DNSSuffix),
		"dualStackDnsSuffix":   String(o.DualStackDNSSuffix),
		"supportsFIPS":         Bool(o.SupportsFIPS),
		"supportsDualStack":    Bool(o.SupportsDualStack),
		"implicitGlobalRegion": String(o.ImplicitGlobalRegion),
	})
}

// Partition is one entry of the table.
type Partition struct {
	ID          string
	RegionRegex *regexp.Regexp
	Regions     map[string]struct{}
	Outputs     PartitionOutputs
}

// PartitionTable is immutable after construction and safe for concurrent use.
type PartitionTable struct {
	partitions []Partition
}

type partitionsDoc struct {
	Version    string `json:"version"`
	Partitions []struct {
		ID          string                     `json:"id"`
		RegionRegex string                     `json:"regionRegex"`
		Regions     map[string]json.RawMessage `json:"regions"`
		Outputs     PartitionOutputs           `json:"outputs"`
	} `json:"partitions"`
}

var (
	defaultPartitionsOnce sync.Once
	defaultPartitions     *PartitionTable
)

// DefaultPartitions returns the embedded partition table.
// Panics if the embedded table is invalid; that is a build defect.
func DefaultPartitions() *PartitionTable {
	defaultPartitionsOnce.Do(func() {
		t, err := LoadPartitionTable(embeddedPartitions)
		if err != nil {
			panic(fmt.Sprintf("embedded partitions.json: %v", err))
		}
		defaultPartitions = t
	})
	return defaultPartitions
}

// LoadPartitionFile reads a partitions.json-format file.
func LoadPartitionFile(path string) (*PartitionTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read partitions file: %w", err)
	}
	return LoadPartitionTable(data)
}

// LoadPartitionTable parses a partitions.json-format document.
func LoadPartitionTable(data []byte) (*PartitionTable, error) {
	var doc partitionsDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid partitions document: %w", err)
	}
	if len(doc.Partitions) == 0 {
		return nil, fmt.Errorf("partitions document has no partitions")
	}

	table := &PartitionTable{partitions: make([]Partition, 0, len(doc.Partitions))}
	seen := make(map[string]bool, len(doc.Partitions))
	for _, p := range doc.Partitions {
		if p.ID == "" {
			return nil, fmt.Errorf("partition without id")
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("duplicate partition %q", p.ID)
		}
		seen[p.ID] = true

		re, err := regexp.Compile(p.RegionRegex)
		if err != nil {
			return nil, fmt.Errorf("partition %q: invalid regionRegex: %w", p.ID, err)
		}
		regions := make(map[string]struct{}, len(p.Regions))
		for r := range p.Regions {
			regions[r] = struct{}{}
		}
		outputs := p.Outputs
		if outputs.Name == "" {
			outputs.Name = p.ID
		}
		table.partitions = append(table.partitions, Partition{
			ID:          p.ID,
			RegionRegex: re,
			Regions:     regions,
			Outputs:     outputs,
		})
	}
	return table, nil
}

// Lookup resolves region to partition metadata.
func (t *PartitionTable) Lookup(region string) (PartitionOutputs, bool) {
	for _, p := range t.partitions {
		if _, ok := p.Regions[region]; ok {
			return p.Outputs, true
		}
	}
	for _, p := range t.partitions {
		if p.RegionRegex.MatchString(region) {
			return p.Outputs, true
		}
	}
	if IsValidHostLabelString(region, false) {
		for _, p := range t.partitions {
			if p.ID == DefaultPartitionID {
				return p.Outputs, true
			}
		}
	}
	return PartitionOutputs{}, false
}

// Partitions returns the partition IDs in table order.
func (t *PartitionTable) Partitions() []string {
	ids := make([]string, len(t.partitions))
	for i, p := range t.partitions {
		ids[i] = p.ID
	}
	return ids
}
