package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/solatis/endpointrules/internal/rules"
	"github.com/solatis/endpointrules/internal/types"
)

// RuleSetRecord is one stored rule-set revision. Document is the JSON form
// of the rule-set as it was imported; YAML input is stored converted.
type RuleSetRecord struct {
	ID        types.RuleSetID `db:"ruleset_id"`
	ServiceID string          `db:"service_id"`
	Checksum  string          `db:"checksum"`
	Document  string          `db:"document"`
	CreatedAt string          `db:"created_at"`
}

// Created returns the revision's creation time.
func (r RuleSetRecord) Created() time.Time {
	t, _ := parseTimestamp(r.CreatedAt)
	return t
}

// Compile loads and typechecks the stored document.
func (r RuleSetRecord) Compile() (*rules.RuleSet, error) {
	return rules.LoadJSON([]byte(r.Document))
}

// SuiteRecord is a stored test suite attached to one rule-set revision.
type SuiteRecord struct {
	ID        types.SuiteID   `db:"suite_id"`
	RuleSetID types.RuleSetID `db:"ruleset_id"`
	Document  string          `db:"document"`
	CreatedAt string          `db:"created_at"`
}

// Suite compiles the stored suite document.
func (r SuiteRecord) Suite() (*rules.Suite, error) {
	return rules.LoadSuite([]byte(r.Document), rules.FormatJSON)
}

// ServiceSummary describes the stored revisions of one service.
type ServiceSummary struct {
	ServiceID string          `db:"service_id"`
	Revisions int             `db:"revisions"`
	LatestID  types.RuleSetID `db:"latest_id"`
}

// Store persists rule-sets and test suites. Only documents that load and
// typecheck are accepted, so every stored revision compiles.
type Store struct {
	db      *sqlx.DB
	queries *Queries
}

// NewStore wraps an open, migrated database.
func NewStore(db *sqlx.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	queries, err := LoadQueries(db)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, queries: queries}, nil
}

// SaveRuleSet validates a rule-set document and stores it as the newest
// revision of its service. Re-importing a document identical to the current
// newest revision returns that revision instead of adding a new one.
func (s *Store) SaveRuleSet(ctx context.Context, data []byte, format rules.Format) (RuleSetRecord, error) {
	doc, err := rules.DecodeDocument(data, format)
	if err != nil {
		return RuleSetRecord{}, err
	}
	if doc.ServiceID == "" {
		return RuleSetRecord{}, types.ErrServiceIDRequired
	}
	rs, err := rules.Load(doc)
	if err != nil {
		return RuleSetRecord{}, err
	}

	latest, err := s.LatestRuleSet(ctx, doc.ServiceID)
	switch {
	case err == nil && latest.Checksum == rs.Fingerprint():
		return latest, nil
	case err != nil && !errors.Is(err, types.ErrRuleSetNotFound):
		return RuleSetRecord{}, err
	}

	encoded, err := json.Marshal(doc)
	if err != nil {
		return RuleSetRecord{}, fmt.Errorf("failed to encode rule-set: %w", err)
	}

	now := time.Now()
	rec := RuleSetRecord{
		ID:        types.NewRuleSetID(),
		ServiceID: doc.ServiceID,
		Checksum:  rs.Fingerprint(),
		Document:  string(encoded),
		CreatedAt: now.UTC().Truncate(time.Second).Format(time.RFC3339),
	}
	if _, err := s.queries.Exec(ctx, "insert-rule-set",
		rec.ID, rec.ServiceID, rec.Checksum, rec.Document, timestampArg(s.db.DriverName(), now),
	); err != nil {
		return RuleSetRecord{}, fmt.Errorf("failed to insert rule-set: %w", err)
	}
	return rec, nil
}

// GetRuleSet returns one revision by ID.
func (s *Store) GetRuleSet(ctx context.Context, id types.RuleSetID) (RuleSetRecord, error) {
	var rec RuleSetRecord
	if err := s.queries.Get(ctx, "get-rule-set", &rec, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RuleSetRecord{}, fmt.Errorf("%w: id %s", types.ErrRuleSetNotFound, id)
		}
		return RuleSetRecord{}, fmt.Errorf("failed to query rule-set: %w", err)
	}
	return rec, nil
}

// LatestRuleSet returns the newest revision for serviceID. UUIDv7 IDs sort by
// creation time.
func (s *Store) LatestRuleSet(ctx context.Context, serviceID string) (RuleSetRecord, error) {
	var rec RuleSetRecord
	if err := s.queries.Get(ctx, "latest-rule-set", &rec, serviceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RuleSetRecord{}, fmt.Errorf("%w: service %q", types.ErrRuleSetNotFound, serviceID)
		}
		return RuleSetRecord{}, fmt.Errorf("failed to query rule-set: %w", err)
	}
	return rec, nil
}

// ListServices summarizes every service with at least one revision.
func (s *Store) ListServices(ctx context.Context) ([]ServiceSummary, error) {
	var out []ServiceSummary
	if err := s.queries.Select(ctx, "list-services", &out); err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	return out, nil
}

// SaveTestSuite validates a suite document and attaches it to a stored
// revision.
func (s *Store) SaveTestSuite(ctx context.Context, rulesetID types.RuleSetID, data []byte, format rules.Format) (SuiteRecord, error) {
	if _, err := s.GetRuleSet(ctx, rulesetID); err != nil {
		return SuiteRecord{}, err
	}

	doc, err := rules.DecodeSuite(data, format)
	if err != nil {
		return SuiteRecord{}, err
	}
	if _, err := rules.BuildSuite(doc); err != nil {
		return SuiteRecord{}, err
	}
	encoded, err := json.Marshal(doc)
	if err != nil {
		return SuiteRecord{}, fmt.Errorf("failed to encode test suite: %w", err)
	}

	now := time.Now()
	rec := SuiteRecord{
		ID:        types.NewSuiteID(),
		RuleSetID: rulesetID,
		Document:  string(encoded),
		CreatedAt: now.UTC().Truncate(time.Second).Format(time.RFC3339),
	}
	if _, err := s.queries.Exec(ctx, "insert-test-suite",
		rec.ID, rec.RuleSetID, rec.Document, timestampArg(s.db.DriverName(), now),
	); err != nil {
		return SuiteRecord{}, fmt.Errorf("failed to insert test suite: %w", err)
	}
	return rec, nil
}

// ListTestSuites returns the suites attached to a revision, oldest first.
func (s *Store) ListTestSuites(ctx context.Context, rulesetID types.RuleSetID) ([]SuiteRecord, error) {
	var out []SuiteRecord
	if err := s.queries.Select(ctx, "list-test-suites", &out, rulesetID); err != nil {
		return nil, fmt.Errorf("failed to list test suites: %w", err)
	}
	return out, nil
}
