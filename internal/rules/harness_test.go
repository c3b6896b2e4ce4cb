// internal/rules/harness_test.go
package rules

import (
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/solatis/endpointrules/internal/types"
)

func loadSuiteFile(t *testing.T, path string) *Suite {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v, want nil", err)
	}
	suite, err := LoadSuite(data, FormatFromPath(path))
	if err != nil {
		t.Fatalf("LoadSuite() error = %v, want nil", err)
	}
	return suite
}

func TestRunSuite_Example(t *testing.T) {
	rs := loadExample(t)
	suite := loadSuiteFile(t, "testdata/example-tests.json")

	report := RunSuite(NewEngine(), rs, suite)
	for _, r := range report.Results {
		if !r.Passed {
			t.Errorf("case %d (%s): %s", r.Index, r.Documentation, r.Reason)
		}
	}
	if !report.OK() || report.Passed != len(suite.Cases) {
		t.Errorf("report = %d passed, %d failed; want all %d passed", report.Passed, report.Failed, len(suite.Cases))
	}
}

func TestRunSuite_YAML(t *testing.T) {
	rs, err := LoadFile("testdata/minimal.yaml")
	if err != nil {
		t.Fatalf("LoadFile() error = %v, want nil", err)
	}
	suite := loadSuiteFile(t, "testdata/minimal-tests.yaml")

	report := RunSuite(NewEngine(WithCache(4)), rs, suite)
	if !report.OK() {
		for _, r := range report.Results {
			t.Errorf("case %d (%s): passed=%v %s", r.Index, r.Documentation, r.Passed, r.Reason)
		}
	}
}

func TestRunSuite_ReportsMismatches(t *testing.T) {
	rs := loadExample(t)
	suite, err := LoadSuite([]byte(`{"testCases": [
		{"documentation": "wrong url", "params": {"Region": "us-east-1"}, "expect": {"endpoint": {"url": "https://wrong"}}},
		{"documentation": "endpoint instead of error", "params": {"Region": "us-east-1"}, "expect": {"error": "boom"}},
		{"documentation": "error instead of endpoint", "params": {}, "expect": {"endpoint": {"url": "x"}}},
		{"documentation": "wrong message", "params": {}, "expect": {"error": "Missing Region"}},
		{"documentation": "missing headers", "params": {"Region": "us-east-1"}, "expect": {"endpoint": {
			"url": "https://example.us-east-1.amazonaws.com",
			"authSchemes": ["sigv4"],
			"authParams": {"signingRegion": "us-east-1", "signingName": "example"}
		}}}
	]}`), FormatJSON)
	if err != nil {
		t.Fatalf("LoadSuite() error = %v, want nil", err)
	}

	report := RunSuite(NewEngine(), rs, suite)
	if report.Failed != 5 || report.Passed != 0 {
		t.Fatalf("report = %d passed, %d failed; want 0 passed, 5 failed", report.Passed, report.Failed)
	}
	wantReasons := []string{"url: want", "expected error", "expected endpoint", "expected error", "properties"}
	for i, want := range wantReasons {
		if !strings.Contains(report.Results[i].Reason, want) {
			t.Errorf("Results[%d].Reason = %q, want it to contain %q", i, report.Results[i].Reason, want)
		}
	}
}

func TestRunSuite_RecoversInvariantViolation(t *testing.T) {
	rs := &RuleSet{Rules: []Rule{&EndpointRule{Endpoint: EndpointTemplate{URL: Ref{Name: "Ghost"}}}}}
	msg := "unused"
	suite := &Suite{Cases: []TestCase{
		{Documentation: "defect", Params: Params{}, Expect: Expectation{Error: &msg}},
		{Documentation: "defect again", Params: Params{}, Expect: Expectation{Error: &msg}},
	}}

	report := RunSuite(NewEngine(), rs, suite)
	if report.Failed != 2 {
		t.Fatalf("report.Failed = %d, want 2", report.Failed)
	}
	if !strings.HasPrefix(report.Results[0].Reason, "invariant violation") {
		t.Errorf("Reason = %q, want invariant violation", report.Results[0].Reason)
	}
}

func TestLoadSuite_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "both expectations", doc: `{"testCases": [{"params": {}, "expect": {"error": "x", "endpoint": {"url": "y"}}}]}`},
		{name: "no expectation", doc: `{"testCases": [{"params": {}, "expect": {}}]}`},
		{name: "numeric param", doc: `{"testCases": [{"params": {"N": 1}, "expect": {"error": "x"}}]}`},
		{name: "invalid json", doc: `{"testCases": [`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadSuite([]byte(tt.doc), FormatJSON)
			if !errors.Is(err, types.ErrMalformedSuite) {
				t.Errorf("LoadSuite() error = %v, want %v", err, types.ErrMalformedSuite)
			}
		})
	}
}
