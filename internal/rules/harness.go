// internal/rules/harness.go
package rules

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/solatis/endpointrules/internal/types"
)

/*
 * Test-suite harness.
 *
 * Runs each case of a suite through the engine and requires an exact match
 * with the expected terminal outcome:
 *   - endpoint: url, authSchemes, authParams, properties and headers equal
 *     (an omitted collection equals an empty one)
 *   - error: resolution failed and the error text equals the message verbatim
 *
 * A panic in one case (an InvariantViolation) fails that case and the run goes
 * on; the harness is a comparison utility, not part of the resolution path.
 */

// TestCase is a compiled suite entry.
type TestCase struct {
	Documentation string
	Params        Params
	Expect        Expectation
}

// Expectation holds exactly one of Endpoint or Error.
type Expectation struct {
	Endpoint *ResolvedEndpoint
	Error    *string
}

// Suite is an ordered list of test cases.
type Suite struct {
	Cases []TestCase
}

// CaseResult is the outcome of one test case.
type CaseResult struct {
	Index         int
	Documentation string
	Passed        bool
	Reason        string // mismatch description when !Passed
}

// SuiteReport summarizes a suite run.
type SuiteReport struct {
	Results []CaseResult
	Passed  int
	Failed  int
}

// OK reports whether every case passed.
func (r SuiteReport) OK() bool { return r.Failed == 0 }

// LoadSuite decodes and compiles a test suite.
func LoadSuite(data []byte, format Format) (*Suite, error) {
	doc, err := DecodeSuite(data, format)
	if err != nil {
		return nil, err
	}
	return BuildSuite(doc)
}

// BuildSuite compiles decoded test cases.
func BuildSuite(doc *types.SuiteDoc) (*Suite, error) {
	suite := &Suite{Cases: make([]TestCase, 0, len(doc.TestCases))}
	for i, cd := range doc.TestCases {
		tc, err := buildCase(cd)
		if err != nil {
			return nil, fmt.Errorf("%w: testCases[%d]: %w", types.ErrMalformedSuite, i, err)
		}
		suite.Cases = append(suite.Cases, tc)
	}
	return suite, nil
}

func buildCase(cd types.CaseDoc) (TestCase, error) {
	tc := TestCase{Documentation: cd.Documentation, Params: make(Params, len(cd.Params))}
	for _, name := range sortedKeys(cd.Params) {
		v, err := ValueOf(cd.Params[name])
		if err != nil {
			return TestCase{}, fmt.Errorf("param %q: %w", name, err)
		}
		tc.Params[name] = v
	}

	exp := cd.Expect
	if (exp.Endpoint == nil) == (exp.Error == nil) {
		return TestCase{}, fmt.Errorf("expect must hold exactly one of endpoint or error")
	}
	if exp.Error != nil {
		msg := *exp.Error
		tc.Expect.Error = &msg
		return tc, nil
	}

	ep := &ResolvedEndpoint{
		URL:         exp.Endpoint.URL,
		AuthSchemes: exp.Endpoint.AuthSchemes,
		AuthParams:  exp.Endpoint.AuthParams,
		Headers:     exp.Endpoint.Headers,
	}
	if len(exp.Endpoint.Properties) > 0 {
		ep.Properties = make(map[string]Value, len(exp.Endpoint.Properties))
		for k, raw := range exp.Endpoint.Properties {
			v, err := ValueOf(raw)
			if err != nil {
				return TestCase{}, fmt.Errorf("property %q: %w", k, err)
			}
			ep.Properties[k] = v
		}
	}
	tc.Expect.Endpoint = ep
	return tc, nil
}

// RunSuite runs every case against rs.
func RunSuite(e *Engine, rs *RuleSet, suite *Suite) SuiteReport {
	report := SuiteReport{Results: make([]CaseResult, 0, len(suite.Cases))}
	for i, tc := range suite.Cases {
		res := CaseResult{Index: i, Documentation: tc.Documentation}
		if reason := runCase(e, rs, tc); reason != "" {
			res.Reason = reason
			report.Failed++
		} else {
			res.Passed = true
			report.Passed++
		}
		report.Results = append(report.Results, res)
	}
	return report
}

// runCase returns "" on success, otherwise a mismatch description.
func runCase(e *Engine, rs *RuleSet, tc TestCase) (reason string) {
	defer func() {
		if r := recover(); r != nil {
			var iv *InvariantViolation
			if err, ok := r.(error); ok && errors.As(err, &iv) {
				reason = "invariant violation: " + iv.Detail
				return
			}
			reason = fmt.Sprintf("panic: %v", r)
		}
	}()

	got, err := e.Resolve(rs, tc.Params)

	if tc.Expect.Error != nil {
		if err == nil {
			return fmt.Sprintf("expected error %q, got endpoint %q", *tc.Expect.Error, got.URL)
		}
		if err.Error() != *tc.Expect.Error {
			return fmt.Sprintf("expected error %q, got error %q", *tc.Expect.Error, err.Error())
		}
		return ""
	}

	if err != nil {
		return fmt.Sprintf("expected endpoint %q, got error %q", tc.Expect.Endpoint.URL, err.Error())
	}
	return diffEndpoint(*tc.Expect.Endpoint, got)
}

func diffEndpoint(want, got ResolvedEndpoint) string {
	var diffs []string
	if want.URL != got.URL {
		diffs = append(diffs, fmt.Sprintf("url: want %q, got %q", want.URL, got.URL))
	}
	if !slices.Equal(want.AuthSchemes, got.AuthSchemes) {
		diffs = append(diffs, fmt.Sprintf("authSchemes: want %v, got %v", want.AuthSchemes, got.AuthSchemes))
	}
	if !stringMapsEqual(want.AuthParams, got.AuthParams) {
		diffs = append(diffs, fmt.Sprintf("authParams: want %v, got %v", want.AuthParams, got.AuthParams))
	}
	if len(want.Properties) != len(got.Properties) {
		diffs = append(diffs, fmt.Sprintf("properties: want %d entries, got %d", len(want.Properties), len(got.Properties)))
	} else {
		for _, k := range sortedKeys(want.Properties) {
			if g, ok := got.Properties[k]; !ok || !want.Properties[k].Equal(g) {
				diffs = append(diffs, fmt.Sprintf("properties.%s: want %s, got %s", k, want.Properties[k], g))
			}
		}
	}
	if len(want.Headers) != len(got.Headers) {
		diffs = append(diffs, fmt.Sprintf("headers: want %v, got %v", want.Headers, got.Headers))
	} else {
		for _, k := range sortedKeys(want.Headers) {
			if !slices.Equal(want.Headers[k], got.Headers[k]) {
				diffs = append(diffs, fmt.Sprintf("headers.%s: want %v, got %v", k, want.Headers[k], got.Headers[k]))
			}
		}
	}
	sort.Strings(diffs)
	return strings.Join(diffs, "; ")
}

func stringMapsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}
