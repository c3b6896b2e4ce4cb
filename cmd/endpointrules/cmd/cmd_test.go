package cmd

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/solatis/endpointrules/internal/rules"
)

var (
	exampleRuleSet = filepath.Join("..", "..", "..", "internal", "rules", "testdata", "example-ruleset.json")
	exampleTests   = filepath.Join("..", "..", "..", "internal", "rules", "testdata", "example-tests.json")
	minimalRuleSet = filepath.Join("..", "..", "..", "internal", "rules", "testdata", "minimal.yaml")
	minimalTests   = filepath.Join("..", "..", "..", "internal", "rules", "testdata", "minimal-tests.yaml")
)

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

// resetResolveFlags clears flag values that persist on the shared command
// between executions. Repeated array flags append rather than replace.
func resetResolveFlags(t *testing.T) {
	t.Helper()
	flags := resolveCmd.Flags()
	if err := flags.Set("service", ""); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"param", "builtin"} {
		if err := flags.Lookup(name).Value.(interface{ Replace([]string) error }).Replace(nil); err != nil {
			t.Fatal(err)
		}
	}
}

func TestParseAssignments(t *testing.T) {
	got, err := parseAssignments([]string{"Region=us-east-1", "Endpoint=https://x.example.com/?a=b"})
	if err != nil {
		t.Fatalf("parseAssignments() error = %v, want nil", err)
	}
	if got["Region"] != "us-east-1" || got["Endpoint"] != "https://x.example.com/?a=b" {
		t.Errorf("parseAssignments() = %v", got)
	}

	for _, bad := range [][]string{{"Region"}, {"=x"}, {"A=1", "A=2"}} {
		if _, err := parseAssignments(bad); err == nil {
			t.Errorf("parseAssignments(%q) error = nil, want error", bad)
		}
	}
}

func TestTypedParams(t *testing.T) {
	rs, err := rules.LoadFile(exampleRuleSet)
	if err != nil {
		t.Fatalf("LoadFile() error = %v, want nil", err)
	}

	params, err := typedParams(rs, map[string]string{"Region": "true", "UseFIPS": "true", "Bogus": "x"})
	if err != nil {
		t.Fatalf("typedParams() error = %v, want nil", err)
	}
	if !params["Region"].Equal(rules.String("true")) {
		t.Errorf("Region = %v, want string \"true\"", params["Region"])
	}
	if !params["UseFIPS"].Equal(rules.Bool(true)) {
		t.Errorf("UseFIPS = %v, want true", params["UseFIPS"])
	}
	if !params["Bogus"].Equal(rules.String("x")) {
		t.Errorf("Bogus = %v, want passthrough string", params["Bogus"])
	}

	if _, err := typedParams(rs, map[string]string{"UseFIPS": "maybe"}); err == nil {
		t.Error("typedParams() error = nil for non-boolean UseFIPS")
	}
}

func TestUntypedValues(t *testing.T) {
	got := untypedValues(map[string]string{"AWS::UseFIPS": "true", "AWS::Region": "us-east-1", "X": "False"})
	if !got["AWS::UseFIPS"].Equal(rules.Bool(true)) {
		t.Errorf("AWS::UseFIPS = %v", got["AWS::UseFIPS"])
	}
	if !got["AWS::Region"].Equal(rules.String("us-east-1")) {
		t.Errorf("AWS::Region = %v", got["AWS::Region"])
	}
	if !got["X"].Equal(rules.String("False")) {
		t.Errorf("X = %v, want literal string", got["X"])
	}
}

func TestCheckCommand(t *testing.T) {
	out, err := execute(t, "check", exampleRuleSet, minimalRuleSet)
	if err != nil {
		t.Fatalf("check error = %v, want nil\n%s", err, out)
	}
	if strings.Count(out, "ok   ") != 2 {
		t.Errorf("check output:\n%s", out)
	}

	out, err = execute(t, "check", exampleTests)
	if err == nil {
		t.Fatalf("check of a suite file succeeded:\n%s", out)
	}
	if !strings.HasPrefix(out, "FAIL ") {
		t.Errorf("check output:\n%s", out)
	}
}

func TestTestCommand(t *testing.T) {
	out, err := execute(t, "test", exampleRuleSet, exampleTests)
	if err != nil {
		t.Fatalf("test error = %v, want nil\n%s", err, out)
	}
	if !strings.Contains(out, "0 failed") {
		t.Errorf("test output:\n%s", out)
	}

	out, err = execute(t, "test", minimalRuleSet, minimalTests)
	if err != nil {
		t.Fatalf("test error = %v, want nil\n%s", err, out)
	}
}

func TestStoreCommands(t *testing.T) {
	dbArg := "sqlite://" + filepath.Join(t.TempDir(), "cli.db")

	if out, err := execute(t, "migrate", "--db-url", dbArg); err != nil {
		t.Fatalf("migrate error = %v\n%s", err, out)
	}

	out, err := execute(t, "migrate", "status", "--db-url", dbArg)
	if err != nil {
		t.Fatalf("migrate status error = %v\n%s", err, out)
	}
	if !strings.Contains(out, "applied") || strings.Contains(out, "pending") {
		t.Errorf("migrate status output:\n%s", out)
	}

	out, err = execute(t, "import", "--db-url", dbArg, "--tests", exampleTests, exampleRuleSet)
	if err != nil {
		t.Fatalf("import error = %v\n%s", err, out)
	}
	if !strings.Contains(out, `service "example"`) || !strings.Contains(out, "test suite ") {
		t.Errorf("import output:\n%s", out)
	}
	revision := strings.Fields(out)[1]

	out, err = execute(t, "services", "--db-url", dbArg)
	if err != nil {
		t.Fatalf("services error = %v\n%s", err, out)
	}
	if !strings.Contains(out, "example") {
		t.Errorf("services output:\n%s", out)
	}

	out, err = execute(t, "test", "--db-url", dbArg, "--service", "example")
	if err != nil {
		t.Fatalf("test --service error = %v\n%s", err, out)
	}

	out, err = execute(t, "resolve", "--db-url", dbArg, "--service", "example", "-p", "Region=eu-central-1")
	if err != nil {
		t.Fatalf("resolve error = %v\n%s", err, out)
	}
	var ep map[string]any
	if err := json.Unmarshal([]byte(out), &ep); err != nil {
		t.Fatalf("resolve output is not JSON: %v\n%s", err, out)
	}
	if ep["url"] != "https://example.eu-central-1.amazonaws.com" {
		t.Errorf("resolve url = %v", ep["url"])
	}

	resetResolveFlags(t)
	out, err = execute(t, "resolve", "--db-url", dbArg, "--revision", revision, "-p", "Region=us-east-1")
	if err != nil {
		t.Fatalf("resolve --revision error = %v\n%s", err, out)
	}
	if !strings.Contains(out, "https://example.us-east-1.amazonaws.com") {
		t.Errorf("resolve --revision output:\n%s", out)
	}

	if _, err := execute(t, "resolve", "--db-url", dbArg, "--revision", "not-a-uuid"); err == nil {
		t.Error("resolve with a malformed revision succeeded")
	}
}

func TestPickSecret(t *testing.T) {
	const a, b = "0123456789abcdef0123456789abcdef", "fedcba9876543210fedcba9876543210"
	if _, err := pickSecret(map[string][]byte{}, ""); err == nil {
		t.Error("pickSecret() error = nil with no secrets")
	}
	if got, err := pickSecret(map[string][]byte{a: nil}, ""); err != nil || got != a {
		t.Errorf("pickSecret() = (%q, %v), want the only secret", got, err)
	}
	two := map[string][]byte{a: nil, b: nil}
	if _, err := pickSecret(two, ""); err == nil {
		t.Error("pickSecret() error = nil with two secrets and no choice")
	}
	if got, err := pickSecret(two, b); err != nil || got != b {
		t.Errorf("pickSecret(%q) = (%q, %v)", b, got, err)
	}
	if _, err := pickSecret(two, "ffffffffffffffffffffffffffffffff"); err == nil {
		t.Error("pickSecret() error = nil for an unconfigured secret id")
	}
}

func TestAPIKeyCommands(t *testing.T) {
	t.Setenv("ER_HMAC_SECRET", "0123456789abcdef0123456789abcdef:dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w")
	dbArg := "sqlite://" + filepath.Join(t.TempDir(), "keys.db")
	if out, err := execute(t, "migrate", "--db-url", dbArg); err != nil {
		t.Fatalf("migrate error = %v\n%s", err, out)
	}

	out, err := execute(t, "apikey", "create", "--db-url", dbArg, "--name", "sdk-ci")
	if err != nil {
		t.Fatalf("apikey create error = %v\n%s", err, out)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[1], "er-v1-0123456789abcdef0123456789abcdef-") {
		t.Fatalf("apikey create output:\n%s", out)
	}
	id := strings.Fields(lines[0])[2]

	out, err = execute(t, "apikey", "list", "--db-url", dbArg)
	if err != nil {
		t.Fatalf("apikey list error = %v\n%s", err, out)
	}
	if !strings.Contains(out, id) || !strings.Contains(out, "active") || strings.Contains(out, lines[1]) {
		t.Errorf("apikey list output:\n%s", out)
	}

	if out, err := execute(t, "apikey", "revoke", "--db-url", dbArg, id); err != nil {
		t.Fatalf("apikey revoke error = %v\n%s", err, out)
	}
	out, err = execute(t, "apikey", "list", "--db-url", dbArg)
	if err != nil || !strings.Contains(out, "revoked") {
		t.Errorf("apikey list after revoke = (%v)\n%s", err, out)
	}
	if _, err := execute(t, "apikey", "revoke", "--db-url", dbArg, id); err == nil {
		t.Error("second apikey revoke succeeded")
	}
}
