// internal/rules/evaluate_test.go
package rules

import (
	"errors"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/solatis/endpointrules/internal/types"
)

const disableHTTPRuleSet = `{
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
}`

func TestResolve_SimpleMatch(t *testing.T) {
	rs := mustLoad(t, disableHTTPRuleSet)

	got, err := Resolve(rs, nil, Params{"Region": String("us-west-2"), "DisableHttp": Bool(true)})
	if err != nil {
		t.Fatalf("Resolve() error = %v, want nil", err)
	}
	if got.URL != "us-west-2.amazonaws.com" {
		t.Errorf("URL = %q, want us-west-2.amazonaws.com", got.URL)
	}
}

func TestResolve_NoRulesMatched(t *testing.T) {
	rs := mustLoad(t, disableHTTPRuleSet)

	_, err := Resolve(rs, nil, Params{"Region": String("us-west-2")})
	if !errors.Is(err, ErrNoRulesMatched) {
		t.Errorf("Resolve() error = %v, want %v", err, ErrNoRulesMatched)
	}

	_, err = Resolve(rs, nil, Params{"Region": String("us-west-2"), "DisableHttp": Bool(false)})
	if !errors.Is(err, ErrNoRulesMatched) {
		t.Errorf("Resolve(DisableHttp=false) error = %v, want %v", err, ErrNoRulesMatched)
	}
}

func TestResolve_ParameterBinding(t *testing.T) {
	rs := mustLoad(t, disableHTTPRuleSet)

	tests := []struct {
		name    string
		params  Params
		wantErr error
	}{
		{
			name:    "missing required",
			params:  Params{"DisableHttp": Bool(true)},
			wantErr: types.ErrMissingParameter,
		},
		{
			name:    "explicit none for required",
			params:  Params{"Region": None(), "DisableHttp": Bool(true)},
			wantErr: types.ErrMissingParameter,
		},
		{
			name:    "undeclared parameter",
			params:  Params{"Region": String("us-west-2"), "Bucket": String("b")},
			wantErr: types.ErrInvalidParameter,
		},
		{
			name:    "wrong kind",
			params:  Params{"Region": Bool(true)},
			wantErr: types.ErrInvalidParameter,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(rs, nil, tt.params)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Resolve() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	var missing *MissingRequiredParameterError
	_, err := Resolve(rs, nil, Params{})
	if !errors.As(err, &missing) || missing.Name != "Region" {
		t.Errorf("Resolve() error = %v, want MissingRequiredParameterError{Region}", err)
	}
}

func TestResolve_DefaultApplies(t *testing.T) {
	rs := mustLoad(t, `{
		"parameters": {"UseFIPS": {"type": "boolean", "required": true, "default": true}},
		"rules": [
			{"conditions": [{"fn": "booleanEquals", "argv": [{"ref": "UseFIPS"}, true]}], "endpoint": {"url": "fips"}},
			{"conditions": [], "endpoint": {"url": "plain"}}
		]
	}`)

	got, err := Resolve(rs, nil, Params{})
	if err != nil || got.URL != "fips" {
		t.Errorf("Resolve(default) = %q, %v; want fips, nil", got.URL, err)
	}
	got, err = Resolve(rs, nil, Params{"UseFIPS": Bool(false)})
	if err != nil || got.URL != "plain" {
		t.Errorf("Resolve(UseFIPS=false) = %q, %v; want plain, nil", got.URL, err)
	}
}

func TestResolve_FirstMatchWins(t *testing.T) {
	rs := mustLoad(t, `{
		"parameters": {"R": {"type": "string", "required": true}},
		"rules": [
			{"conditions": [{"fn": "stringEquals", "argv": [{"ref": "R"}, "skip"]}], "endpoint": {"url": "first"}},
			{"conditions": [], "rules": [
				{"conditions": [{"fn": "stringEquals", "argv": [{"ref": "R"}, "never"]}], "endpoint": {"url": "nested-never"}}
			]},
			{"conditions": [], "endpoint": {"url": "second"}},
			{"conditions": [], "endpoint": {"url": "third"}},
			{"conditions": [], "error": "unreachable"}
		]
	}`)

	got, err := Resolve(rs, nil, Params{"R": String("x")})
	if err != nil {
		t.Fatalf("Resolve() error = %v, want nil", err)
	}
	if got.URL != "second" {
		t.Errorf("URL = %q, want second (tree without match falls through)", got.URL)
	}

	got, err = Resolve(rs, nil, Params{"R": String("skip")})
	if err != nil || got.URL != "first" {
		t.Errorf("Resolve(skip) = %q, %v; want first, nil", got.URL, err)
	}
}

func TestResolve_ErrorRule(t *testing.T) {
	rs := mustLoad(t, `{
		"parameters": {"Region": {"type": "string"}},
		"rules": [
			{"conditions": [{"fn": "isSet", "argv": [{"ref": "Region"}]}], "error": "Region {Region} is not supported"},
			{"conditions": [], "error": "Invalid Configuration: Missing Region"}
		]
	}`)

	tests := []struct {
		params Params
		want   string
	}{
		{Params{"Region": String("mars-1")}, "Region mars-1 is not supported"},
		{Params{}, "Invalid Configuration: Missing Region"},
	}
	for _, tt := range tests {
		_, err := Resolve(rs, nil, tt.params)
		var re *ResolutionError
		if !errors.As(err, &re) {
			t.Fatalf("Resolve() error = %v, want *ResolutionError", err)
		}
		if re.Message != tt.want || err.Error() != tt.want {
			t.Errorf("Resolve() message = %q, want %q", re.Message, tt.want)
		}
		if !errors.Is(err, types.ErrEndpointError) {
			t.Errorf("errors.Is(err, ErrEndpointError) = false, want true")
		}
	}
}

func TestResolve_BindingScope(t *testing.T) {
	// "p" is bound inside the first tree. The second rule cannot see it, so it
	// uses its own binding; the first tree's children fall through.
	rs := mustLoad(t, `{
		"parameters": {"Region": {"type": "string", "required": true}},
		"rules": [
			{"conditions": [{"fn": "aws.partition", "argv": [{"ref": "Region"}], "assign": "p"}], "rules": [
				{"conditions": [{"fn": "stringEquals", "argv": [{"fn": "getAttr", "argv": [{"ref": "p"}, "name"]}, "aws-cn"]}], "endpoint": {"url": "https://cn.{p#dnsSuffix}"}}
			]},
			{"conditions": [{"fn": "aws.partition", "argv": ["cn-north-1"], "assign": "p"}], "endpoint": {"url": "https://fallback.{Region}.{p#dnsSuffix}"}}
		]
	}`)

	got, err := Resolve(rs, nil, Params{"Region": String("cn-northwest-1")})
	if err != nil || got.URL != "https://cn.amazonaws.com.cn" {
		t.Errorf("Resolve(cn) = %q, %v; want https://cn.amazonaws.com.cn", got.URL, err)
	}
	got, err = Resolve(rs, nil, Params{"Region": String("us-east-1")})
	if err != nil || got.URL != "https://fallback.us-east-1.amazonaws.com.cn" {
		t.Errorf("Resolve(us) = %q, %v; want https://fallback.us-east-1.amazonaws.com.cn", got.URL, err)
	}
}

func TestResolve_GetAttrOutOfRange(t *testing.T) {
	rs := mustLoad(t, `{
		"parameters": {"Arn": {"type": "string", "required": true}},
		"rules": [
			{"conditions": [
				{"fn": "aws.parseArn", "argv": [{"ref": "Arn"}], "assign": "arn"},
				{"fn": "getAttr", "argv": [{"ref": "arn"}, "resourceId[5]"], "assign": "sixth"}
			], "endpoint": {"url": "{sixth}"}},
			{"conditions": [
				{"fn": "aws.parseArn", "argv": [{"ref": "Arn"}], "assign": "arn"},
				{"fn": "getAttr", "argv": [{"ref": "arn"}, "resourceId[1]"], "assign": "second"}
			], "endpoint": {"url": "https://{second}.{arn#service}"}},
			{"conditions": [], "error": "not an arn"}
		]
	}`)

	got, err := Resolve(rs, nil, Params{"Arn": String("arn:aws:s3:us-west-2:123456789012:bucket/key")})
	if err != nil {
		t.Fatalf("Resolve() error = %v, want nil", err)
	}
	if got.URL != "https://key.s3" {
		t.Errorf("URL = %q, want https://key.s3", got.URL)
	}

	_, err = Resolve(rs, nil, Params{"Arn": String("bucket/key")})
	if err == nil || err.Error() != "not an arn" {
		t.Errorf("Resolve(not arn) error = %v, want \"not an arn\"", err)
	}
}

func TestResolve_EndpointShape(t *testing.T) {
	rs := loadExample(t)

	got, err := Resolve(rs, nil, Params{"Region": String("us-west-2")})
	if err != nil {
		t.Fatalf("Resolve() error = %v, want nil", err)
	}
	if got.URL != "https://example.us-west-2.amazonaws.com" {
		t.Errorf("URL = %q", got.URL)
	}
	if len(got.AuthSchemes) != 1 || got.AuthSchemes[0] != "sigv4" {
		t.Errorf("AuthSchemes = %v, want [sigv4]", got.AuthSchemes)
	}
	if got.AuthParams["signingRegion"] != "us-west-2" || got.AuthParams["signingName"] != "example" {
		t.Errorf("AuthParams = %v", got.AuthParams)
	}
	scheme := got.Properties["authSchemes"].Index(0)
	if s, _ := scheme.Field("signingRegion").AsString(); s != "us-west-2" {
		t.Errorf("properties.authSchemes[0].signingRegion = %v, want us-west-2", scheme.Field("signingRegion"))
	}
	if h := got.Headers["x-example-region"]; len(h) != 1 || h[0] != "us-west-2" {
		t.Errorf("Headers = %v", got.Headers)
	}
}

func TestResolve_InjectedPartitions(t *testing.T) {
	table, err := LoadPartitionTable([]byte(`{"partitions": [{
		"id": "aws", "regionRegex": "^.*$",
		"outputs": {"dnsSuffix": "fixture.test", "dualStackDnsSuffix": "dual.fixture.test", "supportsFIPS": false}
	}]}`))
	if err != nil {
		t.Fatalf("LoadPartitionTable() error = %v, want nil", err)
	}
	rs := loadExample(t)

	got, err := Resolve(rs, table, Params{"Region": String("us-west-2")})
	if err != nil || got.URL != "https://example.us-west-2.fixture.test" {
		t.Errorf("Resolve() = %q, %v; want https://example.us-west-2.fixture.test", got.URL, err)
	}
	_, err = Resolve(rs, table, Params{"Region": String("us-west-2"), "UseFIPS": Bool(true)})
	if err == nil || err.Error() != "FIPS is enabled but this partition does not support FIPS" {
		t.Errorf("Resolve(FIPS) error = %v, want FIPS error", err)
	}
}

func TestResolve_InvariantViolationPanics(t *testing.T) {
	// Hand-built rule-sets bypass the typechecker.
	rs := &RuleSet{Rules: []Rule{&EndpointRule{Endpoint: EndpointTemplate{URL: Ref{Name: "Ghost"}}}}}

	defer func() {
		r := recover()
		if _, ok := r.(*InvariantViolation); !ok {
			t.Errorf("recover() = %v, want *InvariantViolation", r)
		}
	}()
	_, _ = Resolve(rs, nil, nil)
	t.Errorf("Resolve() returned, want panic")
}

func TestBindBuiltIns(t *testing.T) {
	rs := loadExample(t)
	builtins := map[string]Value{
		"AWS::Region":  String("eu-west-1"),
		"AWS::UseFIPS": Bool(true),
	}

	params := rs.BindBuiltIns(builtins, Params{"UseFIPS": Bool(false)})
	if s, _ := params["Region"].AsString(); s != "eu-west-1" {
		t.Errorf("Region = %v, want eu-west-1", params["Region"])
	}
	if b, _ := params["UseFIPS"].AsBool(); b {
		t.Errorf("UseFIPS = true, want explicit false to win")
	}
	if _, ok := params["Endpoint"]; ok {
		t.Errorf("Endpoint bound without a built-in value")
	}
}

// Property-based test: for every binding, resolve returns exactly one of
// endpoint or error, and repeated calls agree.
func TestResolve_PropertyDeterministic(t *testing.T) {
	rs := loadExample(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	regions := gen.OneConstOf("us-west-2", "cn-north-1", "us-gov-west-1", "us-isob-east-1", "mars-1", "bad region", "")
	arns := gen.OneConstOf("", "arn:aws:example:us-east-1:1:widget/blue", "arn:aws:example:::x", "nope")

	properties.Property("resolve is total and deterministic", prop.ForAll(
		func(region string, fips, dual bool, arn string) bool {
			params := Params{"UseFIPS": Bool(fips), "UseDualStack": Bool(dual)}
			if region != "" {
				params["Region"] = String(region)
			}
			if arn != "" {
				params["ResourceArn"] = String(arn)
			}
			ep1, err1 := Resolve(rs, nil, params)
			ep2, err2 := Resolve(rs, nil, params)

			if (err1 == nil) == (ep1.URL == "") {
				return false
			}
			if fmt.Sprint(err1) != fmt.Sprint(err2) {
				return false
			}
			return fmt.Sprintf("%+v", ep1) == fmt.Sprintf("%+v", ep2)
		},
		regions, gen.Bool(), gen.Bool(), arns,
	))

	properties.TestingRun(t)
}

// Property-based test: with N unconditional endpoint rules guarded by
// stringEquals on their index, the first rule whose guard holds wins.
func TestResolve_PropertyFirstMatch(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("first eligible rule wins", prop.ForAll(
		func(n int, pick int) bool {
			pick = pick % n
			rules := ""
			for i := 0; i < n; i++ {
				rules += fmt.Sprintf(`{"conditions": [{"fn": "not", "argv": [{"fn": "stringEquals", "argv": [{"ref": "K"}, "%d"]}]}], "endpoint": {"url": "r%d"}},`, i, i)
			}
			doc := fmt.Sprintf(`{"parameters": {"K": {"type": "string", "required": true}}, "rules": [%s {"conditions": [], "endpoint": {"url": "last"}}]}`, rules)
			rs, err := LoadJSON([]byte(doc))
			if err != nil {
				return false
			}
			// Every rule except the picked one is eligible; rule 0 wins unless picked.
			got, err := Resolve(rs, nil, Params{"K": String(fmt.Sprint(pick))})
			want := "r0"
			if pick == 0 {
				want = "r1"
				if n == 1 {
					want = "last"
				}
			}
			return err == nil && got.URL == want
		},
		gen.IntRange(1, 8),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}
