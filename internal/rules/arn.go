// internal/rules/arn.go
package rules

import "strings"

// Arn is a parsed Amazon Resource Name.
type Arn struct {
	Partition  string
	Service    string
	Region     string
	AccountID  string
	ResourceID []string
}

// arnType is the static record type produced by aws.parseArn.
var arnType = RecordOf("Arn", map[string]Type{
	"partition":  StringType,
	"service":    StringType,
	"region":     StringType,
	"accountId":  StringType,
	"resourceId": ArrayOf(StringType),
})

// parseArnString splits s as arn:partition:service:region:account:resource.
// The resource keeps any further ':' and is split on ':' and '/' into ResourceID.
// Region and account may be empty; the prefix, partition, service and resource may not.
func parseArnString(s string) (Arn, bool) {
	fields := strings.SplitN(s, ":", 6)
	if len(fields) != 6 {
		return Arn{}, false
	}
	if fields[0] != "arn" || fields[1] == "" || fields[2] == "" || fields[5] == "" {
		return Arn{}, false
	}
	resource := strings.FieldsFunc(fields[5], func(r rune) bool {
		return r == ':' || r == '/'
	})
	if len(resource) == 0 {
		return Arn{}, false
	}
	return Arn{
		Partition:  fields[1],
		Service:    fields[2],
		Region:     fields[3],
		AccountID:  fields[4],
		ResourceID: resource,
	}, true
}

// Value converts the ARN to its record representation.
func (a Arn) Value() Value {
	ids := make([]Value, len(a.ResourceID))
	for i, id := range a.ResourceID {
		ids[i] = String(id)
	}
	return Record(map[string]Value{
		"partition":  String(a.Partition),
		"service":    String(a.Service),
		"region":     String(a.Region),
		"accountId":  String(a.AccountID),
		"resourceId": Array(ids...),
	})
}
