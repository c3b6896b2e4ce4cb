package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/solatis/endpointrules/internal/core/api"
	"github.com/solatis/endpointrules/internal/core/auth"
	"github.com/solatis/endpointrules/internal/core/db"
	"github.com/solatis/endpointrules/internal/rules"
	"github.com/solatis/endpointrules/internal/types"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve [RULESET]",
	Short: "Resolve an endpoint from a rule-set file, a stored service or a remote server",
	Long: `Resolve evaluates a rule-set against parameters given as --param Name=value.

The rule-set comes from a file argument, from the newest stored revision of
--service (requires --db-url), or from a running server at --server.
--revision picks a specific stored rule-set by ID instead of the newest.
Boolean parameters take true/false.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)
	resolveCmd.Flags().StringArrayP("param", "p", nil, "parameter Name=value (repeatable)")
	resolveCmd.Flags().StringArray("builtin", nil, "built-in value, e.g. AWS::Region=us-east-1 (repeatable)")
	resolveCmd.Flags().String("service", "", "resolve with the stored rule-set of this service")
	resolveCmd.Flags().String("revision", "", "resolve with the stored rule-set of this ID")
	resolveCmd.Flags().String("server", "", "resolve remotely against a resolver at host:port")
	resolveCmd.Flags().Duration("timeout", 10*time.Second, "remote call timeout")
	resolveCmd.Flags().String("api-key", "", "API key for --server (default $ER_API_KEY)")
}

func runResolve(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rawParams, _ := cmd.Flags().GetStringArray("param")
	rawBuiltins, _ := cmd.Flags().GetStringArray("builtin")
	service, _ := cmd.Flags().GetString("service")
	server, _ := cmd.Flags().GetString("server")
	revision, _ := cmd.Flags().GetString("revision")

	assignments, err := parseAssignments(rawParams)
	if err != nil {
		return err
	}
	builtinPairs, err := parseAssignments(rawBuiltins)
	if err != nil {
		return err
	}

	if server != "" {
		if service == "" {
			return fmt.Errorf("--server requires --service")
		}
		timeout, _ := cmd.Flags().GetDuration("timeout")
		apiKey, _ := cmd.Flags().GetString("api-key")
		if apiKey == "" {
			apiKey = os.Getenv("ER_API_KEY")
		}
		if apiKey != "" {
			ctx = auth.WithAPIKey(ctx, apiKey)
		}
		return resolveRemote(ctx, cmd.OutOrStdout(), server, service, assignments, timeout)
	}

	var rs *rules.RuleSet
	switch {
	case len(args) == 1 && service == "":
		if rs, err = rules.LoadFile(args[0]); err != nil {
			return err
		}
	case len(args) == 0 && (service != "") != (revision != ""):
		if rs, err = storedRuleSet(ctx, service, revision); err != nil {
			return err
		}
	default:
		return fmt.Errorf("give exactly one of a RULESET file, --service or --revision")
	}

	params, err := typedParams(rs, assignments)
	if err != nil {
		return err
	}
	if len(builtinPairs) > 0 {
		params = rs.BindBuiltIns(untypedValues(builtinPairs), params)
	}

	partitions, err := partitionTable("")
	if err != nil {
		return err
	}
	ep, err := rules.NewEngine(rules.WithPartitions(partitions)).Resolve(rs, params)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), ep)
}

func storedRuleSet(ctx context.Context, service, revision string) (*rules.RuleSet, error) {
	store, closeDB, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	defer closeDB()

	var rec db.RuleSetRecord
	if revision != "" {
		id, perr := types.ParseRuleSetID(revision)
		if perr != nil {
			return nil, fmt.Errorf("invalid --revision %q: %w", revision, perr)
		}
		rec, err = store.GetRuleSet(ctx, id)
	} else {
		rec, err = store.LatestRuleSet(ctx, service)
	}
	if err != nil {
		return nil, err
	}
	return rec.Compile()
}

func resolveRemote(ctx context.Context, out io.Writer, addr, service string, assignments map[string]string, timeout time.Duration) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	result, err := api.NewResolverClient(conn).Resolve(ctx, service, untypedValues(assignments))
	if err != nil {
		return err
	}
	return writeJSON(out, result)
}

// parseAssignments splits Name=value pairs on the first '='.
func parseAssignments(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid assignment %q (want Name=value)", pair)
		}
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("%q given more than once", name)
		}
		out[name] = value
	}
	return out, nil
}

// typedParams converts flag values using each parameter's declared type.
// Undeclared names pass through as strings; the engine rejects them.
func typedParams(rs *rules.RuleSet, assignments map[string]string) (rules.Params, error) {
	params := make(rules.Params, len(assignments))
	for name, raw := range assignments {
		p, ok := rs.Parameter(name)
		if ok && p.Type.Kind == rules.TypeBool {
			b, err := strconv.ParseBool(raw)
			if err != nil {
				return nil, fmt.Errorf("parameter %s: %q is not a boolean", name, raw)
			}
			params[name] = rules.Bool(b)
			continue
		}
		params[name] = rules.String(raw)
	}
	return params, nil
}

// untypedValues maps "true"/"false" to booleans and everything else to
// strings, for inputs with no declaration to consult.
func untypedValues(assignments map[string]string) rules.Params {
	out := make(rules.Params, len(assignments))
	for name, raw := range assignments {
		switch raw {
		case "true":
			out[name] = rules.Bool(true)
		case "false":
			out[name] = rules.Bool(false)
		default:
			out[name] = rules.String(raw)
		}
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
