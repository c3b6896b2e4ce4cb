package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/solatis/endpointrules/internal/rules"
)

var testCmd = &cobra.Command{
	Use:   "test [RULESET SUITE...]",
	Short: "Run test suites against a rule-set",
	Long: `Test runs each suite case through the engine and reports mismatches.

With file arguments the first is the rule-set and the rest are suites. With
--service the newest stored revision is run against its stored suites.`,
	RunE: runTest,
}

func init() {
	rootCmd.AddCommand(testCmd)
	testCmd.Flags().String("service", "", "run the stored suites of this service's newest rule-set")
	testCmd.Flags().BoolP("verbose", "v", false, "print passing cases too")
}

func runTest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	service, _ := cmd.Flags().GetString("service")
	verbose, _ := cmd.Flags().GetBool("verbose")

	partitions, err := partitionTable("")
	if err != nil {
		return err
	}
	engine := rules.NewEngine(rules.WithPartitions(partitions))

	var (
		rs     *rules.RuleSet
		suites = map[string]*rules.Suite{}
		order  []string
	)
	switch {
	case service != "" && len(args) == 0:
		store, closeDB, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeDB()
		rec, err := store.LatestRuleSet(ctx, service)
		if err != nil {
			return err
		}
		if rs, err = rec.Compile(); err != nil {
			return err
		}
		stored, err := store.ListTestSuites(ctx, rec.ID)
		if err != nil {
			return err
		}
		for _, sr := range stored {
			suite, err := sr.Suite()
			if err != nil {
				return fmt.Errorf("suite %s: %w", sr.ID, err)
			}
			suites[string(sr.ID)] = suite
			order = append(order, string(sr.ID))
		}
	case service == "" && len(args) >= 2:
		if rs, err = rules.LoadFile(args[0]); err != nil {
			return err
		}
		for _, path := range args[1:] {
			suite, err := loadSuiteFile(path)
			if err != nil {
				return err
			}
			suites[path] = suite
			order = append(order, path)
		}
	default:
		return fmt.Errorf("give a RULESET and at least one SUITE, or --service")
	}

	if len(order) == 0 {
		return fmt.Errorf("no test suites found")
	}

	failed := 0
	for _, name := range order {
		report := rules.RunSuite(engine, rs, suites[name])
		printReport(cmd.OutOrStdout(), name, report, verbose)
		failed += report.Failed
	}
	if failed > 0 {
		return fmt.Errorf("%d test case(s) failed", failed)
	}
	return nil
}

func loadSuiteFile(path string) (*rules.Suite, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	suite, err := rules.LoadSuite(data, rules.FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return suite, nil
}

func printReport(w io.Writer, name string, report rules.SuiteReport, verbose bool) {
	for _, r := range report.Results {
		label := r.Documentation
		if label == "" {
			label = fmt.Sprintf("case %d", r.Index)
		}
		switch {
		case !r.Passed:
			fmt.Fprintf(w, "FAIL %s: %s: %s\n", name, label, r.Reason)
		case verbose:
			fmt.Fprintf(w, "ok   %s: %s\n", name, label)
		}
	}
	fmt.Fprintf(w, "%s: %d passed, %d failed\n", name, report.Passed, report.Failed)
}
