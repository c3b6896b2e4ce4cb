package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/solatis/endpointrules/internal/rules"
)

var importCmd = &cobra.Command{
	Use:   "import RULESET",
	Short: "Validate a rule-set and store it as the newest revision of its service",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

var servicesCmd = &cobra.Command{
	Use:   "services",
	Short: "List stored services and their revisions",
	Args:  cobra.NoArgs,
	RunE:  runServices,
}

func init() {
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(servicesCmd)
	importCmd.Flags().StringArray("tests", nil, "test suite file to attach (repeatable)")
	importCmd.Flags().Bool("verify", true, "run the attached suites before storing")
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	suitePaths, _ := cmd.Flags().GetStringArray("tests")
	verify, _ := cmd.Flags().GetBool("verify")

	data, err := readFile(args[0])
	if err != nil {
		return err
	}
	format := rules.FormatFromPath(args[0])

	if verify && len(suitePaths) > 0 {
		if err := verifySuites(data, format, suitePaths); err != nil {
			return err
		}
	}

	store, closeDB, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	rec, err := store.SaveRuleSet(ctx, data, format)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "rule-set %s (service %q, checksum %.12s)\n", rec.ID, rec.ServiceID, rec.Checksum)

	for _, path := range suitePaths {
		suiteData, err := readFile(path)
		if err != nil {
			return err
		}
		sr, err := store.SaveTestSuite(ctx, rec.ID, suiteData, rules.FormatFromPath(path))
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "test suite %s from %s\n", sr.ID, path)
	}
	return nil
}

// verifySuites refuses an import whose own suites fail.
func verifySuites(data []byte, format rules.Format, suitePaths []string) error {
	doc, err := rules.DecodeDocument(data, format)
	if err != nil {
		return err
	}
	rs, err := rules.Load(doc)
	if err != nil {
		return err
	}
	partitions, err := partitionTable("")
	if err != nil {
		return err
	}
	engine := rules.NewEngine(rules.WithPartitions(partitions))
	for _, path := range suitePaths {
		suite, err := loadSuiteFile(path)
		if err != nil {
			return err
		}
		if report := rules.RunSuite(engine, rs, suite); !report.OK() {
			return fmt.Errorf("%s: %d test case(s) failed; not importing", path, report.Failed)
		}
	}
	return nil
}

func runServices(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	store, closeDB, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	services, err := store.ListServices(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tREVISIONS\tLATEST")
	for _, s := range services {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", s.ServiceID, s.Revisions, s.LatestID)
	}
	return tw.Flush()
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}
