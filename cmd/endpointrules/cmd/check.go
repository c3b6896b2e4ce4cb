package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/solatis/endpointrules/internal/rules"
)

var checkCmd = &cobra.Command{
	Use:   "check RULESET...",
	Short: "Load and typecheck rule-set files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	failed := 0
	for _, path := range args {
		rs, err := rules.LoadFile(path)
		if err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(out, "ok   %s (service %q, %d parameters, fingerprint %.12s)\n",
			path, rs.ServiceID, len(rs.Parameters), rs.Fingerprint())
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d rule-sets failed to load", failed, len(args))
	}
	return nil
}
