package cmd

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/solatis/endpointrules/internal/core/auth"
	"github.com/solatis/endpointrules/internal/core/config"
	"github.com/solatis/endpointrules/internal/types"
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage API keys for the gRPC resolver",
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Issue a new API key",
	Long: `Create issues a key signed with one of the ER_HMAC_SECRET secrets and
prints it once. Only its HMAC is stored.`,
	Args: cobra.NoArgs,
	RunE: runAPIKeyCreate,
}

var apikeyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List issued API keys",
	Args:  cobra.NoArgs,
	RunE:  runAPIKeyList,
}

var apikeyRevokeCmd = &cobra.Command{
	Use:   "revoke ID",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runAPIKeyRevoke,
}

func init() {
	rootCmd.AddCommand(apikeyCmd)
	apikeyCmd.AddCommand(apikeyCreateCmd, apikeyListCmd, apikeyRevokeCmd)
	apikeyCreateCmd.Flags().String("name", "", "client the key is issued to (required)")
	apikeyCreateCmd.Flags().String("secret-id", "", "secret to sign with (default: the only configured secret)")
	_ = apikeyCreateCmd.MarkFlagRequired("name")
}

func runAPIKeyCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	name, _ := cmd.Flags().GetString("name")
	secretID, _ := cmd.Flags().GetString("secret-id")

	secrets, err := config.HMACSecrets()
	if err != nil {
		return fmt.Errorf("failed to load HMAC secrets: %w", err)
	}
	secretID, err = pickSecret(secrets, secretID)
	if err != nil {
		return err
	}

	key, keyHash, err := auth.GenerateAPIKey(secretID, secrets[secretID])
	if err != nil {
		return err
	}

	store, closeDB, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	rec, err := store.CreateAPIKey(ctx, name, secretID, keyHash)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "api key %s for %q\n%s\n", rec.ID, rec.Name, key)
	return nil
}

// pickSecret resolves the signing secret: the requested one, or the only one.
func pickSecret(secrets map[string][]byte, requested string) (string, error) {
	if requested != "" {
		if _, ok := secrets[requested]; !ok {
			return "", fmt.Errorf("secret_id %s is not configured", requested)
		}
		return requested, nil
	}
	switch len(secrets) {
	case 0:
		return "", fmt.Errorf("no HMAC secrets configured (set ER_HMAC_SECRET environment variable)")
	case 1:
		for id := range secrets {
			return id, nil
		}
	}
	ids := make([]string, 0, len(secrets))
	for id := range secrets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return "", fmt.Errorf("several secrets configured, choose one with --secret-id: %v", ids)
}

func runAPIKeyList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	store, closeDB, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	keys, err := store.ListAPIKeys(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSECRET\tSTATUS\tLAST USED")
	for _, k := range keys {
		state := "active"
		if k.Revoked() {
			state = "revoked"
		}
		lastUsed := "never"
		if k.LastUsedAt.Valid {
			lastUsed = k.LastUsedAt.String
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", k.ID, k.Name, k.SecretID, state, lastUsed)
	}
	return tw.Flush()
}

func runAPIKeyRevoke(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	store, closeDB, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	if err := store.RevokeAPIKey(ctx, types.APIKeyID(args[0])); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
	return nil
}
