package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/phrazzld/scry-tasks/internal/service/auth"
)

var tokenOwner string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for an owner",
	Long: `Mint an HS256 bearer token whose subject is the given owner ID, signed with
auth.jwt_secret and valid for auth.token_lifetime. Intended for local testing
and service-to-service calls.`,
	Example: `  scry-tasks token --owner user-42`,
	Args:    cobra.NoArgs,
	RunE:    runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenOwner, "owner", "", "owner ID to place in the token subject")
	_ = tokenCmd.MarkFlagRequired("owner")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, _ []string) error {
	svc, err := auth.NewJWTService(cfg.Auth)
	if err != nil {
		return fmt.Errorf("failed to initialize JWT service: %w", err)
	}

	token, err := svc.GenerateToken(cmd.Context(), tokenOwner)
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
	return err
}
