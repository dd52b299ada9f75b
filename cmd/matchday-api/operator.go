package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/matchday/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/matchday/backend/internal/config"
	"github.com/MarcoPoloResearchLab/matchday/backend/internal/permissions"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func newIssueTokenCommand() *cobra.Command {
	var (
		principalID string
		displayName string
		email       string
	)
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Mint a session token for an operator or test principal",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.SigningSecret),
				Issuer:        appConfig.Issuer,
				TokenTTL:      appConfig.TokenTTL,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.IssueSessionToken(cmd.Context(), auth.Principal{
				ID:          principalID,
				DisplayName: displayName,
				Email:       email,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&principalID, "principal", "", "Principal id to embed in the token")
	cmd.Flags().StringVar(&displayName, "display-name", "", "Display name claim")
	cmd.Flags().StringVar(&email, "email", "", "Email claim")
	_ = cmd.MarkFlagRequired("principal")
	return cmd
}

func newGrantRoleCommand() *cobra.Command {
	var (
		principalID  string
		roleName     string
		tournamentID string
		matchID      string
	)
	cmd := &cobra.Command{
		Use:   "grant-role",
		Short: "Record a role assignment without an acting principal, e.g. the first admin",
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := permissions.ParseRole(roleName)
			if err != nil {
				return err
			}
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			db, err := openDatabase(appConfig, zap.NewNop())
			if err != nil {
				return err
			}
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			defer sqlDB.Close()

			roles, err := newRoleService(db, zap.NewNop())
			if err != nil {
				return err
			}
			assignment, err := roles.Bootstrap(cmd.Context(), permissions.Grant{
				PrincipalID:  principalID,
				Role:         role,
				TournamentID: tournamentID,
				MatchID:      matchID,
			})
			if err != nil {
				return err
			}
			scope := strings.TrimSpace(strings.Join([]string{assignment.TournamentID, assignment.MatchID}, " "))
			fmt.Fprintf(cmd.OutOrStdout(), "assignment %d: %s is %s %s\n", assignment.ID, assignment.PrincipalID, assignment.Role, scope)
			return nil
		},
	}
	cmd.Flags().StringVar(&principalID, "principal", "", "Principal receiving the role")
	cmd.Flags().StringVar(&roleName, "role", "", "Role to grant (admin, tournament_admin, umpire)")
	cmd.Flags().StringVar(&tournamentID, "tournament", "", "Tournament scope")
	cmd.Flags().StringVar(&matchID, "match", "", "Match scope (umpire only)")
	_ = cmd.MarkFlagRequired("principal")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}
