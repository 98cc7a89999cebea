package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/animation-agent/internal/config"
	"github.com/jonathan/animation-agent/internal/server"
)

var tokenCmd = &cobra.Command{
	Use:   "token <owner-id>",
	Short: "Issue a bearer token for an owner",
	Long:  `Sign a bearer token with JWT_SECRET. Runs created with it are visible only to that owner.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	jwtCfg, err := config.NewJWTConfig()
	if err != nil {
		return err
	}
	if jwtCfg == nil {
		return errors.New("JWT_SECRET is not set")
	}
	token, err := server.NewJWTService(jwtCfg).GenerateToken(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
