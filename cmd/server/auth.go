package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ifuryst/reelpost/internal/service"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage admin authentication",
}

var authSetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Generate a TOTP secret for auth.totp_secret",
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, url, err := service.GenerateSecret("admin")
		if err != nil {
			return err
		}
		fmt.Printf("Secret: %s\n", secret)
		fmt.Printf("URL:    %s\n", url)
		return nil
	},
}

func init() {
	authCmd.AddCommand(authSetupCmd)
}
