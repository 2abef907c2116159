package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ifuryst/reelpost/internal/service"
	"github.com/ifuryst/reelpost/internal/service/publisher"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and create platform sessions",
}

var sessionVerifyCmd = &cobra.Command{
	Use:   "verify <username>",
	Short: "Check that the stored session for an account is still accepted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, appLogger, err := bootstrap()
		if err != nil {
			return err
		}
		defer appLogger.Sync()

		account, err := srv.Accounts.GetByUsername(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		verdict := srv.Gate.Validate(cmd.Context(), account)
		fmt.Printf("%s: %s\n", account.Username, verdict.State)
		if verdict.State != service.SessionValid {
			fmt.Println(verdict.Detail)
			return verdict.Err()
		}
		return nil
	},
}

var sessionDeviceCmd = &cobra.Command{
	Use:   "device <username>",
	Short: "Print the device profile presented for an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, appLogger, err := bootstrap()
		if err != nil {
			return err
		}
		defer appLogger.Sync()

		profile := publisher.DeriveDeviceProfile(args[0], srv.Config.Session.DeviceSalt)
		out, err := json.MarshalIndent(profile, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create <username>",
	Short: "Log in interactively and store a fresh session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, appLogger, err := bootstrap()
		if err != nil {
			return err
		}
		defer appLogger.Sync()

		ctx := cmd.Context()
		account, err := srv.Accounts.GetByUsername(ctx, args[0])
		if err != nil {
			return err
		}
		password, err := srv.Accounts.Password(account)
		if err != nil {
			return fmt.Errorf("failed to decrypt password: %w", err)
		}

		device := publisher.DeriveDeviceProfile(account.Username, srv.Config.Session.DeviceSalt)
		req := publisher.LoginRequest{
			Username: account.Username,
			Password: password,
			Device:   &device,
		}

		result, err := srv.Publisher.Login(ctx, req)
		if err != nil {
			return err
		}

		if result.Outcome == publisher.LoginTwoFactorRequired {
			fmt.Print("Verification code: ")
			code, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil {
				return fmt.Errorf("failed to read verification code: %w", err)
			}
			req.Code = strings.TrimSpace(code)
			if result, err = srv.Publisher.Login(ctx, req); err != nil {
				return err
			}
		}

		switch {
		case result.OK():
			if err := srv.Sessions.Save(ctx, result.Session); err != nil {
				return err
			}
			appLogger.Info("Session created", zap.String("username", account.Username))
			fmt.Printf("Session stored for %s\n", account.Username)
			return nil
		case result.Outcome == publisher.LoginChallengeRequired:
			return fmt.Errorf("platform requires a challenge for %s: %s", account.Username, result.Detail)
		case result.Outcome == publisher.LoginRateLimited:
			return fmt.Errorf("login for %s is rate limited, try again later", account.Username)
		default:
			return fmt.Errorf("login for %s failed: %s %s", account.Username, result.Outcome, result.Detail)
		}
	},
}

func init() {
	sessionCmd.AddCommand(sessionVerifyCmd)
	sessionCmd.AddCommand(sessionDeviceCmd)
	sessionCmd.AddCommand(sessionCreateCmd)
}
