package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sayghamsari/daftarrabet/core"
)

func (cli *commandLine) resetPasswordCmd() *cobra.Command {
	var nationalID string
	cmd := &cobra.Command{
		Use:   "resetpassword",
		Short: "Reset a user's password; the new password is prompted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if nationalID == "" {
				_ = cmd.Usage()
				return errHelp
			}
			pwd, err := cli.promptPassword(cmd)
			if err != nil {
				return err
			}
			if err = cli.resetPassword(cmd.Context(), nationalID, pwd); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cli.out, "password updated")
			return nil
		},
	}
	cmd.Flags().StringVar(&nationalID, "national-id", "", "The user's national ID. The password will be prompted next.")
	return cmd
}

func (cli *commandLine) resetPassword(ctx context.Context, nationalID, pwd string) error {
	usr, err := cli.usrRepo.GetUserByNationalID(ctx, core.CleanDigits(nationalID))
	if err != nil {
		return err
	}
	if err = usr.SetPassword(pwd); err != nil {
		return err
	}
	usr.UpdatedAt = core.Now()
	_, err = cli.usrRepo.UpdateUser(ctx, usr)
	return err
}
