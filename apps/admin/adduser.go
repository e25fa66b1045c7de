package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/sayghamsari/daftarrabet/core"
	"github.com/sayghamsari/daftarrabet/core/user"
)

var (
	errInvalidNationalID = errors.New("invalid national ID")
	errInvalidPhone      = errors.New("invalid phone number")
)

type addUserFlags struct {
	nationalID string
	phone      string
	name       string
	email      string
	schoolCode string
	isAdmin    bool
}

func (cli *commandLine) addUserCmd() *cobra.Command {
	var f addUserFlags
	cmd := &cobra.Command{
		Use:   "adduser",
		Short: "Create or update a user; the password is prompted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.nationalID == "" || (f.phone == "" || f.name == "") && !cli.userExists(cmd.Context(), f.nationalID) {
				_ = cmd.Usage()
				return errHelp
			}
			pwd, err := cli.promptPassword(cmd)
			if err != nil {
				return err
			}
			usr, err := cli.addUser(cmd.Context(), f, pwd)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cli.out, "user %s saved (%s)\n", usr.NationalID, usr.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&f.nationalID, "national-id", "", "The user's national ID")
	cmd.Flags().StringVar(&f.phone, "phone", "", "The user's mobile number")
	cmd.Flags().StringVar(&f.name, "name", "", "The user's full name")
	cmd.Flags().StringVar(&f.email, "email", "", "The user's email (optional)")
	cmd.Flags().StringVar(&f.schoolCode, "school", "", "Code of the user's school; owners have none")
	cmd.Flags().BoolVar(&f.isAdmin, "admin", false, "Make the user an owner")
	return cmd
}

func (cli *commandLine) userExists(ctx context.Context, nationalID string) bool {
	_, err := cli.usrRepo.GetUserByNationalID(ctx, core.CleanDigits(nationalID))
	return err == nil
}

// addUser updates or creates a user.User
func (cli *commandLine) addUser(ctx context.Context, f addUserFlags, pwd string) (user.User, error) {
	nationalID := core.CleanDigits(f.nationalID)
	if !core.ValidNationalID(nationalID) {
		return user.User{}, errInvalidNationalID
	}

	usr, err := cli.usrRepo.GetUserByNationalID(ctx, nationalID)
	isNew := false
	if err != nil {
		if !core.IsNotFound(err) {
			return user.User{}, err
		}
		isNew = true
		now := core.Now()
		usr = user.User{
			NationalID:    nationalID,
			Roles:         []string{},
			BehaviorScore: user.DefaultBehaviorScore,
			TrialEndsAt:   now.Add(cli.conf.TrialPeriod),
			CreatedAt:     now,
		}
	}

	if f.name != "" {
		usr.Name = core.CleanString(f.name)
	}
	if f.phone != "" {
		phone := core.CleanDigits(f.phone)
		if err = cli.validate.Var(phone, "numeric,len=11,startswith=09"); err != nil {
			return user.User{}, errInvalidPhone
		}
		usr.Phone = phone
	}
	if f.email != "" {
		usr.Email = core.CleanString(f.email, true /* lower */)
	}
	if f.schoolCode != "" {
		if usr.SchoolID, err = cli.schoolSvc.SchoolIDByCode(ctx, f.schoolCode); err != nil {
			return user.User{}, err
		}
	}
	if f.isAdmin {
		usr.Roles = []string{user.RoleAdminOwner}
		usr.SchoolID = ""
	}
	var excluded []string
	if !isNew {
		excluded = []string{usr.ID}
	}
	if err = cli.usrRepo.CheckUniqueness(ctx, usr.NationalID, usr.Phone, usr.Email, excluded); err != nil {
		return user.User{}, err
	}

	usr.IsActive = true
	usr.UpdatedAt = core.Now()
	if err = usr.SetPassword(pwd); err != nil {
		return user.User{}, err
	}
	if isNew {
		return cli.usrRepo.CreateUser(ctx, usr)
	}
	return cli.usrRepo.UpdateUser(ctx, usr)
}
