package main

import (
	"errors"
	"fmt"
	"io"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sayghamsari/daftarrabet/core"
	"github.com/sayghamsari/daftarrabet/core/school"
	"github.com/sayghamsari/daftarrabet/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db        *sqlx.DB
	usrRepo   user.Repository
	schoolSvc *school.Service
	conf      *core.Config
	validate  *validator.Validate
	out       io.Writer
}

func (cli *commandLine) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "admin",
		Short:         "Daftar Rabet administration commands",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = cmd.Usage()
			return errHelp
		},
	}
	root.SetOut(cli.out)
	root.SetErr(cli.out)

	root.AddCommand(
		cli.migrateCmd(),
		cli.addUserCmd(),
		cli.resetPasswordCmd(),
		cli.createSchoolCmd(),
	)
	return root
}

// run executes the command line; args[0] is the program name.
func (cli *commandLine) run(args []string) error {
	root := cli.rootCmd()
	if len(args) > 0 {
		args = args[1:]
	}
	root.SetArgs(args)
	return root.Execute()
}

// promptPassword reads a password without echoing it. An empty password prints the usage.
func (cli *commandLine) promptPassword(cmd *cobra.Command) (string, error) {
	_, _ = fmt.Fprint(cli.out, "Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	_, _ = fmt.Fprintln(cli.out)
	if err != nil {
		return "", err
	}
	if len(pwd) == 0 {
		_ = cmd.Usage()
		return "", errHelp
	}
	return string(pwd), nil
}
