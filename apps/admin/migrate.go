package main

import (
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"
)

var gooseRunFunc = goose.RunContext // mockable

func (cli *commandLine) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate <command> [args]",
		Short: "Run a goose migration command (up, up-to, down, down-to, redo, reset, status, version, fix)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				_ = cmd.Usage()
				return errHelp
			}
			if err := goose.SetDialect("postgres"); err != nil {
				return err
			}
			return gooseRunFunc(cmd.Context(), args[0], cli.db.DB, "migrations", args[1:]...)
		},
	}
}
