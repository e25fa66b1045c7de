package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sayghamsari/daftarrabet/core/school"
)

func (cli *commandLine) createSchoolCmd() *cobra.Command {
	var ns school.NewSchool
	cmd := &cobra.Command{
		Use:   "createschool",
		Short: "Create a school",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if ns.Name == "" || ns.Code == "" {
				_ = cmd.Usage()
				return errHelp
			}
			if err := ns.Validate(cmd.Context(), cli.validate, cli.schoolSvc); err != nil {
				return err
			}
			s, err := cli.schoolSvc.Create(cmd.Context(), ns)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cli.out, "school %q created (%s), trial ends %s\n", s.Code, s.ID, s.TrialEndsAt.Format("2006-01-02"))
			return nil
		},
	}
	cmd.Flags().StringVar(&ns.Name, "name", "", "The school's name")
	cmd.Flags().StringVar(&ns.Code, "code", "", "The code users register with")
	cmd.Flags().StringVar(&ns.Address, "address", "", "The school's address (optional)")
	cmd.Flags().StringVar(&ns.Phone, "phone", "", "The school's phone (optional)")
	return cmd
}
