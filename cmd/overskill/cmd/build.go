package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/todddickerson/overskill-sub011/internal/app"
)

var buildCmd = &cobra.Command{
	Use:   "build <app>",
	Short: "Build an app's sources once, with automatic fixes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withComponents(cmd.Context(), func(c *app.Components) error {
			res := c.Pipeline.Build(cmd.Context(), args[0])
			if err := writeReport(cmd.OutOrStdout(), buildReportOf(res)); err != nil {
				return err
			}
			if !res.Success {
				return errors.New("build failed")
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(buildCmd)
}
