package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/todddickerson/overskill-sub011/internal/app"
)

var deployCmd = &cobra.Command{
	Use:   "deploy <app>",
	Short: "Build, package and deploy an app to an environment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withComponents(cmd.Context(), func(c *app.Components) error {
			res := c.Pipeline.BuildAndDeploy(cmd.Context(), args[0], envName)
			if err := writeReport(cmd.OutOrStdout(), pipelineReportOf(res)); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("deploy failed at %s stage", res.Stage)
			}
			return nil
		})
	},
}

var teardownCmd = &cobra.Command{
	Use:   "teardown <app>",
	Short: "Remove an app environment's script, assets and deployment record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withComponents(cmd.Context(), func(c *app.Components) error {
			res, err := c.Deployer.Teardown(cmd.Context(), args[0], envName)
			if err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), map[string]any{
				"script":         res.ScriptName,
				"deleted_assets": res.DeletedAssets,
			})
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{deployCmd, teardownCmd} {
		c.Flags().StringVar(&envName, "env", "preview", "target environment (preview, staging, production)")
		rootCmd.AddCommand(c)
	}
}
