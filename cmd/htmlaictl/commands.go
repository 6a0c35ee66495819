package main

import (
	"github.com/spf13/cobra"
)

var jsonOutput bool

var rootCmd = &cobra.Command{
	Use:   "htmlaictl",
	Short: "Run and inspect the html.ai adaptive UI optimization service",
	Long: `htmlaictl runs the html.ai orchestrator service and provides
operator commands for inspecting stored variants and businesses.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP orchestrator",
	RunE:  runServe,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Inspect persisted state without starting the server",
}

var inspectVariantCmd = &cobra.Command{
	Use:   "variant --business <id> --user <id> --component <id>",
	Short: "Print the stored A/B variant record for one component",
	RunE:  runInspectVariant,
}

var inspectBusinessCmd = &cobra.Command{
	Use:   "business --business <id>",
	Short: "Print a tenant's usage counters and allow-listed domains",
	RunE:  runInspectBusiness,
}

var (
	inspectBusinessID string
	inspectUserID     string
	inspectComponent  string
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit machine-readable JSON instead of a human summary")

	inspectVariantCmd.Flags().StringVar(&inspectBusinessID, "business", "", "business id (required)")
	inspectVariantCmd.Flags().StringVar(&inspectUserID, "user", "", "user id (required)")
	inspectVariantCmd.Flags().StringVar(&inspectComponent, "component", "", "component id (required)")
	_ = inspectVariantCmd.MarkFlagRequired("business")
	_ = inspectVariantCmd.MarkFlagRequired("user")
	_ = inspectVariantCmd.MarkFlagRequired("component")

	inspectBusinessCmd.Flags().StringVar(&inspectBusinessID, "business", "", "business id (required)")
	_ = inspectBusinessCmd.MarkFlagRequired("business")

	inspectCmd.AddCommand(inspectVariantCmd, inspectBusinessCmd)
	rootCmd.AddCommand(serveCmd, inspectCmd)
}
