package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/freightwise/logistics-cli/internal/model"
)

var (
	runDescription string
	runCategory    string
	runWeight      float64
	runVolume      float64
	runOrigin      string
	runDestination string
	runSupplier    string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process a single logistics inquiry and print the report",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		inquiry := model.Inquiry{
			Description: runDescription,
			Category:    model.CargoCategory(runCategory),
			WeightKg:    runWeight,
			VolumeM3:    runVolume,
			Origin:      runOrigin,
			Destination: runDestination,
			Supplier:    runSupplier,
		}

		run, err := env.Pipeline.Submit(ctx, inquiry)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

func init() {
	runCmd.Flags().StringVar(&runDescription, "description", "", "product description (required)")
	runCmd.Flags().StringVar(&runCategory, "category", "other", "cargo category (electronics, clothing, machinery, chemicals, food, other)")
	runCmd.Flags().Float64Var(&runWeight, "weight", 0, "weight in kg (required)")
	runCmd.Flags().Float64Var(&runVolume, "volume", 0, "volume in m³")
	runCmd.Flags().StringVar(&runOrigin, "origin", "", "origin city (required)")
	runCmd.Flags().StringVar(&runDestination, "destination", "", "destination city (required)")
	runCmd.Flags().StringVar(&runSupplier, "supplier", "", "supplier company name (optional)")
	_ = runCmd.MarkFlagRequired("description")
	_ = runCmd.MarkFlagRequired("weight")
	_ = runCmd.MarkFlagRequired("origin")
	_ = runCmd.MarkFlagRequired("destination")
	rootCmd.AddCommand(runCmd)
}
