package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/freightwise/logistics-cli/internal/model"
)

var tariffsCmd = &cobra.Command{
	Use:   "tariffs",
	Short: "Manage imported tariff rates",
}

// tariffFileEntry mirrors one row of the import YAML.
type tariffFileEntry struct {
	Channel     string     `yaml:"channel"`
	PricePerKg  float64    `yaml:"price_per_kg"`
	TransitDays int        `yaml:"transit_days"`
	ValidFrom   *time.Time `yaml:"valid_from"`
	ValidTo     *time.Time `yaml:"valid_to"`
}

var tariffsImportCmd = &cobra.Command{
	Use:   "import <route> <file.yaml>",
	Short: "Replace the stored rates for a route from a YAML file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		route, path := args[0], args[1]

		raw, err := os.ReadFile(path)
		if err != nil {
			return eris.Wrap(err, "read tariff file")
		}
		var entries []tariffFileEntry
		if err := yaml.Unmarshal(raw, &entries); err != nil {
			return eris.Wrap(err, "parse tariff file")
		}
		if len(entries) == 0 {
			return eris.New("tariff file has no rates")
		}

		rates := make([]model.TariffRate, 0, len(entries))
		for i, e := range entries {
			ch := model.DeliveryChannel(e.Channel)
			if ch != model.ChannelCargo && ch != model.ChannelWhite {
				return eris.Errorf("entry %d: unknown channel %q", i, e.Channel)
			}
			if e.PricePerKg <= 0 {
				return eris.Errorf("entry %d: price_per_kg must be positive", i)
			}
			rate := model.TariffRate{
				Route:       route,
				Channel:     ch,
				PricePerKg:  e.PricePerKg,
				TransitDays: e.TransitDays,
				ValidTo:     e.ValidTo,
			}
			if e.ValidFrom != nil {
				rate.ValidFrom = *e.ValidFrom
			}
			rates = append(rates, rate)
		}

		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := st.ImportTariffRates(ctx, route, rates)
		if err != nil {
			return err
		}
		fmt.Printf("imported %d rates for %s\n", n, route)
		return nil
	},
}

var tariffsListCmd = &cobra.Command{
	Use:   "list <route>",
	Short: "List the stored rates for a route",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		rates, err := st.GetTariffRates(ctx, args[0])
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CHANNEL\tPRICE/KG\tTRANSIT\tVALID FROM\tVALID TO")
		for _, r := range rates {
			validTo := "-"
			if r.ValidTo != nil {
				validTo = r.ValidTo.Format("2006-01-02")
			}
			validFrom := "-"
			if !r.ValidFrom.IsZero() {
				validFrom = r.ValidFrom.Format("2006-01-02")
			}
			fmt.Fprintf(w, "%s\t%.2f\t%dd\t%s\t%s\n",
				r.Channel, r.PricePerKg, r.TransitDays, validFrom, validTo)
		}
		return w.Flush()
	},
}

func init() {
	tariffsCmd.AddCommand(tariffsImportCmd, tariffsListCmd)
	rootCmd.AddCommand(tariffsCmd)
}
