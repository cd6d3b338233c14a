package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/erg/core/model"
	"github.com/kilianp07/erg/core/tariff"
)

var tariffTimezone string

var tariffsCmd = &cobra.Command{
	Use:   "tariffs",
	Short: "Tariff utilities",
}

var tariffsValidateCmd = &cobra.Command{
	Use:   "validate FILE",
	Short: "Parse a tariff YAML file and print today's periods",
	Args:  cobra.ExactArgs(1),
	RunE:  validateTariffs,
}

func init() {
	tariffsValidateCmd.Flags().StringVar(&tariffTimezone, "timezone", "", "time zone of the tariff windows (default local)")
	tariffsCmd.AddCommand(tariffsValidateCmd)
	rootCmd.AddCommand(tariffsCmd)
}

func validateTariffs(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	ts, err := tariff.ParseYAML(data)
	if err != nil {
		return err
	}
	loc := time.Local
	if tariffTimezone != "" {
		if loc, err = time.LoadLocation(tariffTimezone); err != nil {
			return err
		}
	}
	now := time.Now().In(loc)
	day := model.Window{Start: time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)}
	day.End = day.Start.AddDate(0, 0, 1)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "%d tariffs\n", len(ts))
	for _, t := range ts {
		fmt.Fprintf(w, "%s\t%s\timport %.4f\tfeed-in %.4f\n", t.Name, t.Window, t.ImportPrice, t.FeedInPrice)
	}
	fmt.Fprintf(w, "\nperiods for %s\n", day.Start.Format(time.DateOnly))
	for _, p := range tariff.Expand(ts, day, loc) {
		fmt.Fprintf(w, "%s\t%s\timport %.4f\tfeed-in %.4f\n",
			p.Start.Format("15:04"), p.End.Format("15:04"), p.ImportPrice, p.FeedInPrice)
	}
	return w.Flush()
}
