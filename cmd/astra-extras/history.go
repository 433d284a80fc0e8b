package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	historyKind  string
	historyLimit int
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent copy, transfer, and build runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if historyStore == nil {
				return errors.New("run history is unavailable, see warnings above")
			}
			runs, err := historyStore.ListRuns(historyKind, historyLimit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tSTATUS\tSTARTED\tSOURCE\tDESTINATION\tJOB")
			for _, run := range runs {
				status := run.Status
				if run.ExitCode.Valid && run.ExitCode.Int64 != 0 {
					status = fmt.Sprintf("%s (%d)", status, run.ExitCode.Int64)
				}
				source := run.Source
				destination := run.Destination
				if source == "" && run.Image != "" {
					source = run.Image
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
					run.ID, run.Kind, status, humanize.Time(run.StartTime),
					source, destination, run.JobID)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&historyKind, "kind", "", "filter by run kind (data-cp, data-transfer, image-build, image-transfer)")
	cmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of runs to show")
	return cmd
}
