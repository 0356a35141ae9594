package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/joeycumines/go-scheduler/internal/workload"
	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <workload.yaml>",
		Short: "Parse and validate a workload file, without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := workload.Load(args[0])
			if err != nil {
				return err
			}
			var total int
			for i := range w.Tasks {
				total += w.Tasks[i].Count()
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "ok: %s: %s specs, %s tasks\n",
				displayName(w), humanize.Comma(int64(len(w.Tasks))), humanize.Comma(int64(total)))
			return err
		},
	}
}

func displayName(w *workload.Workload) string {
	if w.Name == "" {
		return "(unnamed)"
	}
	return w.Name
}
