package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joeycumines/go-scheduler"
	"github.com/joeycumines/go-scheduler/internal/workload"
)

type runSummary struct {
	Name     string
	RunID    string
	Tasks    []workload.TaskSummary
	Queues   []scheduler.QueueStats
	Traces   []traceSummary
	Elapsed  time.Duration
	TimedOut bool
}

type traceSummary struct {
	Path    string
	Size    int64
	Written uint64
	Dropped uint64
	Failed  uint64
}

func (x *runSummary) write(w io.Writer) error {
	status := "completed"
	if x.TimedOut {
		status = "timed out"
	}
	if _, err := fmt.Fprintf(w, "%s: %s in %s (run %s)\n\n", x.Name, status, x.Elapsed.Round(time.Millisecond), x.RunID); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tPRIORITY\tENQUEUED\tRUNS\tFAILURES\tCANCELED")
	for _, t := range x.Tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.Name, t.Priority,
			humanize.Comma(int64(t.Enqueued)),
			humanize.Comma(int64(t.Runs)),
			humanize.Comma(int64(t.Failures)),
			humanize.Comma(int64(t.Canceled)),
		)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "QUEUE\tFLUSHES\tCOMPLETED\tFAILED\tREARMED\tREUSED\tP50\tP99\tMAX")
	for _, q := range x.Queues {
		p50, p99, maxRun := "-", "-", "-"
		if q.Run != nil && q.Run.Count != 0 {
			p50, p99, maxRun = q.Run.P50.String(), q.Run.P99.String(), q.Run.Max.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			q.Priority,
			humanize.Comma(int64(q.Flushes)),
			humanize.Comma(int64(q.Completed)),
			humanize.Comma(int64(q.Failed)),
			humanize.Comma(int64(q.Rearmed)),
			humanize.Comma(int64(q.Reused)),
			p50, p99, maxRun,
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, t := range x.Traces {
		size := "-"
		if t.Size >= 0 {
			size = humanize.Bytes(uint64(t.Size))
		}
		if _, err := fmt.Fprintf(w, "\ntrace %s: %s records (%s), %s dropped, %s failed",
			t.Path,
			humanize.Comma(int64(t.Written)),
			size,
			humanize.Comma(int64(t.Dropped)),
			humanize.Comma(int64(t.Failed)),
		); err != nil {
			return err
		}
	}
	if len(x.Traces) != 0 {
		_, err := fmt.Fprintln(w)
		return err
	}
	return nil
}
