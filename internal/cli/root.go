// Package cli implements the schedrun command line interface.
package cli

import (
	"github.com/joeycumines/go-scheduler/internal/logging"
	"github.com/joeycumines/logiface"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	logLevel  string
	logFormat string
}

// NewRootCmd creates the root cobra command.
func NewRootCmd() *cobra.Command {
	var (
		flags  rootFlags
		logger *logiface.Logger[logiface.Event]
	)

	root := &cobra.Command{
		Use:   "schedrun",
		Short: "Run synthetic workloads against a multi-priority task scheduler",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logging.ParseLevel(flags.logLevel)
			if err != nil {
				return err
			}
			logger, err = logging.New(cmd.ErrOrStderr(), logging.Format(flags.logFormat), level)
			return err
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "Log level (trace, debug, info, notice, warn, error, off)")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", string(logging.FormatJSON), "Log format (json, console)")

	getLogger := func() *logiface.Logger[logiface.Event] { return logger }

	root.AddCommand(
		newRunCmd(getLogger),
		newValidateCmd(),
	)

	return root
}
