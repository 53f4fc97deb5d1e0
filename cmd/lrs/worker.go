package main

import (
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/worker"

	"github.com/lushonline/moodle-mod-externalcontent/internal/notify"
)

func newWorkerCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the Temporal worker that records state-change events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer rt.close()

			c, err := notify.Dial(rt.cfg.Temporal.HostPort, rt.cfg.Temporal.Namespace, rt.logger)
			if err != nil {
				return err
			}
			defer c.Close()

			w := notify.RegisterWorker(c, rt.store, rt.logger)
			rt.logger.Info("events worker starting", "task_queue", notify.TaskQueue(), "host_port", rt.cfg.Temporal.HostPort)
			return w.Run(worker.InterruptCh())
		},
	}
}
