package cli

import (
	"github.com/spf13/cobra"

	"github.com/lucasnoah/glwatch/internal/tracker"
	"github.com/lucasnoah/glwatch/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Watch every branch and serve the pipeline view over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		refs, err := a.projectRefs(nil)
		if err != nil {
			return err
		}
		port, _ := cmd.Flags().GetInt("port")

		ctx, stop := signalContext(cmd)
		defer stop()

		events, closeEvents := optionalEventLog(a.logger)
		defer closeEvents()

		broadcaster := tracker.NewBroadcaster()
		dispatcher := tracker.NewDispatcher(0, a.logger, notifySinks(cmd, a.logger, broadcaster)...)
		dispatcher.Start(ctx)
		defer dispatcher.Close()

		orch := a.newOrchestrator(refs, events, dispatcher)
		watching := make(chan struct{})
		go func() {
			defer close(watching)
			orch.Watch(ctx, a.settings.PollEvery(), nil)
		}()

		opts := web.Options{Port: port, Stream: broadcaster, Logger: a.logger}
		if events != nil {
			opts.Events = events
		}
		err = web.NewServer(orch, opts).Start(ctx)

		// The watcher must stop emitting before the dispatcher closes.
		stop()
		<-watching
		return err
	},
}

func init() {
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().Bool("no-desktop", false, "Do not send desktop notifications")
}
