package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cloudchase/tfmeta/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the registry API server",
	Long:  "Serve the local registry over HTTP: list models, show their metadata and download packed files.",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("addr", ":8480", "Address to listen on")
}

func runServe(cmd *cobra.Command, _ []string) error {
	mgr, err := newManager()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := api.NewServer(mgr, appConfig.Server.Addr, logger)
	return srv.Start(ctx)
}
