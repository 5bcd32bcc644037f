package main

import (
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/reanm09/intellidocs/server"
)

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and ingestion workers",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&servePort, "port", "p", "", "listen port (overrides server.port)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	worker, err := a.newWorker(nil)
	if err != nil {
		return err
	}
	worker.Start(ctx)
	defer worker.Stop()

	srv, err := server.NewWithConfig(server.Config{
		Registry:  a.registry,
		Index:     a.index,
		Pipeline:  a.pipeline,
		Jobs:      worker,
		UploadDir: cfg.Storage.UploadDir,
		TopK:      cfg.RAG.TopK,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	port := cfg.Server.Port
	if servePort != "" {
		port = servePort
	}
	color.Cyan("Intellidocs listening on :%s", port)

	if err := srv.ListenAndServe(ctx, ":"+port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
