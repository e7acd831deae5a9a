package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/lehigh-university-libraries/captioner/internal/handlers"
	"github.com/lehigh-university-libraries/captioner/internal/settings"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var port string
	var settingsPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start web server for the captioning interface",
		Long: `Starts the Captioner web interface on the specified port.

The web interface lets you upload images and zip archives, edit captions,
generate them with vision-capable LLMs (OpenAI, Ollama or Gemini) and
download the result as captions.zip.`,
		Example: `  # Start server on default port 8888
  captioner serve

  # Start server on custom port with a project settings file
  captioner serve --port 3000 --settings ./captioner.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := settings.Open(settingsPath)
			if err != nil {
				return err
			}
			slog.Debug("Settings loaded", "path", settingsPath)

			handler := handlers.New(store)

			addr := ":" + port
			server := &http.Server{
				Addr:    addr,
				Handler: handler.Routes(),
			}

			// Start server in goroutine
			serverErr := make(chan error, 1)
			go func() {
				slog.Info("Captioner interface available", "addr", addr, "url", "http://localhost"+addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			// Wait for context cancellation (Ctrl+C) or server error
			select {
			case <-cmd.Context().Done():
				slog.Info("Shutting down server...")
				// Give server 5 seconds to shut down gracefully
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					slog.Error("Server shutdown failed", "err", err)
					return err
				}
				slog.Info("Server stopped")
				return nil
			case err := <-serverErr:
				return err
			}
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "8888", "Port to listen on")
	cmd.Flags().StringVar(&settingsPath, "settings", settings.DefaultPath(), "Path to the settings file")

	return cmd
}
