package cmd

import (
	"fmt"

	"github.com/lehigh-university-libraries/captioner/internal/captioning"
	"github.com/lehigh-university-libraries/captioner/internal/settings"
	"github.com/spf13/cobra"
)

func newModelsCmd() *cobra.Command {
	var settingsPath string

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List vision models available for interrogation",
		Long: `Lists models from every backend with a configured credential.

OpenAI models are limited to the gpt-4o and gpt-4-turbo families. Ollama models
are listed from the configured endpoint. Gemini models are listed when
GEMINI_API_KEY is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := settings.Open(settingsPath)
			if err != nil {
				return err
			}

			lists, err := captioning.NewService().DiscoverModels(cmd.Context(), store.Get())
			if err != nil {
				return fmt.Errorf("failed to list models: %w", err)
			}

			out := cmd.OutOrStdout()
			for _, group := range []struct {
				name   string
				models []string
			}{
				{"openai", lists.OpenAI},
				{"ollama", lists.Ollama},
				{"gemini", lists.Gemini},
			} {
				for _, m := range group.models {
					fmt.Fprintf(out, "%s\t%s\n", group.name, m)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&settingsPath, "settings", settings.DefaultPath(), "Path to the settings file")

	return cmd
}
