package cmd

import (
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"

	"github.com/lehigh-university-libraries/captioner/internal/export"
	"github.com/lehigh-university-libraries/captioner/internal/ingest"
	"github.com/lehigh-university-libraries/captioner/internal/models"
	"github.com/spf13/cobra"
)

func newPackCmd() *cobra.Command {
	var (
		output string
		opts   models.ExportOptions
	)

	cmd := &cobra.Command{
		Use:   "pack <inputs...>",
		Short: "Build a caption archive from images, caption files and zip archives",
		Long: `Reads images, .txt caption files and zip archives of image/caption pairs,
pairs captions with images by file stem and writes a single export archive.

Corrupt archives are reported and skipped; the remaining inputs are still packed.`,
		Example: `  # Re-pack captions only
  captioner pack photos.zip extra.jpg extra.txt -o captions.zip

  # Include images, rename sequentially and add a parquet manifest
  captioner pack ./dataset/* -o dataset.zip --images --rename --prefix cat --manifest`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files := make([]ingest.File, 0, len(args))
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", path, err)
				}
				files = append(files, ingest.File{
					Name:        filepath.Base(path),
					ContentType: mime.TypeByExtension(filepath.Ext(path)),
					Data:        data,
				})
			}

			result := ingest.Ingest(files)
			for _, err := range result.Errors {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipped: %v\n", err)
			}
			if len(result.Records) == 0 {
				return fmt.Errorf("no images found in %d inputs", len(args))
			}

			data, err := export.Build(result.Records, opts)
			if err != nil {
				return err
			}
			if err := os.WriteFile(output, data, 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}

			slog.Info("Archive written", "path", output, "images", len(result.Records), "failed", result.Failed, "bytes", len(data))
			fmt.Fprintf(cmd.OutOrStdout(), "Packed %d images into %s\n", len(result.Records), output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "captions.zip", "Output archive path")
	cmd.Flags().BoolVar(&opts.IncludeImages, "images", false, "Include image files in the archive")
	cmd.Flags().BoolVar(&opts.RenameSequentially, "rename", false, "Rename entries to <prefix>001, <prefix>002, ...")
	cmd.Flags().StringVar(&opts.Prefix, "prefix", "image", "Prefix for sequential names")
	cmd.Flags().BoolVar(&opts.IncludeManifest, "manifest", false, "Add a metadata.parquet manifest")

	return cmd
}
