package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Oldsnak/video-downloader-api/internal/engine"
	"github.com/Oldsnak/video-downloader-api/internal/format"
	"github.com/Oldsnak/video-downloader-api/internal/platform"
	"github.com/Oldsnak/video-downloader-api/internal/security"
)

func newInspectCommand() *cobra.Command {
	var binary string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "inspect <url>",
		Short: "Show the formats the API would offer for a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			normalized, err := platform.Normalize(args[0])
			if err != nil {
				return err
			}
			if err := security.NewGuard(nil).Validate(ctx, normalized); err != nil {
				return err
			}

			eng := engine.NewYtDlp(binary)
			info, err := eng.ExtractInfo(ctx, normalized)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s)\n", info.Title(), platform.Classify(normalized))
			fmt.Fprintln(out, renderFormats(format.Select(eng.ListFormats(info))))
			return nil
		},
	}

	cmd.Flags().StringVar(&binary, "binary", "", "Path to the yt-dlp binary")
	cmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "Extraction timeout")
	return cmd
}
