package cli

import (
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"reelforge/internal/config"
	"reelforge/internal/pipeline"
)

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate <audio>",
		Short: "Generate one video from an audio file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			script, _ := cmd.Flags().GetString("script")
			categories, _ := cmd.Flags().GetStringSlice("categories")
			out, _ := cmd.Flags().GetString("out")
			captions, _ := cmd.Flags().GetBool("captions")

			cfg := config.Load()
			cfg.BurnCaptions = captions

			p, err := pipeline.Build(cfg, slog.Default())
			if err != nil {
				return err
			}

			audio, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			res, err := p.Generate(cmd.Context(), pipeline.GenerateInput{
				AudioPath:     audio,
				ScriptText:    script,
				CategoryHints: categories,
				OutputPath:    out,
			})
			if err != nil {
				return err
			}

			slog.Info("video generated",
				"output", res.OutputPath,
				"duration_sec", res.AudioSeconds,
				"segments", len(res.Segments))
			return nil
		},
	}

	cmd.Flags().String("script", "", "Script text (skips transcription)")
	cmd.Flags().StringSlice("categories", nil, "Category hints (bypasses the planner)")
	cmd.Flags().String("out", "", "Output file path")
	cmd.Flags().Bool("captions", true, "Burn word-level captions")
	return cmd
}
