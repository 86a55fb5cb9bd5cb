package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"LectureNotes/internal/domain"
	"LectureNotes/internal/infrastructure/document"
	"LectureNotes/internal/usecase"
)

func newLiveCommand(root *rootOptions) *cobra.Command {
	var slidesPath, format, manifestPath string

	cmd := &cobra.Command{
		Use:   "live",
		Short: "Replay recorded audio chunks as a live session, then finalize",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			application, logger, err := root.bootstrap(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeApp(application, logger)
			if err := application.Start(ctx); err != nil {
				return err
			}

			doc, err := application.Documents().Load(ctx, format, slidesPath)
			if err != nil {
				return err
			}
			manifest, err := document.LoadManifest(manifestPath)
			if err != nil {
				return err
			}

			p := application.Pipeline()
			id, err := p.Start(ctx, usecase.StartRequest{Mode: domain.ModeRealtime, Document: doc})
			if err != nil {
				return err
			}
			logger.Info("live session started", "job_id", id, "chunks", len(manifest.Chunks))

			for _, c := range manifest.Chunks {
				audio, err := os.ReadFile(c.Audio)
				if err != nil {
					return fmt.Errorf("read chunk %d: %w", c.Seq, err)
				}
				segs, err := p.SubmitChunk(ctx, id, usecase.Chunk{
					Seq:    c.Seq,
					Offset: c.Offset,
					Audio:  audio,
					Meta:   c.Slide,
				})
				switch {
				case domain.IsCode(err, domain.CodeTranscription):
					logger.Warn("chunk skipped", "seq", c.Seq, "error", err)
					continue
				case err != nil:
					return err
				}
				logger.Info("chunk processed", "seq", c.Seq, "segments", len(segs))
			}

			if err := p.Finalize(ctx, id); err != nil {
				return err
			}
			return printResult(ctx, cmd.OutOrStdout(), p, id)
		},
	}

	cmd.Flags().StringVar(&slidesPath, "slides", "", "slide deck: page directory, HTML file or URL")
	cmd.Flags().StringVar(&format, "format", "pages", "slide deck format (pages|html)")
	cmd.Flags().StringVar(&manifestPath, "manifest", "", "YAML chunk manifest")
	_ = cmd.MarkFlagRequired("slides")
	_ = cmd.MarkFlagRequired("manifest")

	return cmd
}
