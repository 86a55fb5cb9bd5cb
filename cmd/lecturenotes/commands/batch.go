package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"LectureNotes/internal/domain"
	"LectureNotes/internal/infrastructure/document"
	"LectureNotes/internal/usecase"
)

func newBatchCommand(root *rootOptions) *cobra.Command {
	var audioPath, slidesPath, format, timingPath string

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Convert a complete recording and slide deck into notes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			application, logger, err := root.bootstrap(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeApp(application, logger)

			doc, err := application.Documents().Load(ctx, format, slidesPath)
			if err != nil {
				return err
			}
			timing, err := document.LoadTiming(timingPath)
			if err != nil {
				return err
			}
			audio, err := os.ReadFile(audioPath)
			if err != nil {
				return fmt.Errorf("read audio: %w", err)
			}

			p := application.Pipeline()
			id, err := p.Start(ctx, usecase.StartRequest{
				Mode:     domain.ModeBatch,
				Document: doc,
				Audio:    audio,
				Timing:   timing,
			})
			if err != nil {
				return err
			}
			logger.Info("batch job started", "job_id", id, "slides", len(doc.Pages))

			if _, err := p.Wait(ctx, id); err != nil {
				return err
			}
			return printResult(ctx, cmd.OutOrStdout(), p, id)
		},
	}

	cmd.Flags().StringVar(&audioPath, "audio", "", "lecture recording")
	cmd.Flags().StringVar(&slidesPath, "slides", "", "slide deck: page directory, HTML file or URL")
	cmd.Flags().StringVar(&format, "format", "pages", "slide deck format (pages|html)")
	cmd.Flags().StringVar(&timingPath, "timing", "", "YAML slide timing index")
	_ = cmd.MarkFlagRequired("audio")
	_ = cmd.MarkFlagRequired("slides")
	_ = cmd.MarkFlagRequired("timing")

	return cmd
}
