package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"LectureNotes/internal/app"
	"LectureNotes/internal/config"
	"LectureNotes/internal/domain"
	"LectureNotes/internal/logging"
	"LectureNotes/internal/usecase"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "lecturenotes",
		Short:         "Turn lecture audio and slides into per-slide notes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("LECTURE_NOTES_CONFIG"), "path to YAML config")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level")

	rootCmd.AddCommand(
		newBatchCommand(opts),
		newLiveCommand(opts),
	)

	return rootCmd
}

// bootstrap loads configuration and builds the application.
func (o *rootOptions) bootstrap(ctx context.Context, stderr io.Writer) (*app.Application, *slog.Logger, error) {
	cfg, err := config.LoadFrom(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}

	logger := logging.NewWithFormat(stderr, cfg.Logging.Level, cfg.Logging.Format)
	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return application, logger, nil
}

func closeApp(application *app.Application, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := application.Close(ctx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
}

// printResult writes the job outcome as JSON. A failed job is an error.
func printResult(ctx context.Context, w io.Writer, p *usecase.Pipeline, id string) error {
	st, err := p.Status(ctx, id)
	if err != nil {
		return err
	}
	if st.State == domain.JobStateFailed {
		return fmt.Errorf("job %s failed: %s: %s", id, st.Error.Code, st.Error.Message)
	}

	notes, err := p.Result(ctx, id)
	if err != nil {
		return err
	}

	out := struct {
		usecase.Status
		Notes map[int]string `json:"notes"`
	}{Status: st, Notes: notes}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
