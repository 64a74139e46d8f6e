// Package commands implements the moodcam command line.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"goa.design/clue/log"

	"moodcam/internal/config"
	"moodcam/internal/emotion"
	"moodcam/internal/report"
)

var version = "dev"

// SetVersion sets the version reported by the version command.
func SetVersion(v string) {
	version = v
}

type globalOptions struct {
	configPath string
	debug      bool
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the moodcam command tree.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "moodcam",
		Short:         "Webcam emotion sampling service",
		Long:          "moodcam samples a webcam, classifies facial emotion and records timed sessions into JSON reports.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to the YAML config file")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newRecordCmd(opts))
	root.AddCommand(newReportsCmd(opts))
	root.AddCommand(newSummaryCmd(opts))
	root.AddCommand(newVersionCmd())
	return root
}

func (o *globalOptions) logContext(ctx context.Context) context.Context {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx = log.Context(ctx, log.WithFormat(format))
	if o.debug {
		ctx = log.Context(ctx, log.WithDebug())
	}
	return ctx
}

func (o *globalOptions) loadConfig() (*config.Config, error) {
	return config.Load(o.configPath)
}

func openStore(cfg *config.Config) (report.Store, error) {
	store, err := report.Open(cfg.Store.Backend, cfg.Store.ReportsDir, cfg.Store.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open report store: %w", err)
	}
	return store, nil
}

// frameSource picks the configured camera. Without one every sample is a
// camera error.
func frameSource(ctx context.Context, cfg *config.Config) emotion.FrameSource {
	switch {
	case cfg.Camera.SnapshotURL != "":
		return emotion.NewSnapshotSource(cfg.Camera.SnapshotURL, cfg.Camera.Timeout)
	case cfg.Camera.FrameFile != "":
		return emotion.NewFileSource(cfg.Camera.FrameFile)
	default:
		log.Warn(ctx, log.KV{K: "msg", V: "no camera configured"})
		return emotion.StaticSource{}
	}
}

func newDetector(cfg *config.Config) *emotion.HTTPDetector {
	return emotion.NewHTTPDetector(cfg.Detector.URL, cfg.Detector.Timeout)
}

func newSamplerFor(ctx context.Context, cfg *config.Config) *emotion.Sampler {
	return emotion.NewSampler(frameSource(ctx, cfg), newDetector(cfg))
}
