package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/spf13/cobra"

	"github.com/dudu/vidswap/internal/config"
	"github.com/dudu/vidswap/internal/pipeline"
	"github.com/dudu/vidswap/internal/provider"
	"github.com/dudu/vidswap/internal/swap"
	"github.com/dudu/vidswap/internal/track"
)

var (
	rootCmd = &cli.Command{
		Use:   "vidswap",
		Short: "Replace faces in video files by identity",
		Long: `vidswap discovers the people appearing in a video, lets you assign a
replacement face image to each discovered identity, and renders a new
video with the assigned faces swapped in.`,
	}
	cfgPath string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Path to JSON config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalln("ERROR:", err)
	}
}

// loadConfig merges the optional config file over the defaults and applies
// command-line overrides.
func loadConfig(cmd *cli.Command) config.Config {
	cfg := config.Default()
	if cfgPath != "" {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			log.Fatalln("ERROR:", err)
		}
	}
	if v, _ := cmd.Flags().GetString("video"); v != "" {
		cfg.Video = v
	}
	if v, _ := cmd.Flags().GetString("output"); v != "" {
		cfg.Output = v
	}
	if v, _ := cmd.Flags().GetString("models"); v != "" {
		cfg.ModelsDir = v
	}
	if v, _ := cmd.Flags().GetString("provider"); v != "" {
		cfg.Provider = v
	}
	if v, _ := cmd.Flags().GetInt("workers"); v > 0 {
		cfg.Workers = v
	}
	return cfg
}

// signalContext returns a context cancelled by SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		log.Println("[RUN] interrupt received, finishing up")
		cancel()
	}()
	return ctx, cancel
}

func newProvider(cfg config.Config) (provider.Provider, error) {
	switch cfg.Provider {
	case config.ProviderDlib:
		return provider.NewDlib(cfg.ModelsDir)
	case config.ProviderONNX:
		return provider.NewONNX(provider.ONNXConfig{
			ModelsDir:     cfg.ModelsDir,
			LibraryPath:   cfg.OnnxLibrary,
			DetectionSize: 640,
			ConfThreshold: 0.5,
			NMSThreshold:  0.4,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func newFilterFactory(cfg config.Config) func() track.Filter {
	switch cfg.Smoothing {
	case config.SmoothingEMA:
		return func() track.Filter {
			return track.NewEMA(cfg.EMAAlpha)
		}
	case config.SmoothingKalman:
		return func() track.Filter {
			return track.NewKalman(cfg.KalmanProcessVar, cfg.KalmanMeasureVar)
		}
	default:
		return func() track.Filter {
			return track.NewOneEuro(cfg.OneEuroFreq, cfg.OneEuroMinCut, cfg.OneEuroBeta, cfg.OneEuroDCut)
		}
	}
}

func runnerOptions(cfg config.Config, p provider.Provider, progress pipeline.Progress) pipeline.Options {
	return pipeline.Options{
		Provider:      p,
		Threshold:     cfg.Threshold,
		ScanFrameSkip: cfg.ScanFrameSkip,
		DetectScale:   cfg.DetectScale,
		StaleAfter:    cfg.StaleAfter,
		NewFilter:     newFilterFactory(cfg),
		Transform:     swap.TransformKind(cfg.Transform),
		Feather:       cfg.Feather,
		ColorMatch:    cfg.ColorMatch,
		ColorStrength: cfg.ColorStrength,
		Workers:       cfg.Workers,
		Progress:      progress,
	}
}
