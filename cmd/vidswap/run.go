package main

import (
	"log"
	"strconv"

	cli "github.com/spf13/cobra"

	"github.com/dudu/vidswap/internal/pipeline"
	"github.com/dudu/vidswap/internal/swap"
	"github.com/dudu/vidswap/internal/video"
)

var runCmd = &cli.Command{
	Use:   "run",
	Short: "Scan a video and render it with the assigned faces swapped",
	Long: `Run performs both passes in one invocation: it scans the video to
discover identities, binds the replacement images listed in the config's
"assignments" map, and renders the output video. Identity ids are stable
across scans of the same file, so assignments found with "vidswap scan"
remain valid here.`,
	Run: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("video", "v", "", "Input video file")
	runCmd.Flags().StringP("output", "o", "", "Output video file")
	runCmd.Flags().StringP("models", "m", "", "Directory containing model files")
	runCmd.Flags().StringP("provider", "p", "", "Face backend: dlib or onnx")
	runCmd.Flags().IntP("workers", "w", 0, "Render worker count")
}

func runRun(cmd *cli.Command, args []string) {
	cfg := loadConfig(cmd)
	if err := cfg.Validate(); err != nil {
		log.Fatalln("ERROR:", err)
	}
	if cfg.Output == "" {
		log.Fatalln("ERROR: output path is required")
	}

	p, err := newProvider(cfg)
	if err != nil {
		log.Fatalln("ERROR:", err)
	}
	defer p.Close()

	reader, err := video.OpenReader(cfg.Video)
	if err != nil {
		log.Fatalln("ERROR:", err)
	}
	defer reader.Close()
	info := reader.Info()
	log.Printf("[RUN] %s: %dx%d @ %.2f fps, %d frames", info.Path, info.Width, info.Height, info.FPS, info.FrameCount)

	ctx, cancel := signalContext()
	defer cancel()

	runner, err := pipeline.New(runnerOptions(cfg, p, func(done, total int) {
		log.Printf("[RUN] %d/%d frames", done, total)
	}))
	if err != nil {
		log.Fatalln("ERROR:", err)
	}
	defer runner.Close()

	set, err := runner.Scan(ctx, reader, info.FrameCount/cfg.ScanFrameSkip)
	if err != nil {
		log.Fatalln("ERROR:", err)
	}
	log.Printf("[RUN] scan found %d identities", set.Len())

	if len(cfg.Assignments) == 0 {
		log.Println("[RUN] no assignments configured; output will be an untouched copy")
	}
	for idStr, path := range cfg.Assignments {
		id, err := strconv.Atoi(idStr)
		if err != nil {
			log.Fatalf("ERROR: bad assignment key %q: identity ids are integers", idStr)
		}
		source, err := swap.LoadSource(path, p)
		if err != nil {
			log.Fatalln("ERROR:", err)
		}
		if err := runner.Assign(id, source); err != nil {
			log.Fatalln("ERROR:", err)
		}
		log.Printf("[RUN] identity %d <- %s", id, path)
	}

	writer, err := video.NewWriter(cfg.Output, cfg.Codec, info.FPS, info.Width, info.Height)
	if err != nil {
		log.Fatalln("ERROR:", err)
	}

	summary, err := runner.Render(ctx, reader, writer, info.FrameCount)
	if cerr := writer.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		log.Fatalln("ERROR:", err)
	}

	printSummary(summary, cfg.Output)
}

func printSummary(s pipeline.Summary, output string) {
	log.Printf("[RUN] %s: wrote %s", s.RunID, output)
	log.Printf("[RUN] identities: %d", s.IdentitiesFound)
	log.Printf("[RUN] frames: %d written, %d swapped, %d untouched", s.FramesWritten, s.FramesSwapped, s.FramesUntouched)
	if s.BlendFallbacks > 0 {
		log.Printf("[RUN] blend fallbacks: %d", s.BlendFallbacks)
	}
	if s.DetectionErrors > 0 || s.FacesSkipped > 0 {
		log.Printf("[RUN] detection errors: %d, faces skipped: %d", s.DetectionErrors, s.FacesSkipped)
	}
}
