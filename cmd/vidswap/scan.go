package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	cli "github.com/spf13/cobra"
	"gocv.io/x/gocv"

	"github.com/dudu/vidswap/internal/identity"
	"github.com/dudu/vidswap/internal/pipeline"
	"github.com/dudu/vidswap/internal/video"
)

// faceCropPad is the margin in pixels around a representative face crop.
const faceCropPad = 50

var scanCmd = &cli.Command{
	Use:   "scan",
	Short: "Discover the identities appearing in a video",
	Long: `Scan samples the video, clusters the faces it finds into identities and
prints one line per identity. With --faces-dir it also writes a cropped
representative image per identity, for picking assignments.`,
	Run: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringP("video", "v", "", "Input video file")
	scanCmd.Flags().StringP("models", "m", "", "Directory containing model files")
	scanCmd.Flags().StringP("provider", "p", "", "Face backend: dlib or onnx")
	scanCmd.Flags().IntP("workers", "w", 0, "Detection worker count")
	scanCmd.Flags().String("faces-dir", "", "Write representative face crops to this directory")
}

func runScan(cmd *cli.Command, args []string) {
	cfg := loadConfig(cmd)
	if err := cfg.Validate(); err != nil {
		log.Fatalln("ERROR:", err)
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
	log.Printf("[SCAN] %s: %dx%d @ %.2f fps, %d frames", info.Path, info.Width, info.Height, info.FPS, info.FrameCount)

	ctx, cancel := signalContext()
	defer cancel()

	runner, err := pipeline.New(runnerOptions(cfg, p, func(done, total int) {
		log.Printf("[SCAN] %d/%d frames sampled", done, total)
	}))
	if err != nil {
		log.Fatalln("ERROR:", err)
	}

	set, err := runner.Scan(ctx, reader, info.FrameCount/cfg.ScanFrameSkip)
	if err != nil {
		log.Fatalln("ERROR:", err)
	}

	log.Printf("[SCAN] found %d identities", set.Len())
	for _, ident := range set.All() {
		log.Printf("[SCAN] identity %d: seen in %d sampled frames, first seen at frame %d",
			ident.ID, ident.Members, ident.Representative.FrameIndex)
	}

	if dir, _ := cmd.Flags().GetString("faces-dir"); dir != "" {
		if err := saveFaceCrops(reader, set, dir); err != nil {
			log.Fatalln("ERROR:", err)
		}
	}
}

// saveFaceCrops rewinds the video and writes one padded crop per identity,
// taken from the frame where the identity was first detected.
func saveFaceCrops(reader *video.Reader, set *identity.Set, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	wanted := make(map[int][]*identity.Identity)
	for _, ident := range set.All() {
		fi := ident.Representative.FrameIndex
		wanted[fi] = append(wanted[fi], ident)
	}

	if err := reader.Reset(); err != nil {
		return err
	}

	frame := gocv.NewMat()
	defer frame.Close()

	remaining := len(wanted)
	for remaining > 0 {
		index, ok := reader.Read(&frame)
		if !ok {
			break
		}
		idents, hit := wanted[index]
		if !hit {
			continue
		}
		for _, ident := range idents {
			rect := ident.Representative.Box.PaddedRect(faceCropPad, frame.Cols(), frame.Rows())
			crop := frame.Region(rect)
			out := filepath.Join(dir, fmt.Sprintf("identity_%03d.png", ident.ID))
			ok := gocv.IMWrite(out, crop)
			crop.Close()
			if !ok {
				return fmt.Errorf("cannot write %s", out)
			}
			log.Printf("[SCAN] wrote %s", out)
		}
		remaining--
	}
	return nil
}
