// Package config holds the run configuration. A run is fully described by
// one Config value: input, output, model backend and the pipeline tunables.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dudu/vidswap/internal/identity"
)

// Smoothing algorithm names accepted in Config.Smoothing.
const (
	SmoothingEMA     = "ema"
	SmoothingOneEuro = "one_euro"
	SmoothingKalman  = "kalman"
)

// Provider backend names accepted in Config.Provider.
const (
	ProviderDlib = "dlib"
	ProviderONNX = "onnx"
)

// Config is the full run configuration. Zero values are filled by Default;
// Load overlays a JSON file on top of the defaults.
type Config struct {
	Video  string `json:"video"`
	Output string `json:"output"`

	// Assignments maps identity id (decimal string, JSON keys must be
	// strings) to a replacement face image path.
	Assignments map[string]string `json:"assignments,omitempty"`

	Provider    string `json:"provider"`
	ModelsDir   string `json:"models_dir"`
	OnnxLibrary string `json:"onnx_library,omitempty"`

	Threshold     float64 `json:"threshold"`
	ScanFrameSkip int     `json:"scan_frame_skip"`
	DetectScale   float64 `json:"detect_scale"`

	Feather       int     `json:"feather"`
	ColorMatch    bool    `json:"color_match"`
	ColorStrength float64 `json:"color_strength"`
	Transform     string  `json:"transform"`

	Smoothing        string  `json:"smoothing"`
	EMAAlpha         float64 `json:"ema_alpha"`
	OneEuroFreq      float64 `json:"one_euro_freq"`
	OneEuroMinCut    float64 `json:"one_euro_min_cutoff"`
	OneEuroBeta      float64 `json:"one_euro_beta"`
	OneEuroDCut      float64 `json:"one_euro_d_cutoff"`
	KalmanProcessVar float64 `json:"kalman_process_var"`
	KalmanMeasureVar float64 `json:"kalman_measure_var"`
	StaleAfter       int     `json:"stale_after"`

	Workers int    `json:"workers"`
	Codec   string `json:"codec"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Provider:         ProviderDlib,
		ModelsDir:        "models",
		Threshold:        identity.DefaultThreshold,
		ScanFrameSkip:    10,
		DetectScale:      0.5,
		Feather:          6,
		ColorMatch:       true,
		ColorStrength:    0.7,
		Transform:        "similarity",
		Smoothing:        SmoothingOneEuro,
		EMAAlpha:         0.4,
		OneEuroFreq:      30,
		OneEuroMinCut:    1.0,
		OneEuroBeta:      0.002,
		OneEuroDCut:      1.0,
		KalmanProcessVar: 1e-3,
		KalmanMeasureVar: 1e-1,
		StaleAfter:       3,
		Workers:          4,
		Codec:            "mp4v",
	}
}

// Load reads a JSON config file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations that cannot run. It fails on the first
// problem found.
func (c Config) Validate() error {
	if c.Video == "" {
		return fmt.Errorf("video path is required")
	}
	if c.Provider != ProviderDlib && c.Provider != ProviderONNX {
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	if c.ModelsDir == "" {
		return fmt.Errorf("models_dir is required")
	}
	if c.Threshold <= 0 || c.Threshold >= 2 {
		return fmt.Errorf("threshold must be in (0, 2), got %g", c.Threshold)
	}
	if c.ScanFrameSkip < 1 {
		return fmt.Errorf("scan_frame_skip must be at least 1, got %d", c.ScanFrameSkip)
	}
	if c.DetectScale <= 0 || c.DetectScale > 1 {
		return fmt.Errorf("detect_scale must be in (0, 1], got %g", c.DetectScale)
	}
	if c.Feather < 0 {
		return fmt.Errorf("feather must be non-negative, got %d", c.Feather)
	}
	if c.ColorStrength < 0 || c.ColorStrength > 1 {
		return fmt.Errorf("color_strength must be in [0, 1], got %g", c.ColorStrength)
	}
	if c.Transform != "similarity" && c.Transform != "affine" {
		return fmt.Errorf("unknown transform %q", c.Transform)
	}
	switch c.Smoothing {
	case SmoothingEMA:
		if c.EMAAlpha <= 0 || c.EMAAlpha > 1 {
			return fmt.Errorf("ema_alpha must be in (0, 1], got %g", c.EMAAlpha)
		}
	case SmoothingOneEuro:
		if c.OneEuroFreq <= 0 {
			return fmt.Errorf("one_euro_freq must be positive, got %g", c.OneEuroFreq)
		}
		if c.OneEuroMinCut <= 0 {
			return fmt.Errorf("one_euro_min_cutoff must be positive, got %g", c.OneEuroMinCut)
		}
	case SmoothingKalman:
		if c.KalmanProcessVar <= 0 {
			return fmt.Errorf("kalman_process_var must be positive, got %g", c.KalmanProcessVar)
		}
		if c.KalmanMeasureVar <= 0 {
			return fmt.Errorf("kalman_measure_var must be positive, got %g", c.KalmanMeasureVar)
		}
	default:
		return fmt.Errorf("unknown smoothing %q", c.Smoothing)
	}
	if c.StaleAfter < 1 {
		return fmt.Errorf("stale_after must be at least 1, got %d", c.StaleAfter)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.Codec == "" {
		return fmt.Errorf("codec is required")
	}
	return nil
}
