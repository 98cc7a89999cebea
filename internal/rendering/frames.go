package rendering

import (
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Preset selects frame rate and sampling defaults.
type Preset string

// Presets.
const (
	PresetPreview Preset = "preview"
	PresetFinal   Preset = "final"
)

// FrameConfig is the manim config prelude for one scene module.
type FrameConfig struct {
	Width      int
	Height     int
	FrameWidth float64
	FrameRate  int
}

// SamplingDefaults returns the stride and cap a preset uses when the caller
// does not override them.
func SamplingDefaults(p Preset) (stride, maxFrames int) {
	if p == PresetFinal {
		return 1, 300
	}
	return 4, 50
}

// PreviewFrameConfig maps an aspect ratio to the reduced preview resolution.
// Unknown ratios fall back to 16:9.
func PreviewFrameConfig(aspect string, p Preset) FrameConfig {
	fc := FrameConfig{Width: 1280, Height: 720, FrameWidth: 10.0}
	switch aspect {
	case "9:16":
		fc = FrameConfig{Width: 720, Height: 1280, FrameWidth: 6.0}
	case "1:1":
		fc = FrameConfig{Width: 720, Height: 720, FrameWidth: 6.0}
	}
	fc.FrameRate = 10
	if p == PresetFinal {
		fc.FrameRate = 24
	}
	return fc
}

// VideoFrameConfig maps an aspect ratio to the full render resolution. The
// frame rate is left to the quality flag.
func VideoFrameConfig(aspect string) FrameConfig {
	switch aspect {
	case "9:16":
		return FrameConfig{Width: 1080, Height: 1920, FrameWidth: 8.0}
	case "1:1":
		return FrameConfig{Width: 1080, Height: 1080, FrameWidth: 8.0}
	}
	return FrameConfig{Width: 1920, Height: 1080, FrameWidth: 14.22}
}

// QualityFlag maps a quality tier to the manim flag. Unknown tiers render low.
func QualityFlag(quality string) string {
	switch strings.ToLower(strings.TrimSpace(quality)) {
	case "medium":
		return "-qm"
	case "high":
		return "-qh"
	}
	return "-ql"
}

var trailingDigits = regexp.MustCompile(`(\d+)\D*$`)

// frameIndex returns the last run of digits in the file name, or -1.
func frameIndex(path string) int {
	m := trailingDigits.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return -1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	return n
}

// SampleFrames orders frames by their trailing number and keeps every
// stride-th one, at most maxFrames of them. Frames whose number is divisible
// by stride are preferred; when none are, positions are used instead.
func SampleFrames(paths []string, stride, maxFrames int) []string {
	sorted := append([]string{}, paths...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return frameIndex(sorted[i]) < frameIndex(sorted[j])
	})

	var picked []string
	if stride <= 1 {
		picked = sorted
	} else {
		for _, p := range sorted {
			if idx := frameIndex(p); idx >= 0 && idx%stride == 0 {
				picked = append(picked, p)
			}
		}
		if len(picked) == 0 {
			for i := 0; i < len(sorted); i += stride {
				picked = append(picked, sorted[i])
			}
		}
	}

	if maxFrames > 0 && len(picked) > maxFrames {
		picked = picked[:maxFrames]
	}
	return picked
}

// collectFiles walks root and returns files with the given extension,
// case-insensitively.
func collectFiles(root, ext string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ext) {
			out = append(out, path)
		}
		return nil
	})
	return out, err
}
