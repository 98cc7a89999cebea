package rendering

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	// SceneClass is the entry class every generated module defines.
	SceneClass = "GenScene"
	// PreviewSceneClass wraps SceneClass with an action budget.
	PreviewSceneClass = "PreviewGenScene"
	// LimitActionsEnv carries the preview action budget into the subprocess.
	LimitActionsEnv = "PREVIEW_LIMIT_ACTIONS"
)

// previewWrapper subclasses the generated scene. The budget lives on the
// instance, so concurrent previews never share a counter.
const previewWrapper = `

class PreviewGenScene(GenScene):
    _preview_limit = int(os.environ.get("PREVIEW_LIMIT_ACTIONS", "8"))

    def setup(self):
        self._preview_actions = 0
        self._preview_done = False
        super().setup()

    def play(self, *args, **kwargs):
        if self._preview_done:
            return None
        self._preview_actions += 1
        if self._preview_actions >= self._preview_limit:
            self._preview_done = True
        return super().play(*args, **kwargs)

    def wait(self, *args, **kwargs):
        if self._preview_done:
            return None
        return super().wait(*args, **kwargs)

    def add(self, *mobjects):
        if self._preview_done:
            return self
        return super().add(*mobjects)

    def add_foreground_mobject(self, *args, **kwargs):
        if self._preview_done:
            return self
        return super().add_foreground_mobject(*args, **kwargs)
`

// BuildSceneModule prepends the manim imports and frame config to source.
// withPreviewWrapper appends the PreviewGenScene subclass.
func BuildSceneModule(source string, fc FrameConfig, withPreviewWrapper bool) string {
	var b strings.Builder
	b.WriteString("from manim import *\nfrom math import *\nimport os\n\n")
	fmt.Fprintf(&b, "config.frame_size = (%d, %d)\n", fc.Width, fc.Height)
	fmt.Fprintf(&b, "config.frame_width = %s\n", strconv.FormatFloat(fc.FrameWidth, 'f', -1, 64))
	if fc.FrameRate > 0 {
		fmt.Fprintf(&b, "config.frame_rate = %d\n", fc.FrameRate)
	}
	b.WriteString("\n")
	b.WriteString(strings.TrimRight(source, "\n"))
	b.WriteString("\n")
	if withPreviewWrapper {
		b.WriteString(previewWrapper)
	}
	return b.String()
}

// writeSceneFile writes module into dir under a random scene_<hex>.py name.
func writeSceneFile(dir, module string) (string, error) {
	path := filepath.Join(dir, "scene_"+shortID(6)+".py")
	if err := os.WriteFile(path, []byte(module), 0644); err != nil {
		return "", &InfrastructureError{Message: "failed to write scene file", Cause: err}
	}
	return path, nil
}

// shortID returns n hex characters of a fresh UUID.
func shortID(n int) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if n > len(id) {
		n = len(id)
	}
	return id[:n]
}

// slug keeps file-name-safe characters of s, or returns fallback.
func slug(s, fallback string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return fallback
	}
	return out
}
