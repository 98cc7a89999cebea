package rendering

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonathan/animation-agent/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validSource = "class GenScene(Scene):\n    def construct(self):\n        pass"

// argParser is prepended to fake binaries; it sets $media and $outfile from
// the manim flags.
const argParser = `#!/bin/sh
media=""
outfile=""
prev=""
for a in "$@"; do
  if [ "$prev" = "--media_dir" ]; then media="$a"; fi
  if [ "$prev" = "--output_file" ]; then outfile="$a"; fi
  prev="$a"
done
`

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake binaries are shell scripts")
	}
}

func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(argParser+body), 0755))
	return path
}

type progressLog struct {
	mu    sync.Mutex
	lines []string
}

func (p *progressLog) add(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lines = append(p.lines, s)
}

func (p *progressLog) all() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.lines...)
}

func newTestRenderer(t *testing.T, settings Settings) (*Renderer, *registry.Registry, string) {
	t.Helper()
	reg := registry.New()
	if settings.ArtifactsDir == "" {
		settings.ArtifactsDir = t.TempDir()
	}
	if settings.PollInterval == 0 {
		settings.PollInterval = 20 * time.Millisecond
	}
	if settings.CancelGrace == 0 {
		settings.CancelGrace = 200 * time.Millisecond
	}
	run := reg.CreateRun("owner", "", "test")
	return New(reg, settings, nil), reg, run.RunID
}

func workDirEntries(t *testing.T, r *Renderer) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(r.Settings().WorkDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	return entries
}

func TestPreview_SamplesAndPublishesFrames(t *testing.T) {
	skipOnWindows(t)
	manim := writeScript(t, "manim", `
mkdir -p "$media/images"
i=0
while [ $i -lt 10 ]; do
  : > "$media/images/GenScene$(printf '%04d' $i).png"
  i=$((i+1))
done
echo "limit=$PREVIEW_LIMIT_ACTIONS" > "$media/env.txt"
`)
	r, reg, runID := newTestRenderer(t, Settings{ManimBin: manim, PreviewLimitActions: 3})

	res, err := r.Preview(context.Background(), PreviewRequest{
		RunID: runID, Source: validSource, AspectRatio: "16:9", OwnerID: "owner", Project: "demo", Iteration: 2,
	}, nil)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(res.Token, "preview-owner-demo-2-"))
	require.Len(t, res.Images, 3)
	assert.Equal(t, "/static/previews/"+res.Token+"/GenScene0000.png", res.Images[0].URL)
	assert.Equal(t, "/static/previews/"+res.Token+"/GenScene0008.png", res.Images[2].URL)
	assert.Equal(t, "Preview frame 3", res.Images[2].RevisedPrompt)

	for _, name := range []string{"GenScene0000.png", "GenScene0004.png", "GenScene0008.png"} {
		assert.FileExists(t, filepath.Join(res.Dir, name))
	}
	assert.Empty(t, workDirEntries(t, r), "work directory is removed after a preview")

	snap, _ := reg.Get(runID)
	assert.Contains(t, snap.Artifacts, res.Dir)
}

func TestPreview_PassesActionBudget(t *testing.T) {
	skipOnWindows(t)
	out := filepath.Join(t.TempDir(), "env.txt")
	manim := writeScript(t, "manim", `
echo "$PREVIEW_LIMIT_ACTIONS" > "`+out+`"
mkdir -p "$media/images"
: > "$media/images/GenScene0000.png"
`)
	r, _, runID := newTestRenderer(t, Settings{ManimBin: manim, PreviewLimitActions: 3})

	_, err := r.Preview(context.Background(), PreviewRequest{RunID: runID, Source: validSource}, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "3", strings.TrimSpace(string(data)))
}

func TestPreview_Failures(t *testing.T) {
	skipOnWindows(t)
	tests := []struct {
		name    string
		script  string
		check   func(t *testing.T, err error)
		timeout time.Duration
	}{
		{
			name: "non-zero exit carries stderr tail",
			script: `
echo "Traceback (most recent call last):" >&2
echo "NameError: name 'Circel' is not defined" >&2
exit 1
`,
			check: func(t *testing.T, err error) {
				var execErr *ExecutionError
				require.True(t, errors.As(err, &execErr))
				assert.Equal(t, 1, execErr.ExitCode)
				assert.True(t, strings.HasPrefix(execErr.Error(), "Manim preview failed (exit 1).\nTraceback"))
				assert.Contains(t, execErr.Error(), "NameError: name 'Circel' is not defined")
			},
		},
		{
			name:   "clean exit without frames",
			script: "exit 0\n",
			check: func(t *testing.T, err error) {
				var outErr *OutputError
				require.True(t, errors.As(err, &outErr))
				assert.Equal(t, "No preview frames were generated by Manim.", outErr.Error())
			},
		},
		{
			name:    "timeout",
			script:  "exec sleep 10\n",
			timeout: 150 * time.Millisecond,
			check: func(t *testing.T, err error) {
				var timeoutErr *TimeoutError
				require.True(t, errors.As(err, &timeoutErr))
				assert.Equal(t, "Manim preview timed out after 0s", timeoutErr.Error())
				assert.ErrorIs(t, err, context.DeadlineExceeded)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manim := writeScript(t, "manim", tt.script)
			r, _, runID := newTestRenderer(t, Settings{ManimBin: manim, PreviewTimeout: tt.timeout})

			_, err := r.Preview(context.Background(), PreviewRequest{RunID: runID, Source: validSource}, nil)
			require.Error(t, err)
			tt.check(t, err)
			assert.Empty(t, workDirEntries(t, r))
		})
	}
}

func TestPreview_MissingBinary(t *testing.T) {
	r, _, runID := newTestRenderer(t, Settings{ManimBin: filepath.Join(t.TempDir(), "no-such-manim")})

	_, err := r.Preview(context.Background(), PreviewRequest{RunID: runID, Source: validSource}, nil)

	var infraErr *InfrastructureError
	require.True(t, errors.As(err, &infraErr))
	assert.Equal(t, "Manim CLI not found in PATH. Ensure manim is installed and available.", infraErr.Message)
}

func TestPreview_CancelRunStopsProcess(t *testing.T) {
	skipOnWindows(t)
	manim := writeScript(t, "manim", "exec sleep 30\n")
	r, reg, runID := newTestRenderer(t, Settings{ManimBin: manim})

	errCh := make(chan error, 1)
	go func() {
		_, err := r.Preview(context.Background(), PreviewRequest{RunID: runID, Source: validSource}, nil)
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		return reg.Process(runID, registry.RolePreview) != nil
	}, 5*time.Second, 10*time.Millisecond)
	pid := reg.Process(runID, registry.RolePreview).PID

	require.True(t, reg.CancelRun(runID, "user_request", 100*time.Millisecond))

	select {
	case err := <-errCh:
		var canceled *CanceledError
		require.True(t, errors.As(err, &canceled))
		assert.Equal(t, "Preview canceled by user.", canceled.Error())
	case <-time.After(5 * time.Second):
		t.Fatal("preview did not return after cancel")
	}

	assert.False(t, reg.Process(runID, registry.RolePreview).Running(), "pid %d still running", pid)
	assert.Empty(t, workDirEntries(t, r))
	snap, _ := reg.Get(runID)
	assert.Equal(t, registry.StateCanceled, snap.State)
}

func TestPreview_ProgressCountsFrames(t *testing.T) {
	skipOnWindows(t)
	manim := writeScript(t, "manim", `
mkdir -p "$media/images"
: > "$media/images/GenScene0000.png"
sleep 0.3
: > "$media/images/GenScene0001.png"
sleep 0.3
`)
	r, _, runID := newTestRenderer(t, Settings{ManimBin: manim})
	log := &progressLog{}

	_, err := r.Preview(context.Background(), PreviewRequest{RunID: runID, Source: validSource}, log.add)
	require.NoError(t, err)

	lines := log.all()
	require.NotEmpty(t, lines)
	assert.Equal(t, "Preview progress: 1 frame(s) written...", lines[0])
}

func TestRender_PublishesVideo(t *testing.T) {
	skipOnWindows(t)
	manim := writeScript(t, "manim", `
echo "Animation 0: Create(Circle):  50%|#####     | 5/10" >&2
echo "Animation 0: Create(Circle): 100%|##########| 10/10" >&2
mkdir -p "$media/videos"
echo "mp4" > "$media/videos/$outfile.mp4"
`)
	r, reg, runID := newTestRenderer(t, Settings{ManimBin: manim, MaxConcurrentRenders: 1})
	log := &progressLog{}

	res, err := r.Render(context.Background(), RenderRequest{
		RunID: runID, Source: validSource, Quality: "high", OwnerID: "owner", Project: "demo", Iteration: 1,
	}, log.add)
	require.NoError(t, err)

	name := filepath.Base(res.Path)
	assert.True(t, strings.HasPrefix(name, "video-owner-demo-1-"))
	assert.Equal(t, Video{ID: 1, ETA: 0, URL: "/static/videos/" + name}, res.Video)
	assert.FileExists(t, res.Path)
	assert.Equal(t, filepath.Join(r.Settings().ArtifactsDir, "videos", name), res.Path)

	lines := log.all()
	assert.Equal(t, "Starting Manim render...", lines[0])
	assert.Contains(t, lines, "Animation 0: 50%")
	assert.Contains(t, lines, "Animation 0: 100%")

	snap, _ := reg.Get(runID)
	assert.Contains(t, snap.Artifacts, res.Path)
}

func TestRender_FallsBackToAnyMP4(t *testing.T) {
	skipOnWindows(t)
	manim := writeScript(t, "manim", `
mkdir -p "$media/videos/1080p60"
echo "mp4" > "$media/videos/1080p60/GenScene.mp4"
`)
	r, _, runID := newTestRenderer(t, Settings{ManimBin: manim})

	res, err := r.Render(context.Background(), RenderRequest{RunID: runID, Source: validSource}, nil)
	require.NoError(t, err)
	assert.FileExists(t, res.Path)
}

func TestRender_Failures(t *testing.T) {
	skipOnWindows(t)
	tests := []struct {
		name   string
		script string
		want   string
	}{
		{"no video", "exit 0\n", "Rendered video file not found."},
		{"exit code", "echo boom >&2\nexit 3\n", "Manim render failed (exit 3).\nboom\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manim := writeScript(t, "manim", tt.script)
			r, _, runID := newTestRenderer(t, Settings{ManimBin: manim})

			_, err := r.Render(context.Background(), RenderRequest{RunID: runID, Source: validSource}, nil)
			require.Error(t, err)
			assert.Equal(t, tt.want, err.Error())
		})
	}
}

func TestRender_SlotWaitHonoursContext(t *testing.T) {
	r, _, runID := newTestRenderer(t, Settings{MaxConcurrentRenders: 1})
	require.True(t, r.renderSlots.TryAcquire(1))
	defer r.renderSlots.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	log := &progressLog{}
	_, err := r.Render(ctx, RenderRequest{RunID: runID, Source: validSource}, log.add)

	var canceled *CanceledError
	require.True(t, errors.As(err, &canceled))
	assert.Equal(t, []string{"Waiting for a free render slot..."}, log.all())
}

func TestExport_MergesVideos(t *testing.T) {
	skipOnWindows(t)
	listCopy := filepath.Join(t.TempDir(), "list.txt")
	ffmpeg := writeScript(t, "ffmpeg", `
cp list.txt "`+listCopy+`"
for last in "$@"; do :; done
echo "merged" > "$last"
`)
	r, reg, runID := newTestRenderer(t, Settings{FFmpegBin: ffmpeg})

	dir := t.TempDir()
	a, b := filepath.Join(dir, "a.mp4"), filepath.Join(dir, "b.mp4")
	require.NoError(t, os.WriteFile(a, []byte("a"), 0644))
	require.NoError(t, os.WriteFile(b, []byte("b"), 0644))

	res, err := r.Export(context.Background(), ExportRequest{RunID: runID, OwnerID: "owner", Paths: []string{a, b}}, nil)
	require.NoError(t, err)

	name := filepath.Base(res.Path)
	assert.True(t, strings.HasPrefix(name, "export-owner-export-"))
	assert.Equal(t, "/static/exports/"+name, res.Video.URL)
	assert.FileExists(t, res.Path)

	list, err := os.ReadFile(listCopy)
	require.NoError(t, err)
	assert.Equal(t, "file '"+a+"'\nfile '"+b+"'\n", string(list))

	snap, _ := reg.Get(runID)
	assert.Contains(t, snap.Artifacts, res.Path)
}

func TestExport_Failure(t *testing.T) {
	skipOnWindows(t)
	ffmpeg := writeScript(t, "ffmpeg", "echo 'Invalid data found' >&2\nexit 1\n")
	r, _, runID := newTestRenderer(t, Settings{FFmpegBin: ffmpeg})

	_, err := r.Export(context.Background(), ExportRequest{RunID: runID, Paths: []string{"/a.mp4", "/b.mp4"}}, nil)
	require.Error(t, err)
	assert.Equal(t, "ffmpeg merge failed (exit 1).\nInvalid data found\n", err.Error())
}

func TestResolveVideo(t *testing.T) {
	r, _, _ := newTestRenderer(t, Settings{})
	videos := filepath.Join(r.Settings().ArtifactsDir, "videos")
	require.NoError(t, os.MkdirAll(videos, 0755))
	local := filepath.Join(videos, "v.mp4")
	require.NoError(t, os.WriteFile(local, []byte("v"), 0644))

	tests := []struct {
		name    string
		ref     string
		want    string
		wantErr string
	}{
		{"static url", "/static/videos/v.mp4", local, ""},
		{"absolute path", local, local, ""},
		{"file url", "file://" + local, local, ""},
		{"static traversal stays inside artifacts", "/static/../../v.mp4", "", "File not found: "},
		{"missing file", "/static/videos/missing.mp4", "", "File not found: "},
		{"remote url", "https://example.com/v.mp4", "", "Unsupported video URL: https://example.com/v.mp4"},
		{"relative path", "v.mp4", "", "Unsupported video URL: v.mp4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.ResolveVideo(tt.ref)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
