package recording

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.RGBA) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestRecorder_SaveWritesLoopingGIF(t *testing.T) {
	r := NewRecorder(Options{FrameDelay: 500 * time.Millisecond, MaxWidth: 100})
	r.Add(solid(200, 100, color.RGBA{255, 255, 255, 255}))
	r.Add(solid(200, 100, color.RGBA{0, 0, 255, 255}))

	path := filepath.Join(t.TempDir(), "run.gif")
	size, err := r.Save(path)
	require.NoError(t, err)
	assert.Positive(t, size)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	g, err := gif.DecodeAll(bytes.NewReader(data))
	require.NoError(t, err)

	require.Len(t, g.Image, 2)
	assert.Equal(t, []int{50, 50}, g.Delay)
	assert.Equal(t, 100, g.Image[0].Bounds().Dx())
	assert.Equal(t, 50, g.Image[0].Bounds().Dy())
	assert.Equal(t, 0, g.LoopCount)
}

func TestRecorder_SmallFramesAreNotUpscaled(t *testing.T) {
	r := NewRecorder(DefaultOptions())
	r.Add(solid(40, 20, color.RGBA{10, 20, 30, 255}))

	var buf bytes.Buffer
	require.NoError(t, r.Encode(&buf))
	g, err := gif.DecodeAll(&buf)
	require.NoError(t, err)
	assert.Equal(t, 40, g.Image[0].Bounds().Dx())
}

func TestRecorder_EmptySaveWritesNothing(t *testing.T) {
	r := NewRecorder(DefaultOptions())
	path := filepath.Join(t.TempDir(), "empty.gif")

	size, err := r.Save(path)
	require.NoError(t, err)
	assert.Zero(t, size)
	assert.NoFileExists(t, path)

	assert.Error(t, r.Encode(&bytes.Buffer{}))
}

func TestRecorder_DropsOldestPastMaxFrames(t *testing.T) {
	r := NewRecorder(Options{MaxFrames: 3})
	for i := 0; i < 5; i++ {
		r.Add(solid(2, 2, color.RGBA{uint8(i), 0, 0, 255}))
	}
	require.Equal(t, 3, r.Len())

	r.mu.Lock()
	first := r.frames[0].(*image.RGBA).RGBAAt(0, 0)
	r.mu.Unlock()
	assert.Equal(t, uint8(2), first.R)
}

func TestRecorder_ConcurrentAdd(t *testing.T) {
	r := NewRecorder(Options{})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Add(solid(2, 2, color.RGBA{A: 255}))
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, r.Len())
}

func TestGeneratePalette(t *testing.T) {
	p := generatePalette(solid(16, 16, color.RGBA{1, 2, 3, 255}))
	require.Len(t, p, 256)
	assert.Equal(t, color.RGBA{0, 0, 0, 0}, p[0])
	assert.Equal(t, color.RGBA{230, 30, 30, 255}, p[1])
	assert.Equal(t, color.RGBA{1, 2, 3, 255}, p[2])
}
