// Package mapviz renders the diagnostic artifacts of an exploration
// episode: the top-down exploration map, the prompt-point letter overlay,
// and stacked RGB-D frame dumps.
package mapviz

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/inconsolata"
	"golang.org/x/image/math/fixed"

	"github.com/zmling22/MemoryEQA/internal/fsutil"
	"github.com/zmling22/MemoryEQA/internal/sim"
)

// DrawPromptPoints copies the frame and marks each prompt point with a
// filled circle and its answer letter, the visual-prompt format the scorer
// is asked to pick a direction from.
func DrawPromptPoints(src *image.RGBA, pts [][2]float64, letters []string, radius float64) *image.RGBA {
	out := image.NewRGBA(src.Bounds())
	draw.Draw(out, out.Bounds(), src, src.Bounds().Min, draw.Src)

	fill := color.RGBA{R: 200, G: 200, B: 200, A: 255}
	outline := color.RGBA{A: 255}
	for i, p := range pts {
		if i >= len(letters) {
			break
		}
		drawDisc(out, p[0], p[1], radius, fill, outline)
		drawLabel(out, p[0], p[1], letters[i])
	}
	return out
}

func drawDisc(img *image.RGBA, cx, cy, r float64, fill, outline color.RGBA) {
	x0, x1 := int(cx-r)-1, int(cx+r)+1
	y0, y1 := int(cy-r)-1, int(cy+r)+1
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			d := math.Hypot(float64(x)-cx, float64(y)-cy)
			switch {
			case d <= r-1.5:
				img.SetRGBA(x, y, fill)
			case d <= r:
				img.SetRGBA(x, y, outline)
			}
		}
	}
}

func drawLabel(img *image.RGBA, cx, cy float64, label string) {
	face := inconsolata.Bold8x16
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{A: 255}),
		Face: face,
		Dot: fixed.Point26_6{
			X: fixed.I(int(cx) - len(label)*4),
			Y: fixed.I(int(cy) + 6),
		},
	}
	d.DrawString(label)
}

// SaveObservation writes the color frame stacked above a normalised depth
// rendering, one file per step when frame saving is enabled.
func SaveObservation(fs fsutil.FileSystem, path string, obs *sim.Observation) error {
	w, h := obs.Width, obs.Height
	out := image.NewRGBA(image.Rect(0, 0, w, 2*h))
	draw.Draw(out, image.Rect(0, 0, w, h), obs.Color, obs.Color.Bounds().Min, draw.Src)

	var maxD float32
	for _, d := range obs.Depth {
		if d > maxD {
			maxD = d
		}
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var v uint8
			if maxD > 0 {
				v = uint8(math.Min(255, float64(obs.Depth[y*w+x]/maxD)*255))
			}
			out.SetRGBA(x, h+y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return writePNG(fs, path, out)
}

func writePNG(fs fsutil.FileSystem, path string, img image.Image) error {
	f, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return nil
}
