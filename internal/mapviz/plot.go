package mapviz

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/zmling22/MemoryEQA/internal/fsutil"
	"github.com/zmling22/MemoryEQA/internal/tsdf"
)

// classGrid adapts a map snapshot to the plotter's heat-map interface.
// Cell values: 0 unknown, 1 free, 2 occupied, and 3+v for fused semantic
// value so attractive regions stand out on the same scale.
type classGrid struct {
	s *tsdf.Snapshot
}

func (g classGrid) Dims() (int, int) { return g.s.Nx, g.s.Ny }

func (g classGrid) X(c int) float64 {
	return g.s.OriginX + (float64(c)+0.5)*g.s.VoxelSize
}

func (g classGrid) Y(r int) float64 {
	return g.s.OriginY + (float64(r)+0.5)*g.s.VoxelSize
}

func (g classGrid) Z(c, r int) float64 {
	i := c*g.s.Ny + r
	v := float64(g.s.Class[i])
	if g.s.Val[i] > 0 {
		v = 3 + float64(g.s.Val[i])
	}
	return v
}

// grayScale is a minimal palette for the exploration map: dark unknown
// through light free space, warm tones for semantic value.
type grayScale struct{ n int }

func (p grayScale) Colors() []color.Color {
	out := make([]color.Color, p.n)
	for i := range out {
		t := float64(i) / float64(p.n-1)
		switch {
		case t < 0.75:
			v := uint8(40 + 180*t/0.75)
			out[i] = color.RGBA{R: v, G: v, B: v, A: 255}
		default:
			// Semantic band.
			v := uint8(255 * (t - 0.75) / 0.25)
			out[i] = color.RGBA{R: 255, G: 160 + v/3, B: 40, A: 255}
		}
	}
	return out
}

// RenderMap draws the exploration map: the 2D slice classification with
// semantic highlights, the frontier points, the agent's path so far, and
// the current/next positions.
func RenderMap(snap *tsdf.Snapshot, pathCells [][2]float64) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "exploration map"
	p.X.Label.Text = "x (m)"
	p.Y.Label.Text = "y (m)"

	hm := plotter.NewHeatMap(classGrid{s: snap}, grayScale{n: 64})
	p.Add(hm)

	if len(pathCells) > 0 {
		pts := make(plotter.XYs, len(pathCells))
		for i, c := range pathCells {
			pts[i].X = snap.OriginX + (c[0]+0.5)*snap.VoxelSize
			pts[i].Y = snap.OriginY + (c[1]+0.5)*snap.VoxelSize
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("failed to build path trace: %w", err)
		}
		line.Width = vg.Points(2)
		line.Color = color.RGBA{A: 255}
		p.Add(line)
	}

	if len(snap.Frontiers) > 0 {
		pts := make(plotter.XYs, len(snap.Frontiers))
		for i, c := range snap.Frontiers {
			pts[i].X = snap.OriginX + (float64(c[0])+0.5)*snap.VoxelSize
			pts[i].Y = snap.OriginY + (float64(c[1])+0.5)*snap.VoxelSize
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, fmt.Errorf("failed to build frontier scatter: %w", err)
		}
		sc.GlyphStyle.Color = color.RGBA{R: 40, G: 120, B: 255, A: 255}
		sc.GlyphStyle.Radius = vg.Points(3)
		p.Add(sc)
	}

	if err := addCellMarker(p, snap, snap.Current, color.RGBA{R: 30, G: 200, B: 30, A: 255}); err != nil {
		return nil, err
	}
	if snap.HasNext {
		if err := addCellMarker(p, snap, snap.Next, color.RGBA{R: 220, G: 30, B: 30, A: 255}); err != nil {
			return nil, err
		}
	}

	return p, nil
}

func addCellMarker(p *plot.Plot, snap *tsdf.Snapshot, cell [2]int, c color.Color) error {
	sc, err := plotter.NewScatter(plotter.XYs{{
		X: snap.OriginX + (float64(cell[0])+0.5)*snap.VoxelSize,
		Y: snap.OriginY + (float64(cell[1])+0.5)*snap.VoxelSize,
	}})
	if err != nil {
		return fmt.Errorf("failed to build position marker: %w", err)
	}
	sc.GlyphStyle.Color = c
	sc.GlyphStyle.Radius = vg.Points(5)
	p.Add(sc)
	return nil
}

// SaveMap renders the exploration map to a PNG through the filesystem
// abstraction so tests can run against the in-memory implementation.
func SaveMap(fs fsutil.FileSystem, path string, snap *tsdf.Snapshot, pathCells [][2]float64) error {
	p, err := RenderMap(snap, pathCells)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(6*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("failed to render map figure: %w", err)
	}
	f, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	if _, err := wt.WriteTo(f); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
