package tsdf

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/zmling22/MemoryEQA/internal/geom"
)

// FrontierPoint is an exploration candidate on the boundary between
// observed-free and unexplored space, together with its projection into the
// current camera frame. Frontier points are recomputed every step and never
// persist across steps.
type FrontierPoint struct {
	Cell  [2]int  // 2D grid cell
	World r3.Vec  // cell center at prompt height
	Pix   [2]float64
	Gain  int // unexplored cells opened up within the gain radius
}

// PromptParams configures frontier prompt-point sampling.
type PromptParams struct {
	// MaxPoints caps the returned set; it matches the number of answer
	// letters available for visual prompting (at most 4).
	MaxPoints int
	// MinPointDist is the minimum spacing between returned points, metres.
	MinPointDist float64
	// GainRadius is the neighbourhood, in metres, over which unexplored
	// cells are counted when ranking candidates.
	GainRadius float64
}

// FindPromptPointsWithinView finds up to MaxPoints frontier points that are
// visible from the current camera pose and projects them into pixel
// coordinates for visual prompting.
//
// Candidates are free cells bordering unexplored cells, filtered to those
// in front of the camera, inside the image, and with 2D line of sight from
// the camera (no occupied cell in between). Ranking is by unexplored-gain,
// ties broken by cell index, then a greedy spatial dedup enforces
// MinPointDist. The result is fully determined by the map state and the
// pose; no randomness is involved. The selected points are recorded for
// the next IntegrateSem call.
//
// The returned slice may be shorter than MaxPoints, or empty, when the map
// has little frontier in view; callers skip semantic scoring in that case.
func (g *Grid) FindPromptPointsWithinView(pos r3.Vec, imgW, imgH int,
	intr geom.Intrinsics, camPose geom.Transform, p PromptParams) []FrontierPoint {
	class := g.classMap()
	worldToCam := camPose.Inverse()
	camX, camY := g.cellOf(camPose.T.X, camPose.T.Y)
	gainCells := int(math.Ceil(p.GainRadius / g.voxelSize))
	promptZ := camPose.T.Z

	var cands []FrontierPoint
	for ix := 0; ix < g.nx; ix++ {
		for iy := 0; iy < g.ny; iy++ {
			if class[ix*g.ny+iy] != CellFree || !g.isFrontier(class, ix, iy) {
				continue
			}
			wx, wy := g.cellCenter(ix, iy)
			world := r3.Vec{X: wx, Y: wy, Z: promptZ}
			cam := worldToCam.Apply(world)
			u, v, ok := intr.Project(cam)
			if !ok || u < 0 || u >= float64(imgW) || v < 0 || v >= float64(imgH) {
				continue
			}
			if g.lineBlocked(class, camX, camY, ix, iy) {
				continue
			}
			cands = append(cands, FrontierPoint{
				Cell:  [2]int{ix, iy},
				World: world,
				Pix:   [2]float64{u, v},
				Gain:  g.unknownWithin(class, ix, iy, gainCells, p.GainRadius),
			})
		}
	}

	// Highest gain first; cell order breaks ties so repeated calls on the
	// same map state return the identical sequence.
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].Gain != cands[j].Gain {
			return cands[i].Gain > cands[j].Gain
		}
		if cands[i].Cell[0] != cands[j].Cell[0] {
			return cands[i].Cell[0] < cands[j].Cell[0]
		}
		return cands[i].Cell[1] < cands[j].Cell[1]
	})

	minDist2 := p.MinPointDist * p.MinPointDist
	var picked []FrontierPoint
	for _, c := range cands {
		if len(picked) >= p.MaxPoints {
			break
		}
		tooClose := false
		for _, q := range picked {
			dx, dy := c.World.X-q.World.X, c.World.Y-q.World.Y
			if dx*dx+dy*dy < minDist2 {
				tooClose = true
				break
			}
		}
		if !tooClose {
			picked = append(picked, c)
		}
	}

	g.promptPts = picked
	return picked
}

// isFrontier reports whether a free cell borders unexplored space.
func (g *Grid) isFrontier(class []uint8, ix, iy int) bool {
	for _, d := range [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
		nx, ny := ix+d[0], iy+d[1]
		if nx < 0 || nx >= g.nx || ny < 0 || ny >= g.ny {
			continue
		}
		if class[nx*g.ny+ny] == CellUnknown {
			return true
		}
	}
	return false
}

// unknownWithin counts unexplored cells within radius metres of a cell.
func (g *Grid) unknownWithin(class []uint8, cx, cy, rCells int, radius float64) int {
	r2 := radius * radius
	n := 0
	for ix := max(cx-rCells, 0); ix <= min(cx+rCells, g.nx-1); ix++ {
		for iy := max(cy-rCells, 0); iy <= min(cy+rCells, g.ny-1); iy++ {
			if class[ix*g.ny+iy] != CellUnknown {
				continue
			}
			dx := float64(ix-cx) * g.voxelSize
			dy := float64(iy-cy) * g.voxelSize
			if dx*dx+dy*dy <= r2 {
				n++
			}
		}
	}
	return n
}

// lineBlocked walks the 2D grid line between two cells and reports whether
// an occupied cell lies strictly between them.
func (g *Grid) lineBlocked(class []uint8, x0, y0, x1, y1 int) bool {
	dx, dy := abs(x1-x0), -abs(y1-y0)
	sx, sy := sign(x1-x0), sign(y1-y0)
	err := dx + dy
	x, y := x0, y0
	for {
		if x == x1 && y == y1 {
			return false
		}
		if (x != x0 || y != y0) && class[x*g.ny+y] == CellOccupied {
			return true
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
