package tsdf

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/zmling22/MemoryEQA/internal/geom"
)

// PlannerParams configures next-pose selection.
type PlannerParams struct {
	// MinDist/MaxDist bound the distance, metres, from the current
	// position at which candidate cells are considered.
	MinDist float64
	MaxDist float64
	// EvalRadius is the neighbourhood, metres, over which unexplored-gain
	// and semantic value are accumulated when scoring a candidate.
	EvalRadius float64
	// UnexploredWeight and SemanticWeight blend the two objectives after
	// each is normalised to [0, 1] over the candidate set.
	UnexploredWeight float64
	SemanticWeight   float64
}

// NextPose is the planner's decision for one step.
type NextPose struct {
	Pos        r3.Vec     // next position, z = floor height
	Heading    float64    // yaw to face at the new position
	AuxHeading float64    // yaw from the current position toward the new one
	Pix        [2]float64 // grid cell of the next position, for path tracing
	Moved      bool       // false when the planner held position
}

// FindNextPose picks the next position and heading.
//
// Candidate cells are free, navigable, and within [MinDist, MaxDist] of the
// current position. Each is scored by a weighted combination of
// unexplored-space gain and accumulated semantic value in its
// neighbourhood; disableSemWeight zeroes the semantic term during the
// random-exploration warm-up so an early wrong visual cue cannot dominate.
// The maximiser wins, ties resolved by cell order, so planning is
// deterministic. The returned position always lies on the navigation mesh;
// when no candidate is feasible the planner holds position and rotates a
// quarter turn.
func (g *Grid) FindNextPose(pos r3.Vec, heading float64, camPose geom.Transform,
	disableSemWeight bool, p PlannerParams) NextPose {
	class := g.classMap()
	curX, curY := g.cellOf(pos.X, pos.Y)
	evalCells := int(math.Ceil(p.EvalRadius / g.voxelSize))
	reach := int(math.Ceil(p.MaxDist/g.voxelSize)) + 1

	type cand struct {
		ix, iy int
		unexp  float64
		sem    float64
	}
	var cands []cand
	maxUnexp, maxSem := 0.0, 0.0
	for ix := max(curX-reach, 0); ix <= min(curX+reach, g.nx-1); ix++ {
		for iy := max(curY-reach, 0); iy <= min(curY+reach, g.ny-1); iy++ {
			if class[ix*g.ny+iy] != CellFree || !g.navigableCell(ix, iy) {
				continue
			}
			dx := float64(ix-curX) * g.voxelSize
			dy := float64(iy-curY) * g.voxelSize
			d := math.Hypot(dx, dy)
			if d < p.MinDist || d > p.MaxDist {
				continue
			}
			if g.lineBlocked(class, curX, curY, ix, iy) {
				continue
			}
			c := cand{
				ix:    ix,
				iy:    iy,
				unexp: float64(g.unknownWithin(class, ix, iy, evalCells, p.EvalRadius)),
				sem:   g.semWithin(ix, iy, evalCells, p.EvalRadius),
			}
			if c.unexp > maxUnexp {
				maxUnexp = c.unexp
			}
			if c.sem > maxSem {
				maxSem = c.sem
			}
			cands = append(cands, c)
		}
	}

	if len(cands) == 0 {
		// Nowhere feasible to go: stay put and sweep the view instead.
		return NextPose{
			Pos:        pos,
			Heading:    geom.NormalizeAngle(heading + math.Pi/2),
			AuxHeading: heading,
			Pix:        [2]float64{float64(curX), float64(curY)},
			Moved:      false,
		}
	}

	best := 0
	bestScore := math.Inf(-1)
	for i, c := range cands {
		score := 0.0
		if maxUnexp > 0 {
			score += p.UnexploredWeight * c.unexp / maxUnexp
		}
		if !disableSemWeight && maxSem > 0 {
			score += p.SemanticWeight * c.sem / maxSem
		}
		// Strict greater-than keeps the earliest cell on ties, making the
		// choice reproducible for identical map states.
		if score > bestScore {
			bestScore = score
			best = i
		}
	}
	chosen := cands[best]

	nx, ny := g.cellCenter(chosen.ix, chosen.iy)
	next := r3.Vec{X: nx, Y: ny, Z: pos.Z}
	aux := math.Atan2(ny-pos.Y, nx-pos.X)
	return NextPose{
		Pos:        next,
		Heading:    g.gainHeading(class, chosen.ix, chosen.iy, evalCells, p.EvalRadius, aux),
		AuxHeading: aux,
		Pix:        [2]float64{float64(chosen.ix), float64(chosen.iy)},
		Moved:      true,
	}
}

// semWithin accumulates fused semantic value within radius of a cell.
func (g *Grid) semWithin(cx, cy, rCells int, radius float64) float64 {
	r2 := radius * radius
	sum := 0.0
	for ix := max(cx-rCells, 0); ix <= min(cx+rCells, g.nx-1); ix++ {
		for iy := max(cy-rCells, 0); iy <= min(cy+rCells, g.ny-1); iy++ {
			dx := float64(ix-cx) * g.voxelSize
			dy := float64(iy-cy) * g.voxelSize
			if dx*dx+dy*dy > r2 {
				continue
			}
			sum += float64(g.columnVal(ix, iy))
		}
	}
	return sum
}

// gainHeading picks the yaw facing the centroid of unexplored cells near a
// position; with no unexplored cells in range it falls back to the travel
// direction.
func (g *Grid) gainHeading(class []uint8, cx, cy, rCells int, radius, fallback float64) float64 {
	r2 := radius * radius
	var sx, sy float64
	n := 0
	for ix := max(cx-rCells, 0); ix <= min(cx+rCells, g.nx-1); ix++ {
		for iy := max(cy-rCells, 0); iy <= min(cy+rCells, g.ny-1); iy++ {
			if class[ix*g.ny+iy] != CellUnknown {
				continue
			}
			dx := float64(ix-cx) * g.voxelSize
			dy := float64(iy-cy) * g.voxelSize
			if dx*dx+dy*dy > r2 {
				continue
			}
			sx += dx
			sy += dy
			n++
		}
	}
	if n == 0 || (sx == 0 && sy == 0) {
		return fallback
	}
	return math.Atan2(sy, sx)
}
