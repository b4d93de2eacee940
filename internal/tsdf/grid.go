// Package tsdf maintains the truncated-signed-distance-field voxel map and
// the exploration logic built on top of it: depth/semantic fusion, frontier
// prompt-point sampling, and next-pose planning.
package tsdf

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Cell classification for the 2D slice derived from the voxel columns.
const (
	CellUnknown uint8 = iota // no observation in the height band
	CellFree                 // observed, in front of a surface
	CellOccupied             // observed, behind or at a surface
)

// Navigability reports whether a ground-plane position is traversable.
// Implemented by the simulator's navigation mesh.
type Navigability interface {
	Navigable(x, y float64) bool
}

// Params configures grid construction.
type Params struct {
	// VoxelSize is the voxel edge length in metres.
	VoxelSize float64
	// TruncMarginVoxels sets the SDF truncation distance as a multiple of
	// the voxel size. Observations further behind a surface are discarded.
	TruncMarginVoxels float64
	// HeightBandLo/Hi bound the vertical slice (metres above the floor)
	// used for the 2D occupancy view the planner works on. Keeping the
	// band below door height avoids classifying lintels as obstacles.
	HeightBandLo float64
	HeightBandHi float64
}

// DefaultParams returns grid parameters matching the reference setup.
func DefaultParams(voxelSize float64) Params {
	return Params{
		VoxelSize:         voxelSize,
		TruncMarginVoxels: 5,
		HeightBandLo:      0.1,
		HeightBandHi:      1.6,
	}
}

// Grid is a bounded axis-aligned TSDF voxel grid.
//
// Per voxel it stores the truncated signed distance to the nearest observed
// surface, an observation weight, and an independently weighted semantic
// value. Weights only grow; sdf values are meaningful where weight > 0.
// A Grid is scoped to one episode and is not safe for concurrent use.
type Grid struct {
	origin    r3.Vec
	voxelSize float64
	nx, ny, nz int

	truncMargin float64

	sdf       []float32 // initialised to +1 (unobserved / in front)
	weight    []float32
	val       []float32 // semantic value
	valWeight []float32

	floorZ   float64
	bandLo   int // inclusive z index of the 2D slice band
	bandHi   int // inclusive
	nav      Navigability

	// Initial clearance: the start position is known traversable even
	// before any fusion, so a disc around it counts as free space.
	initX, initY int
	clearCells   float64

	// Frontier points recorded by the most recent prompt-point query,
	// consumed by IntegrateSem.
	promptPts []FrontierPoint
}

// Bounds is an axis-aligned region: Min/Max per axis, metres.
type Bounds struct {
	Min r3.Vec
	Max r3.Vec
}

// NewGrid allocates a grid covering bounds. floorZ is the floor height in
// the normal frame; initPos is the agent start position, with clearance
// metres around it assumed free. nav may be nil when no navigation mesh is
// available, in which case every cell is treated as traversable.
func NewGrid(bounds Bounds, p Params, floorZ float64, initPos r3.Vec, clearance float64, nav Navigability) *Grid {
	nx := int(math.Ceil((bounds.Max.X - bounds.Min.X) / p.VoxelSize))
	ny := int(math.Ceil((bounds.Max.Y - bounds.Min.Y) / p.VoxelSize))
	nz := int(math.Ceil((bounds.Max.Z - bounds.Min.Z) / p.VoxelSize))
	if nx < 1 {
		nx = 1
	}
	if ny < 1 {
		ny = 1
	}
	if nz < 1 {
		nz = 1
	}

	n := nx * ny * nz
	g := &Grid{
		origin:      bounds.Min,
		voxelSize:   p.VoxelSize,
		nx:          nx,
		ny:          ny,
		nz:          nz,
		truncMargin: p.TruncMarginVoxels * p.VoxelSize,
		sdf:         make([]float32, n),
		weight:      make([]float32, n),
		val:         make([]float32, n),
		valWeight:   make([]float32, n),
		floorZ:      floorZ,
		nav:         nav,
	}
	for i := range g.sdf {
		g.sdf[i] = 1
	}

	g.bandLo = g.clampZ(int(math.Floor((floorZ + p.HeightBandLo - bounds.Min.Z) / p.VoxelSize)))
	g.bandHi = g.clampZ(int(math.Floor((floorZ + p.HeightBandHi - bounds.Min.Z) / p.VoxelSize)))
	if g.bandHi < g.bandLo {
		g.bandHi = g.bandLo
	}

	g.initX, g.initY = g.cellOf(initPos.X, initPos.Y)
	g.clearCells = clearance / p.VoxelSize
	return g
}

// Dims returns the voxel grid dimensions.
func (g *Grid) Dims() (nx, ny, nz int) { return g.nx, g.ny, g.nz }

// VoxelSize returns the voxel edge length in metres.
func (g *Grid) VoxelSize() float64 { return g.voxelSize }

func (g *Grid) idx(ix, iy, iz int) int { return (ix*g.ny+iy)*g.nz + iz }

func (g *Grid) clampZ(iz int) int {
	if iz < 0 {
		return 0
	}
	if iz >= g.nz {
		return g.nz - 1
	}
	return iz
}

// cellOf maps ground-plane coordinates to 2D cell indices, clamped to the
// grid so out-of-bounds positions land on the border column.
func (g *Grid) cellOf(x, y float64) (int, int) {
	ix := int(math.Floor((x - g.origin.X) / g.voxelSize))
	iy := int(math.Floor((y - g.origin.Y) / g.voxelSize))
	if ix < 0 {
		ix = 0
	}
	if ix >= g.nx {
		ix = g.nx - 1
	}
	if iy < 0 {
		iy = 0
	}
	if iy >= g.ny {
		iy = g.ny - 1
	}
	return ix, iy
}

// cellCenter maps 2D cell indices to ground-plane coordinates.
func (g *Grid) cellCenter(ix, iy int) (float64, float64) {
	return g.origin.X + (float64(ix)+0.5)*g.voxelSize,
		g.origin.Y + (float64(iy)+0.5)*g.voxelSize
}

// voxelCenter maps 3D voxel indices to a world point.
func (g *Grid) voxelCenter(ix, iy, iz int) r3.Vec {
	return r3.Vec{
		X: g.origin.X + (float64(ix)+0.5)*g.voxelSize,
		Y: g.origin.Y + (float64(iy)+0.5)*g.voxelSize,
		Z: g.origin.Z + (float64(iz)+0.5)*g.voxelSize,
	}
}

// Voxel reports the fused state of one voxel.
func (g *Grid) Voxel(ix, iy, iz int) (sdf, weight, val, valWeight float32) {
	i := g.idx(ix, iy, iz)
	return g.sdf[i], g.weight[i], g.val[i], g.valWeight[i]
}

// cellClass classifies one column of the height band for the 2D view.
func (g *Grid) cellClass(ix, iy int) uint8 {
	observed := false
	for iz := g.bandLo; iz <= g.bandHi; iz++ {
		i := g.idx(ix, iy, iz)
		if g.weight[i] <= 0 {
			continue
		}
		observed = true
		if g.sdf[i] < 0 {
			return CellOccupied
		}
	}
	if observed {
		return CellFree
	}
	// Unobserved cells inside the initial clearance count as free: the
	// agent demonstrably stands there.
	dx, dy := float64(ix-g.initX), float64(iy-g.initY)
	if dx*dx+dy*dy <= g.clearCells*g.clearCells {
		return CellFree
	}
	return CellUnknown
}

// classMap materialises the 2D slice classification, row-major (ix*ny+iy).
func (g *Grid) classMap() []uint8 {
	m := make([]uint8, g.nx*g.ny)
	for ix := 0; ix < g.nx; ix++ {
		for iy := 0; iy < g.ny; iy++ {
			m[ix*g.ny+iy] = g.cellClass(ix, iy)
		}
	}
	return m
}

// navigableCell reports whether a cell center is on the navigation mesh.
func (g *Grid) navigableCell(ix, iy int) bool {
	if g.nav == nil {
		return true
	}
	x, y := g.cellCenter(ix, iy)
	return g.nav.Navigable(x, y)
}

// columnVal returns the highest-confidence semantic value in the column's
// height band, or 0 if none has been fused.
func (g *Grid) columnVal(ix, iy int) float32 {
	var best float32
	for iz := g.bandLo; iz <= g.bandHi; iz++ {
		i := g.idx(ix, iy, iz)
		if g.valWeight[i] > 0 && g.val[i] > best {
			best = g.val[i]
		}
	}
	return best
}

// Snapshot is a copy of the planner-facing 2D state, used for diagnostic
// figures. See mapviz.
type Snapshot struct {
	Nx, Ny    int
	OriginX   float64
	OriginY   float64
	VoxelSize float64
	Class     []uint8   // row-major ix*Ny+iy
	Val       []float32 // per-column semantic value
	Frontiers [][2]int
	Current   [2]int
	Next      [2]int
	HasNext   bool
}

// Snapshot captures the current 2D view around pos for plotting.
func (g *Grid) Snapshot(pos r3.Vec) *Snapshot {
	s := &Snapshot{
		Nx:        g.nx,
		Ny:        g.ny,
		OriginX:   g.origin.X,
		OriginY:   g.origin.Y,
		VoxelSize: g.voxelSize,
		Class:     g.classMap(),
		Val:       make([]float32, g.nx*g.ny),
	}
	for ix := 0; ix < g.nx; ix++ {
		for iy := 0; iy < g.ny; iy++ {
			s.Val[ix*g.ny+iy] = g.columnVal(ix, iy)
		}
	}
	cx, cy := g.cellOf(pos.X, pos.Y)
	s.Current = [2]int{cx, cy}
	for _, fp := range g.promptPts {
		s.Frontiers = append(s.Frontiers, fp.Cell)
	}
	return s
}
