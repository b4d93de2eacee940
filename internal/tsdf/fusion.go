package tsdf

import (
	"fmt"
	"image"

	"github.com/zmling22/MemoryEQA/internal/geom"
)

// Integrate fuses one depth observation into the grid.
//
// Every voxel that back-projects into the depth image (outside the border
// margins) receives a truncated signed-distance observation fused by a
// weighted running average:
//
//	weight' = weight + obsWeight
//	sdf'    = (sdf*weight + obs*obsWeight) / weight'
//
// Voxels behind the observed surface by more than the truncation margin,
// and pixels with no depth return, are skipped. Weight never decreases, so
// repeated fusion only sharpens the map. color is accepted for parity with
// the sensor payload and diagnostic use; it does not influence the SDF.
func (g *Grid) Integrate(color *image.RGBA, depth []float32, imgW, imgH int,
	intr geom.Intrinsics, camPose geom.Transform, obsWeight float64, marginH, marginW int) error {
	if len(depth) != imgW*imgH {
		return fmt.Errorf("depth buffer is %d values, want %dx%d", len(depth), imgW, imgH)
	}
	if obsWeight < 0 {
		return fmt.Errorf("observation weight must be non-negative, got %v", obsWeight)
	}
	_ = color

	worldToCam := camPose.Inverse()
	obsW := float32(obsWeight)

	for ix := 0; ix < g.nx; ix++ {
		for iy := 0; iy < g.ny; iy++ {
			for iz := 0; iz < g.nz; iz++ {
				p := worldToCam.Apply(g.voxelCenter(ix, iy, iz))
				u, v, ok := intr.Project(p)
				if !ok {
					continue
				}
				px, py := int(u), int(v)
				if px < marginW || px >= imgW-marginW || py < marginH || py >= imgH-marginH {
					continue
				}
				d := float64(depth[py*imgW+px])
				if d <= 0 {
					continue
				}
				sd := d - p.Z
				if sd < -g.truncMargin {
					// Far behind the surface: occluded, not evidence.
					continue
				}
				obs := sd / g.truncMargin
				if obs > 1 {
					obs = 1
				}
				if obs < -1 {
					obs = -1
				}

				i := g.idx(ix, iy, iz)
				wOld := g.weight[i]
				wNew := wOld + obsW
				if wNew <= 0 {
					continue
				}
				g.sdf[i] = (g.sdf[i]*wOld + float32(obs)*obsW) / wNew
				g.weight[i] = wNew
			}
		}
	}
	return nil
}

// IntegrateSem fuses one semantic score per frontier point recorded by the
// most recent FindPromptPointsWithinView call. Each score is spread over
// the voxels within radius metres of its frontier point, using the same
// weighted running average as Integrate. The recorded points are consumed:
// a second call without a fresh prompt-point query is an error, as is a
// score count that does not match the point count.
func (g *Grid) IntegrateSem(scores []float64, radius, obsWeight float64) error {
	if len(g.promptPts) == 0 {
		return fmt.Errorf("no frontier points recorded for semantic fusion")
	}
	if len(scores) != len(g.promptPts) {
		return fmt.Errorf("got %d semantic scores for %d frontier points", len(scores), len(g.promptPts))
	}
	if obsWeight < 0 {
		return fmt.Errorf("observation weight must be non-negative, got %v", obsWeight)
	}

	rv := int(radius/g.voxelSize) + 1
	r2 := radius * radius
	obsW := float32(obsWeight)

	for pi, fp := range g.promptPts {
		cx, cy, cz := g.worldToVoxel(fp.World.X, fp.World.Y, fp.World.Z)
		score := float32(scores[pi])
		for ix := max(cx-rv, 0); ix <= min(cx+rv, g.nx-1); ix++ {
			for iy := max(cy-rv, 0); iy <= min(cy+rv, g.ny-1); iy++ {
				for iz := max(cz-rv, 0); iz <= min(cz+rv, g.nz-1); iz++ {
					c := g.voxelCenter(ix, iy, iz)
					dx, dy, dz := c.X-fp.World.X, c.Y-fp.World.Y, c.Z-fp.World.Z
					if dx*dx+dy*dy+dz*dz > r2 {
						continue
					}
					i := g.idx(ix, iy, iz)
					wOld := g.valWeight[i]
					wNew := wOld + obsW
					if wNew <= 0 {
						continue
					}
					g.val[i] = (g.val[i]*wOld + score*obsW) / wNew
					g.valWeight[i] = wNew
				}
			}
		}
	}
	g.promptPts = nil
	return nil
}

// worldToVoxel maps a world point to voxel indices, clamped to the grid.
func (g *Grid) worldToVoxel(x, y, z float64) (int, int, int) {
	ix, iy := g.cellOf(x, y)
	iz := g.clampZ(int((z - g.origin.Z) / g.voxelSize))
	return ix, iy, iz
}
