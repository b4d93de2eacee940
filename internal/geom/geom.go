// Package geom provides the camera and coordinate-frame math shared by the
// volumetric map, the planner, and the simulator adapters.
//
// Two frames are used throughout:
//
//   - the "habitat" frame used by the simulator: x right, y up, z backward
//     (gravity along -y);
//   - the "normal" frame used by the map and planner: x/y span the ground
//     plane and z is up.
//
// Camera pixel coordinates follow the usual computer-vision convention:
// x right, y down, z forward along the optical axis.
package geom

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Intrinsics holds a pinhole camera model.
type Intrinsics struct {
	Fx float64
	Fy float64
	Cx float64
	Cy float64
}

// IntrinsicsFromHFOV derives pinhole intrinsics from a horizontal field of
// view in degrees and the image size. Square pixels are assumed, matching
// the simulator's sensor model.
func IntrinsicsFromHFOV(hfovDeg float64, width, height int) Intrinsics {
	f := float64(width) / (2 * math.Tan(hfovDeg*math.Pi/360))
	return Intrinsics{
		Fx: f,
		Fy: f,
		Cx: float64(width) / 2,
		Cy: float64(height) / 2,
	}
}

// Project maps a camera-frame point to pixel coordinates. The boolean is
// false when the point is at or behind the image plane.
func (in Intrinsics) Project(p r3.Vec) (u, v float64, ok bool) {
	if p.Z <= 0 {
		return 0, 0, false
	}
	return in.Fx*p.X/p.Z + in.Cx, in.Fy*p.Y/p.Z + in.Cy, true
}

// Transform is a rigid transform (rotation + translation). Applied to a
// point it maps from the local frame into the parent frame; for a camera
// pose the local frame is the camera and the parent frame is the world.
type Transform struct {
	R *mat.Dense // 3x3 rotation
	T r3.Vec
}

// Identity returns the identity transform.
func Identity() Transform {
	r := mat.NewDense(3, 3, nil)
	r.Set(0, 0, 1)
	r.Set(1, 1, 1)
	r.Set(2, 2, 1)
	return Transform{R: r, T: r3.Vec{}}
}

// Apply maps p from the local frame to the parent frame.
func (t Transform) Apply(p r3.Vec) r3.Vec {
	return r3.Vec{
		X: t.R.At(0, 0)*p.X + t.R.At(0, 1)*p.Y + t.R.At(0, 2)*p.Z + t.T.X,
		Y: t.R.At(1, 0)*p.X + t.R.At(1, 1)*p.Y + t.R.At(1, 2)*p.Z + t.T.Y,
		Z: t.R.At(2, 0)*p.X + t.R.At(2, 1)*p.Y + t.R.At(2, 2)*p.Z + t.T.Z,
	}
}

// Inverse returns the inverse rigid transform. Only the transpose of R is
// taken, so t.R must be a proper rotation.
func (t Transform) Inverse() Transform {
	rt := mat.NewDense(3, 3, nil)
	rt.CloneFrom(t.R.T())
	ti := r3.Vec{
		X: -(rt.At(0, 0)*t.T.X + rt.At(0, 1)*t.T.Y + rt.At(0, 2)*t.T.Z),
		Y: -(rt.At(1, 0)*t.T.X + rt.At(1, 1)*t.T.Y + rt.At(1, 2)*t.T.Z),
		Z: -(rt.At(2, 0)*t.T.X + rt.At(2, 1)*t.T.Y + rt.At(2, 2)*t.T.Z),
	}
	return Transform{R: rt, T: ti}
}

// CameraPose composes the camera-to-world transform in the normal frame
// from an agent position, a yaw heading (radians, measured in the ground
// plane from +x toward +y), a sensor height above the agent origin, and a
// tilt (radians, negative looks down).
//
// Camera axes in the world: z points along the view direction, x to the
// right, y down.
func CameraPose(pos r3.Vec, yaw, sensorHeight, tilt float64) Transform {
	cy, sy := math.Cos(yaw), math.Sin(yaw)
	ct, st := math.Cos(tilt), math.Sin(tilt)

	fwd := r3.Vec{X: cy * ct, Y: sy * ct, Z: st}
	right := r3.Vec{X: sy, Y: -cy, Z: 0}
	down := r3.Cross(fwd, right)

	r := mat.NewDense(3, 3, []float64{
		right.X, down.X, fwd.X,
		right.Y, down.Y, fwd.Y,
		right.Z, down.Z, fwd.Z,
	})
	return Transform{R: r, T: r3.Vec{X: pos.X, Y: pos.Y, Z: pos.Z + sensorHeight}}
}

// PosHabitatToNormal converts a simulator position to the normal frame.
func PosHabitatToNormal(p r3.Vec) r3.Vec {
	return r3.Vec{X: p.X, Y: -p.Z, Z: p.Y}
}

// PosNormalToHabitat converts a normal-frame position to the simulator frame.
func PosNormalToHabitat(p r3.Vec) r3.Vec {
	return r3.Vec{X: p.X, Y: p.Z, Z: -p.Y}
}

// NormalizeAngle wraps an angle into (-pi, pi].
func NormalizeAngle(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}
