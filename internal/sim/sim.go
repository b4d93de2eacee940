// Package sim defines the simulator collaborator: the component that, given
// an agent pose, produces RGB-D observations of a scene. The production
// deployment binds this interface to an external renderer; the in-tree
// Synth implementation raycasts simple rectilinear scenes and backs the
// integration tests and the synthetic benchmark mode.
package sim

import (
	"context"
	"image"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/zmling22/MemoryEQA/internal/geom"
)

// Settings describes the sensor configuration for one simulator instance.
type Settings struct {
	Width        int
	Height       int
	HFOV         float64 // degrees
	SensorHeight float64 // metres above the agent origin
	Tilt         float64 // radians, negative looks down
}

// Observation is one RGB-D sensor read.
type Observation struct {
	Color  *image.RGBA
	Depth  []float32 // row-major z-depth, metres; 0 = no return
	Width  int
	Height int
}

// BlackPixelCount returns the number of fully black color pixels. A high
// count indicates the agent is outside the scene (or the sensor failed)
// and the frame must not be fused.
func (o *Observation) BlackPixelCount() int {
	n := 0
	for y := 0; y < o.Height; y++ {
		for x := 0; x < o.Width; x++ {
			c := o.Color.RGBAAt(x, y)
			if c.R == 0 && c.G == 0 && c.B == 0 {
				n++
			}
		}
	}
	return n
}

// NavMesh is the traversability oracle loaded alongside a scene. Its
// method set satisfies the planner's navigability requirement.
type NavMesh interface {
	// Navigable reports whether a ground-plane position is walkable.
	Navigable(x, y float64) bool
	// Bounds returns the axis-aligned extent of the walkable region in
	// the normal frame, floor to ceiling.
	Bounds() (min, max r3.Vec)
	// Area returns the walkable floor area in square metres.
	Area() float64
}

// Simulator is one loaded scene with one agent. Implementations are not
// safe for concurrent use and are scoped to a single episode; Close must
// be called before the next episode's simulator is created.
type Simulator interface {
	// PlaceAgent teleports the agent, positions in the normal frame.
	PlaceAgent(pos r3.Vec, yaw float64)
	// Observe renders the RGB-D sensors at the current agent pose. The
	// call blocks until the frame is available.
	Observe(ctx context.Context) (*Observation, error)
	// SensorPose returns the camera-to-world transform of the depth
	// sensor at the current agent pose, normal frame.
	SensorPose() geom.Transform
	// NavMesh returns the scene's navigation mesh, or nil when it failed
	// to load.
	NavMesh() NavMesh
	Close() error
}

// Factory creates a Simulator for a scene/navmesh pair. Episode teardown
// and rebuild between questions goes through this.
type Factory func(scenePath, navmeshPath string, st Settings) (Simulator, error)
