package sim

import (
	"context"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

// squareRoom is a 2m-cell 8x8m room enclosed by walls.
func squareRoom(t *testing.T) *Scene {
	t.Helper()
	s, err := ParseScene(1.0, [2]float64{0, 0}, 0, 2.5, []string{
		"##########",
		"#........#",
		"#........#",
		"#........#",
		"#........#",
		"#........#",
		"#........#",
		"#........#",
		"#........#",
		"##########",
	})
	if err != nil {
		t.Fatalf("scene: %v", err)
	}
	return s
}

func synthSettings() Settings {
	return Settings{Width: 80, Height: 60, HFOV: 90, SensorHeight: 1.4, Tilt: 0}
}

func TestSynth_DepthToFacingWall(t *testing.T) {
	scene := squareRoom(t)
	s := NewSynth(scene, NavMeshFromScene(scene), synthSettings())
	// Agent at (2, 5) looking +x; the far wall interior face is at x=9.
	s.PlaceAgent(r3.Vec{X: 2, Y: 5, Z: 0}, 0)

	obs, err := s.Observe(context.Background())
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	center := float64(obs.Depth[(obs.Height/2)*obs.Width+obs.Width/2])
	if math.Abs(center-7.0) > 0.05 {
		t.Fatalf("center depth = %v, want ~7.0", center)
	}
	if obs.BlackPixelCount() > obs.Width*obs.Height/20 {
		t.Fatalf("unexpected black pixels inside the room: %d", obs.BlackPixelCount())
	}
}

func TestSynth_BlackFrameOutsideScene(t *testing.T) {
	scene := squareRoom(t)
	s := NewSynth(scene, NavMeshFromScene(scene), synthSettings())
	s.PlaceAgent(r3.Vec{X: -5, Y: -5, Z: 0}, 0)

	obs, err := s.Observe(context.Background())
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if obs.BlackPixelCount() != obs.Width*obs.Height {
		t.Fatalf("expected a fully black frame outside the scene, got %d of %d black",
			obs.BlackPixelCount(), obs.Width*obs.Height)
	}
	for i, d := range obs.Depth {
		if d != 0 {
			t.Fatalf("expected zero depth outside the scene, pixel %d = %v", i, d)
		}
	}
}

func TestSynth_Deterministic(t *testing.T) {
	scene := squareRoom(t)
	render := func() *Observation {
		s := NewSynth(scene, NavMeshFromScene(scene), synthSettings())
		s.PlaceAgent(r3.Vec{X: 3, Y: 4, Z: 0}, 0.8)
		obs, err := s.Observe(context.Background())
		if err != nil {
			t.Fatalf("observe: %v", err)
		}
		return obs
	}
	a, b := render(), render()
	for i := range a.Depth {
		if a.Depth[i] != b.Depth[i] {
			t.Fatalf("depth differs at pixel %d", i)
		}
	}
}

func TestSynth_ObserveAfterClose(t *testing.T) {
	scene := squareRoom(t)
	s := NewSynth(scene, nil, synthSettings())
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := s.Observe(context.Background()); err == nil {
		t.Fatalf("expected error observing a closed simulator")
	}
}

func TestGridNavMesh(t *testing.T) {
	scene := squareRoom(t)
	nav := NavMeshFromScene(scene)

	if !nav.Navigable(5, 5) {
		t.Fatalf("room interior should be navigable")
	}
	if nav.Navigable(0.5, 0.5) {
		t.Fatalf("wall cell should not be navigable")
	}
	if nav.Navigable(-3, 5) {
		t.Fatalf("void should not be navigable")
	}

	// 8x8 open cells of 1m.
	if area := nav.Area(); area != 64 {
		t.Fatalf("area = %v, want 64", area)
	}

	min, max := nav.Bounds()
	if min.X >= 1 || max.X <= 9 {
		t.Fatalf("bounds should pad beyond the open region: %v %v", min, max)
	}
	if min.Z != 0 || max.Z != 2.5 {
		t.Fatalf("bounds should span floor to ceiling: %v %v", min, max)
	}
}

func TestSynth_TiltedCameraSeesFloor(t *testing.T) {
	scene := squareRoom(t)
	st := synthSettings()
	st.Tilt = -0.5
	s := NewSynth(scene, NavMeshFromScene(scene), st)
	s.PlaceAgent(r3.Vec{X: 5, Y: 5, Z: 0}, 0)

	obs, err := s.Observe(context.Background())
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	// Bottom rows point steeply down and must return the floor at finite
	// depth rather than running off to the far wall.
	bottom := float64(obs.Depth[(obs.Height-1)*obs.Width+obs.Width/2])
	if bottom <= 0 || bottom > 4.0 {
		t.Fatalf("bottom-row depth = %v, want a close floor return", bottom)
	}
}
