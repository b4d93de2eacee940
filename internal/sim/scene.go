package sim

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// Scene is a rectilinear floor plan for the synthetic simulator. Walls are
// full height between FloorZ and CeilZ. Rows are an ASCII grid, first row
// at the highest y: '#' wall, '.' open floor, ' ' void outside the scene.
type Scene struct {
	CellSize float64   `json:"cell_size"`
	Origin   [2]float64 `json:"origin"` // world x/y of the grid's min corner
	FloorZ   float64   `json:"floor_z"`
	CeilZ    float64   `json:"ceil_z"`
	Rows     []string  `json:"rows"`
}

const (
	tileWall = '#'
	tileOpen = '.'
	tileVoid = ' '
)

// LoadScene reads a Scene from a JSON file.
func LoadScene(path string) (*Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scene %s: %w", path, err)
	}
	var s Scene
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse scene %s: %w", path, err)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("invalid scene %s: %w", path, err)
	}
	return &s, nil
}

// ParseScene builds a Scene directly from rows, for tests.
func ParseScene(cellSize float64, origin [2]float64, floorZ, ceilZ float64, rows []string) (*Scene, error) {
	s := &Scene{CellSize: cellSize, Origin: origin, FloorZ: floorZ, CeilZ: ceilZ, Rows: rows}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scene) validate() error {
	if s.CellSize <= 0 {
		return fmt.Errorf("cell_size must be positive, got %v", s.CellSize)
	}
	if s.CeilZ <= s.FloorZ {
		return fmt.Errorf("ceil_z %v must exceed floor_z %v", s.CeilZ, s.FloorZ)
	}
	if len(s.Rows) == 0 {
		return fmt.Errorf("scene has no rows")
	}
	width := len(s.Rows[0])
	for i, row := range s.Rows {
		if len(row) != width {
			return fmt.Errorf("row %d has %d tiles, want %d", i, len(row), width)
		}
		if j := strings.IndexFunc(row, func(r rune) bool {
			return r != tileWall && r != tileOpen && r != tileVoid
		}); j >= 0 {
			return fmt.Errorf("row %d has unknown tile %q at column %d", i, row[j], j)
		}
	}
	return nil
}

func (s *Scene) cols() int { return len(s.Rows[0]) }
func (s *Scene) rows() int { return len(s.Rows) }

// tileAt returns the tile for grid indices (col, row counted from the min
// corner), or void outside the grid.
func (s *Scene) tileAt(col, row int) byte {
	if col < 0 || col >= s.cols() || row < 0 || row >= s.rows() {
		return tileVoid
	}
	// Rows are listed top-down; row 0 of the slice is the max-y edge.
	return s.Rows[s.rows()-1-row][col]
}

// cellAt maps world coordinates to grid indices.
func (s *Scene) cellAt(x, y float64) (col, row int) {
	return int((x - s.Origin[0]) / s.CellSize), int((y - s.Origin[1]) / s.CellSize)
}

// GridNavMesh is a navigation mesh over a Scene's open cells.
type GridNavMesh struct {
	scene *Scene
}

// LoadNavMesh reads a navigation mesh, which for synthetic scenes is the
// scene plan itself: walkable space is exactly the open tiles.
func LoadNavMesh(path string) (*GridNavMesh, error) {
	s, err := LoadScene(path)
	if err != nil {
		return nil, err
	}
	return &GridNavMesh{scene: s}, nil
}

// NavMeshFromScene wraps an already loaded scene.
func NavMeshFromScene(s *Scene) *GridNavMesh {
	return &GridNavMesh{scene: s}
}

// Navigable reports whether the position is on an open tile.
func (n *GridNavMesh) Navigable(x, y float64) bool {
	col, row := n.scene.cellAt(x, y)
	return n.scene.tileAt(col, row) == tileOpen
}

// Bounds returns the walkable extent, floor to ceiling.
func (n *GridNavMesh) Bounds() (min, max r3.Vec) {
	s := n.scene
	minC, minR := s.cols(), s.rows()
	maxC, maxR := -1, -1
	for row := 0; row < s.rows(); row++ {
		for col := 0; col < s.cols(); col++ {
			if s.tileAt(col, row) != tileOpen {
				continue
			}
			if col < minC {
				minC = col
			}
			if col > maxC {
				maxC = col
			}
			if row < minR {
				minR = row
			}
			if row > maxR {
				maxR = row
			}
		}
	}
	if maxC < 0 {
		return r3.Vec{}, r3.Vec{}
	}
	// One cell of padding so walls at the rim are inside the volume.
	return r3.Vec{
			X: s.Origin[0] + float64(minC-1)*s.CellSize,
			Y: s.Origin[1] + float64(minR-1)*s.CellSize,
			Z: s.FloorZ,
		}, r3.Vec{
			X: s.Origin[0] + float64(maxC+2)*s.CellSize,
			Y: s.Origin[1] + float64(maxR+2)*s.CellSize,
			Z: s.CeilZ,
		}
}

// Area returns the open floor area in square metres.
func (n *GridNavMesh) Area() float64 {
	s := n.scene
	open := 0
	for row := 0; row < s.rows(); row++ {
		for col := 0; col < s.cols(); col++ {
			if s.tileAt(col, row) == tileOpen {
				open++
			}
		}
	}
	return float64(open) * s.CellSize * s.CellSize
}
