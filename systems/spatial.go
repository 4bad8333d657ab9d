// Package systems provides the neighbor indexes and the per-tick steering
// system that drives agents.
package systems

import (
	"math"

	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/steer/config"
)

// Member is an agent as a neighbor index stores it.
type Member struct {
	Entity   ecs.Entity
	Position r2.Vec
	Radius   float64
}

// NeighborQuery finds agents near a point. Implementations hold non-owning
// references and are kept in sync by whoever moves the agents.
type NeighborQuery interface {
	// FindNeighbors clears dst and refills it with every member other than
	// self whose edge lies within radius of the edge of a circle of
	// selfRadius at pos: |d| - (selfRadius + member radius) <= radius.
	FindNeighbors(dst []Member, self ecs.Entity, pos r2.Vec, selfRadius, radius float64) []Member
	AddEntity(e ecs.Entity, pos r2.Vec, radius float64)
	// UpdateEntity moves e from prev, the position it was last added or
	// updated with, to pos.
	UpdateEntity(e ecs.Entity, prev, pos r2.Vec)
	RemoveEntity(e ecs.Entity, pos r2.Vec)
	Len() int
}

// isNeighbor applies the edge-to-edge distance test.
func isNeighbor(pos r2.Vec, selfRadius, radius float64, m *Member) bool {
	reach := radius + selfRadius + m.Radius
	if reach < 0 {
		return false
	}
	return r2.Norm2(r2.Sub(m.Position, pos)) <= reach*reach
}

// CellInfo describes one grid cell.
type CellInfo struct {
	Bounds  r2.Box
	Members int
}

type cell struct {
	bounds  r2.Box
	members []Member
}

// SpatialGrid is a NeighborQuery over rectangular cells covering
// [0,width]x[0,height]. Positions outside the bounds clamp to edge cells.
type SpatialGrid struct {
	cellSize  float64
	cols      int
	rows      int
	cells     []cell
	where     map[ecs.Entity]int // Cell index of every member
	count     int
	maxRadius float64 // Largest member radius seen, widens queries
}

var _ NeighborQuery = (*SpatialGrid)(nil)

// NewSpatialGrid creates a spatial grid covering the given world size.
func NewSpatialGrid(width, height, cellSize float64) *SpatialGrid {
	return newSpatialGrid(cellSize, int(width/cellSize)+1, int(height/cellSize)+1)
}

// NewSpatialGridFromConfig creates the grid described by the partition
// section, using the derived column and row counts.
func NewSpatialGridFromConfig(cfg *config.Config) *SpatialGrid {
	if cfg.Derived.GridCols < 1 || cfg.Derived.GridRows < 1 {
		return NewSpatialGrid(cfg.World.Width, cfg.World.Height, cfg.Partition.CellSize)
	}
	return newSpatialGrid(cfg.Partition.CellSize, cfg.Derived.GridCols, cfg.Derived.GridRows)
}

func newSpatialGrid(cellSize float64, cols, rows int) *SpatialGrid {
	cells := make([]cell, cols*rows)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			lo := r2.Vec{X: float64(col) * cellSize, Y: float64(row) * cellSize}
			cells[row*cols+col] = cell{
				bounds:  r2.Box{Min: lo, Max: r2.Vec{X: lo.X + cellSize, Y: lo.Y + cellSize}},
				members: make([]Member, 0, 8),
			}
		}
	}

	return &SpatialGrid{
		cellSize: cellSize,
		cols:     cols,
		rows:     rows,
		cells:    cells,
		where:    make(map[ecs.Entity]int),
	}
}

// AddEntity inserts e into the cell containing pos. Adding a member again
// replaces its position and radius.
func (g *SpatialGrid) AddEntity(e ecs.Entity, pos r2.Vec, radius float64) {
	if from, i := g.find(e); i >= 0 {
		g.cells[from].members = removeAt(g.cells[from].members, i)
		g.count--
	}
	to := g.cellIndex(pos)
	g.cells[to].members = append(g.cells[to].members, Member{Entity: e, Position: pos, Radius: radius})
	g.where[e] = to
	g.count++
	if radius > g.maxRadius {
		g.maxRadius = radius
	}
}

// UpdateEntity moves e between cells only when its cell changes.
func (g *SpatialGrid) UpdateEntity(e ecs.Entity, prev, pos r2.Vec) {
	from := g.cellIndex(prev)
	to := g.cellIndex(pos)

	i := indexOf(g.cells[from].members, e)
	if i < 0 {
		// prev was stale; look e up in the cell map.
		from, i = g.find(e)
		if i < 0 {
			return
		}
	}

	if from == to {
		g.cells[from].members[i].Position = pos
		return
	}
	m := g.cells[from].members[i]
	m.Position = pos
	g.cells[from].members = removeAt(g.cells[from].members, i)
	g.cells[to].members = append(g.cells[to].members, m)
	g.where[e] = to
}

// RemoveEntity removes e, looking first in the cell containing pos.
func (g *SpatialGrid) RemoveEntity(e ecs.Entity, pos r2.Vec) {
	idx := g.cellIndex(pos)
	i := indexOf(g.cells[idx].members, e)
	if i < 0 {
		idx, i = g.find(e)
		if i < 0 {
			return
		}
	}
	g.cells[idx].members = removeAt(g.cells[idx].members, i)
	delete(g.where, e)
	g.count--
}

// FindNeighbors visits the cells overlapping the square of half-side
// radius + selfRadius + largest member radius around pos, then filters by
// exact distance.
func (g *SpatialGrid) FindNeighbors(dst []Member, self ecs.Entity, pos r2.Vec, selfRadius, radius float64) []Member {
	dst = dst[:0]
	half := radius + selfRadius + g.maxRadius
	if half < 0 {
		return dst
	}

	colMin, colMax := g.coord(pos.X-half, g.cols), g.coord(pos.X+half, g.cols)
	rowMin, rowMax := g.coord(pos.Y-half, g.rows), g.coord(pos.Y+half, g.rows)

	for row := rowMin; row <= rowMax; row++ {
		for col := colMin; col <= colMax; col++ {
			members := g.cells[row*g.cols+col].members
			for i := range members {
				m := &members[i]
				if m.Entity == self {
					continue
				}
				if isNeighbor(pos, selfRadius, radius, m) {
					dst = append(dst, *m)
				}
			}
		}
	}
	return dst
}

// Len returns the number of members.
func (g *SpatialGrid) Len() int {
	return g.count
}

// Cells returns the bounds and member count of every cell, row by row.
func (g *SpatialGrid) Cells() []CellInfo {
	out := make([]CellInfo, len(g.cells))
	for i := range g.cells {
		out[i] = CellInfo{Bounds: g.cells[i].bounds, Members: len(g.cells[i].members)}
	}
	return out
}

// Dims returns the grid's column and row counts.
func (g *SpatialGrid) Dims() (cols, rows int) {
	return g.cols, g.rows
}

func (g *SpatialGrid) find(e ecs.Entity) (cellIdx, i int) {
	c, ok := g.where[e]
	if !ok {
		return -1, -1
	}
	return c, indexOf(g.cells[c].members, e)
}

// coord maps a world coordinate to a cell coordinate clamped to [0, n).
func (g *SpatialGrid) coord(v float64, n int) int {
	c := math.Floor(v / g.cellSize)
	if !(c >= 0) { // Also catches NaN
		return 0
	}
	if c >= float64(n) {
		return n - 1
	}
	return int(c)
}

// cellIndex returns the flat index for a world position.
func (g *SpatialGrid) cellIndex(p r2.Vec) int {
	return g.coord(p.Y, g.rows)*g.cols + g.coord(p.X, g.cols)
}

func indexOf(members []Member, e ecs.Entity) int {
	for i := range members {
		if members[i].Entity == e {
			return i
		}
	}
	return -1
}

// removeAt swap-removes element i.
func removeAt(members []Member, i int) []Member {
	last := len(members) - 1
	members[i] = members[last]
	members[last] = Member{}
	return members[:last]
}
