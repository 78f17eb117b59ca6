package grid

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	mrand "math/rand"
	"time"
)

// ErrFull is returned by Allocate when every cell holds a live item.
var ErrFull = errors.New("grid is full")

// CellID addresses one cell as a row-major index into the grid.
type CellID int

// Grid tracks which placement slots in a channel's layout hold a live item.
// It is not safe for concurrent use; callers serialize access through their
// session lock.
type Grid struct {
	width  int
	height int
	items  []string // occupying item id per cell, "" when empty
	free   int
	rng    *mrand.Rand
}

func New(width, height int, rng *mrand.Rand) *Grid {
	if rng == nil {
		var b [8]byte
		if _, err := rand.Read(b[:]); err != nil {
			rng = mrand.New(mrand.NewSource(time.Now().UnixNano()))
		} else {
			rng = mrand.New(mrand.NewSource(int64(binary.LittleEndian.Uint64(b[:]))))
		}
	}

	n := width * height
	return &Grid{
		width:  width,
		height: height,
		items:  make([]string, n),
		free:   n,
		rng:    rng,
	}
}

// Allocate places itemID on a uniformly random empty cell.
func (g *Grid) Allocate(itemID string) (CellID, error) {
	if g.free == 0 {
		return 0, ErrFull
	}

	// pick the k-th empty cell, k uniform over the empties
	k := g.rng.Intn(g.free)
	for i, occupant := range g.items {
		if occupant != "" {
			continue
		}
		if k == 0 {
			g.items[i] = itemID
			g.free--
			return CellID(i), nil
		}
		k--
	}
	return 0, ErrFull // unreachable while free is accurate
}

// Release empties the cell. Releasing an already-empty cell is a no-op.
func (g *Grid) Release(cell CellID) {
	if cell < 0 || int(cell) >= len(g.items) {
		return
	}
	if g.items[cell] != "" {
		g.items[cell] = ""
		g.free++
	}
}

// Occupancy reports the fraction of cells holding a live item.
func (g *Grid) Occupancy() float64 {
	if len(g.items) == 0 {
		return 0
	}
	return float64(len(g.items)-g.free) / float64(len(g.items))
}

// Occupant returns the item id on a cell, or "" if the cell is empty.
func (g *Grid) Occupant(cell CellID) string {
	if cell < 0 || int(cell) >= len(g.items) {
		return ""
	}
	return g.items[cell]
}

// Label renders a cell as a spreadsheet-style coordinate ("A1" top-left),
// matching how spawns are announced in chat. Columns past Z continue in the
// spreadsheet manner: AA, AB and so on.
func (g *Grid) Label(cell CellID) string {
	row := int(cell) / g.width
	letters := make([]byte, 0, 2)
	for n := int(cell) % g.width; n >= 0; n = n/26 - 1 {
		letters = append([]byte{byte('A' + n%26)}, letters...)
	}
	return fmt.Sprintf("%s%d", letters, row+1)
}

func (g *Grid) Cells() int { return len(g.items) }
