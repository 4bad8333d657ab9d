package systems

import (
	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r2"
)

// BruteForce is a NeighborQuery that scans every member on each query.
type BruteForce struct {
	members []Member
	slot    map[ecs.Entity]int
}

var _ NeighborQuery = (*BruteForce)(nil)

// NewBruteForce returns an empty brute-force index.
func NewBruteForce() *BruteForce {
	return &BruteForce{slot: make(map[ecs.Entity]int)}
}

func (b *BruteForce) AddEntity(e ecs.Entity, pos r2.Vec, radius float64) {
	if i, ok := b.slot[e]; ok {
		b.members[i] = Member{Entity: e, Position: pos, Radius: radius}
		return
	}
	b.slot[e] = len(b.members)
	b.members = append(b.members, Member{Entity: e, Position: pos, Radius: radius})
}

func (b *BruteForce) UpdateEntity(e ecs.Entity, _, pos r2.Vec) {
	if i, ok := b.slot[e]; ok {
		b.members[i].Position = pos
	}
}

func (b *BruteForce) RemoveEntity(e ecs.Entity, _ r2.Vec) {
	i, ok := b.slot[e]
	if !ok {
		return
	}
	delete(b.slot, e)
	last := len(b.members) - 1
	if i != last {
		b.members[i] = b.members[last]
		b.slot[b.members[i].Entity] = i
	}
	b.members[last] = Member{}
	b.members = b.members[:last]
}

func (b *BruteForce) FindNeighbors(dst []Member, self ecs.Entity, pos r2.Vec, selfRadius, radius float64) []Member {
	dst = dst[:0]
	for i := range b.members {
		m := &b.members[i]
		if m.Entity == self {
			continue
		}
		if isNeighbor(pos, selfRadius, radius, m) {
			dst = append(dst, *m)
		}
	}
	return dst
}

func (b *BruteForce) Len() int {
	return len(b.members)
}
