package rankcache

import (
	"context"
	"math"
	"math/rand/v2"
	"sync/atomic"

	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/internal/domain/types"
)

// Treap ordered by (score DESC, id ASC); in-order traversal yields the leaderboard.
// Nodes carry subtree sizes so rank lookups are O(log n).
type node struct {
	id    string
	score float64
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

func rotateRight(y *node) *node {
	x := y.left
	t2 := x.right
	x.right = y
	y.left = t2
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	t2 := y.left
	y.left = x
	x.right = t2
	fix(x)
	fix(y)
	return y
}

func insert(n *node, id string, score float64, prio uint64) *node {
	if n == nil {
		return &node{id: id, score: score, prio: prio, size: 1}
	}
	if before(score, id, n.score, n.id) {
		n.left = insert(n.left, id, score, prio)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, id, score, prio)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, id string, score float64) *node {
	if n == nil {
		return nil
	}
	if score == n.score && id == n.id {
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, id, score)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, id, score)
		}
	} else if before(score, id, n.score, n.id) {
		n.left = deleteNode(n.left, id, score)
	} else {
		n.right = deleteNode(n.right, id, score)
	}
	fix(n)
	return n
}

// collectTopN appends up to limit entries in rank order.
func collectTopN(n *node, limit int, out *[]types.Entry) {
	if n == nil || len(*out) >= limit {
		return
	}
	collectTopN(n.left, limit, out)
	if len(*out) < limit {
		*out = append(*out, types.Entry{Rank: len(*out) + 1, OwnerID: n.id, Score: n.score})
	}
	if len(*out) < limit {
		collectTopN(n.right, limit, out)
	}
}

// position returns the 1-based rank of (id, score).
func position(n *node, id string, score float64) int {
	pos := 0
	for n != nil {
		switch {
		case n.id == id && n.score == score:
			return pos + nsize(n.left) + 1
		case before(score, id, n.score, n.id):
			n = n.left
		default:
			pos += nsize(n.left) + 1
			n = n.right
		}
	}
	return 0
}

// image is an immutable ranking snapshot.
type image struct {
	root *node
	byID map[string]float64
}

// TreapSet is an in-process SortedSet. Replace builds a fresh treap and swaps it in,
// so reads never take a lock.
type TreapSet struct {
	current atomic.Pointer[image]
}

// NewTreapSet returns an empty set.
func NewTreapSet() *TreapSet {
	s := &TreapSet{}
	s.current.Store(&image{byID: map[string]float64{}})
	return s
}

// Replace implements SortedSet. NaN scores are skipped; a repeated owner keeps its last score.
func (s *TreapSet) Replace(_ context.Context, entries []model.RankingEntry) error {
	img := &image{byID: make(map[string]float64, len(entries))}
	for _, e := range entries {
		if math.IsNaN(e.Score) {
			continue
		}
		if old, ok := img.byID[e.OwnerID]; ok {
			img.root = deleteNode(img.root, e.OwnerID, old)
		}
		img.byID[e.OwnerID] = e.Score
		img.root = insert(img.root, e.OwnerID, e.Score, rand.Uint64())
	}
	s.current.Store(img)
	return nil
}

// TopN implements SortedSet.
func (s *TreapSet) TopN(_ context.Context, n int) ([]types.Entry, error) {
	if n < 1 {
		return nil, ErrInvalidLimit
	}
	img := s.current.Load()
	out := make([]types.Entry, 0, min(n, len(img.byID)))
	collectTopN(img.root, n, &out)
	return out, nil
}

// Rank implements SortedSet.
func (s *TreapSet) Rank(_ context.Context, ownerID string) (types.Entry, error) {
	img := s.current.Load()
	score, ok := img.byID[ownerID]
	if !ok {
		return types.Entry{}, ErrNotFound
	}
	return types.Entry{Rank: position(img.root, ownerID, score), OwnerID: ownerID, Score: score}, nil
}

// Count implements SortedSet.
func (s *TreapSet) Count(_ context.Context) (int, error) {
	return len(s.current.Load().byID), nil
}
