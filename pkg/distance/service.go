package distance

import (
	"cmp"
	"math"
	"slices"
	"sync"

	"github.com/hed1ad/goguardlof/pkg/dataset"
)

// Neighbor is a candidate row together with its distance to the query point.
type Neighbor struct {
	Row      *dataset.Row
	Distance float64
}

// Service answers distance and neighbor queries against a single frame.
// It is safe for concurrent use as long as the frame is not mutated.
type Service struct {
	frame   dataset.Frame
	measure Measure
	limit   int
	slots   []slot
}

// Option configures a Service.
type Option func(*Service)

// WithNeighborLimit keeps at most n neighbors in each row's memo. Queries
// for more than n neighbors are answered with a fresh scan. n <= 0 keeps all.
func WithNeighborLimit(n int) Option {
	return func(s *Service) {
		s.limit = n
	}
}

// slot memoises the sorted neighbor list of one in-frame row.
type slot struct {
	once      sync.Once
	neighbors []Neighbor
	panicked  any
}

// New binds a service to frame. A nil measure selects Euclidean.
func New(frame dataset.Frame, measure Measure, opts ...Option) *Service {
	if measure == nil {
		measure = Euclidean
	}
	s := &Service{
		frame:   frame,
		measure: measure,
		slots:   make([]slot, frame.Len()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Frame returns the frame the service searches.
func (s *Service) Frame() dataset.Frame {
	return s.frame
}

// Distance returns the distance between p and o.
func (s *Service) Distance(p, o *dataset.Row) float64 {
	return s.measure(p, o)
}

// KNearestNeighbors returns the min(k, m-1) rows closest to p, excluding p
// itself, in ascending distance order. Ties keep frame order and NaN
// distances sort last. Only a row owned by the frame is excluded; any other
// row is searched against the whole frame. The returned slice is shared and
// must not be modified.
func (s *Service) KNearestNeighbors(p *dataset.Row, k int) []Neighbor {
	if k < 0 {
		k = 0
	}
	all := s.neighbors(p, k)
	if k > len(all) {
		k = len(all)
	}
	return all[:k:k]
}

// KthNearestNeighbor returns the k-th (1-based) nearest neighbor of p. When
// k exceeds the available neighbors the farthest one is returned. ok is
// false only when p has no neighbors at all.
func (s *Service) KthNearestNeighbor(p *dataset.Row, k int) (Neighbor, bool) {
	if k < 1 {
		k = 1
	}
	all := s.neighbors(p, k)
	if len(all) == 0 {
		return Neighbor{}, false
	}
	if k > len(all) {
		k = len(all)
	}
	return all[k-1], true
}

// owns reports whether p is the frame's own row at p.Index.
func (s *Service) owns(p *dataset.Row) bool {
	return p.Index >= 0 && p.Index < len(s.slots) && s.frame.Row(p.Index) == p
}

// neighbors returns at least the k nearest neighbors of p, memoised for
// rows owned by the frame.
func (s *Service) neighbors(p *dataset.Row, k int) []Neighbor {
	if !s.owns(p) || (s.limit > 0 && k > s.limit) {
		return s.scan(p)
	}

	sl := &s.slots[p.Index]
	sl.once.Do(func() {
		defer func() {
			if r := recover(); r != nil {
				sl.panicked = r
			}
		}()
		all := s.scan(p)
		if s.limit > 0 && len(all) > s.limit {
			all = slices.Clone(all[:s.limit])
		}
		sl.neighbors = all
	})
	if sl.panicked != nil {
		panic(sl.panicked)
	}
	return sl.neighbors
}

// scan measures p against every other row and sorts stably by distance.
func (s *Service) scan(p *dataset.Row) []Neighbor {
	m := s.frame.Len()
	out := make([]Neighbor, 0, m)
	for i := 0; i < m; i++ {
		o := s.frame.Row(i)
		if o == p {
			continue
		}
		out = append(out, Neighbor{Row: o, Distance: s.measure(p, o)})
	}

	slices.SortStableFunc(out, byDistance)
	return out
}

// byDistance orders ascending with NaN last.
func byDistance(a, b Neighbor) int {
	aNaN, bNaN := math.IsNaN(a.Distance), math.IsNaN(b.Distance)
	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return 1
	case bNaN:
		return -1
	}
	return cmp.Compare(a.Distance, b.Distance)
}
