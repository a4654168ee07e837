package lof

import (
	"math"

	"github.com/hed1ad/goguardlof/pkg/dataset"
	"github.com/hed1ad/goguardlof/pkg/distance"
)

// Scorer computes local outlier factors against the frame of a distance service.
type Scorer struct {
	svc *distance.Service
}

// NewScorer returns a scorer backed by svc.
func NewScorer(svc *distance.Service) *Scorer {
	return &Scorer{svc: svc}
}

// KDistance is the distance from o to its k-th nearest neighbor.
func (s *Scorer) KDistance(o *dataset.Row, k int) float64 {
	kth, ok := s.svc.KthNearestNeighbor(o, k)
	if !ok {
		return math.NaN()
	}
	return kth.Distance
}

// ReachabilityDistance is max(k-distance(o), d(p, o)). It is asymmetric.
func (s *Scorer) ReachabilityDistance(p, o *dataset.Row, k int) float64 {
	return math.Max(s.KDistance(o, k), s.svc.Distance(p, o))
}

// LocalReachabilityDensity is the inverse of the mean reachability distance
// from p to its k nearest neighbors. It is +Inf when p coincides with all of them.
func (s *Scorer) LocalReachabilityDensity(p *dataset.Row, k int) float64 {
	return s.lrd(p, k, s.svc.KNearestNeighbors(p, k))
}

func (s *Scorer) lrd(p *dataset.Row, k int, knn []distance.Neighbor) float64 {
	var sum float64
	for _, o := range knn {
		sum += s.ReachabilityDistance(p, o.Row, k)
	}
	return 1 / (sum / float64(len(knn)))
}

// LocalOutlierFactor is the mean density of p's k neighbors divided by the
// density of p. Values near 1 mean p is as dense as its neighbors, larger
// values mean it is sparser.
//
// When p sits in a cluster of exact duplicates both densities are infinite;
// the result is then 1/|neighbors| instead of NaN.
func (s *Scorer) LocalOutlierFactor(p *dataset.Row, k int) float64 {
	knn := s.svc.KNearestNeighbors(p, k)
	lrdP := s.lrd(p, k, knn)

	var sumLRD float64
	for _, o := range knn {
		sumLRD += s.LocalReachabilityDensity(o.Row, k)
	}

	n := float64(len(knn))
	if math.IsInf(sumLRD, 0) && math.IsInf(lrdP, 0) {
		return 1 / n
	}
	return (sumLRD / lrdP) / n
}

// ScoreForPoint is the maximum LOF of p over k in [lb, ub], skipping NaN.
// It returns -Inf when every k yields NaN.
func (s *Scorer) ScoreForPoint(p *dataset.Row, lb, ub int) float64 {
	score := math.Inf(-1)
	for k := lb; k <= ub; k++ {
		score = maxLOF(score, s.LocalOutlierFactor(p, k))
	}
	return score
}

func maxLOF(acc, lof float64) float64 {
	if math.IsNaN(lof) {
		return acc
	}
	return math.Max(acc, lof)
}
