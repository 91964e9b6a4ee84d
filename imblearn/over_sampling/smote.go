// Package over_sampling implements synthetic minority oversampling (SMOTE)
// for rebalancing classification training sets.
package over_sampling

import (
	"math/rand/v2"
	"sort"
	"strconv"
	"time"

	"github.com/YuminosukeSato/imbalanced/pkg/errors"
	"github.com/YuminosukeSato/imbalanced/pkg/log"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// SMOTE oversamples every non-majority class up to the majority count by
// interpolating between a class member and one of its k nearest same-class
// neighbours.
type SMOTE struct {
	kNeighbors  int
	randomState int64
}

// SMOTEOption is a functional option for SMOTE
type SMOTEOption func(*SMOTE)

// NewSMOTE creates a SMOTE resampler with k=5 neighbours and seed 42 unless overridden
func NewSMOTE(opts ...SMOTEOption) *SMOTE {
	s := &SMOTE{
		kNeighbors:  5,
		randomState: 42,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithKNeighbors sets the number of nearest neighbours used to build synthetic samples
func WithKNeighbors(k int) SMOTEOption {
	return func(s *SMOTE) {
		s.kNeighbors = k
	}
}

// WithRandomState sets the random seed
func WithRandomState(seed int64) SMOTEOption {
	return func(s *SMOTE) {
		s.randomState = seed
	}
}

// GetParams returns the resampler hyperparameters
func (s *SMOTE) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"k_neighbors":  s.kNeighbors,
		"random_state": s.randomState,
	}
}

// FitResample returns a new training set made of the original rows followed by
// the synthetic rows of each oversampled class, in ascending class order.
// X and y are not modified. Each call reseeds, so repeated calls on the same
// input return identical output.
func (s *SMOTE) FitResample(X, y mat.Matrix) (*mat.Dense, *mat.Dense, error) {
	start := time.Now()
	nSamples, nFeatures := X.Dims()
	if nSamples == 0 {
		return nil, nil, errors.Wrap(errors.ErrEmptyData, "SMOTE.FitResample")
	}
	if yRows, yCols := y.Dims(); yRows != nSamples || yCols != 1 {
		return nil, nil, errors.NewDimensionError("SMOTE.FitResample", nSamples, yRows, 0)
	}
	if s.kNeighbors < 1 {
		return nil, nil, errors.NewValidationError("k_neighbors", "must be at least 1", s.kNeighbors)
	}

	classes, groups := groupByClass(y)
	if len(classes) < 2 {
		return nil, nil, errors.NewValidationError("y", "SMOTE needs at least two classes", len(classes))
	}

	majority := 0
	for _, c := range classes {
		if n := len(groups[c]); n > majority {
			majority = n
		}
	}
	for _, c := range classes {
		if n := len(groups[c]); n < majority && n < s.kNeighbors+1 {
			return nil, nil, errors.NewInsufficientSamplesError("SMOTE.FitResample", c, n, s.kNeighbors+1)
		}
	}

	rng := rand.New(rand.NewPCG(uint64(s.randomState), uint64(s.randomState)))

	XRes := mat.NewDense(nSamples, nFeatures, nil)
	XRes.Copy(X)
	yRes := mat.NewDense(nSamples, 1, nil)
	yRes.Copy(y)

	counts := make(map[string]int, len(classes))
	synthetic := 0
	for _, c := range classes {
		rows := groups[c]
		nNew := majority - len(rows)
		counts[strconv.FormatFloat(c, 'g', -1, 64)] = majority
		if nNew == 0 {
			continue
		}

		XNew := s.generate(X, rows, nNew, rng)
		XRes = stack(XRes, XNew)
		labels := make([]float64, nNew)
		for i := range labels {
			labels[i] = c
		}
		yRes = stack(yRes, mat.NewDense(nNew, 1, labels))
		synthetic += nNew
	}

	log.GetLoggerWithName("over_sampling").Info("Resampled training set",
		log.ModelNameKey, "SMOTE",
		log.OperationKey, log.OperationFitResample,
		log.SamplesKey, nSamples+synthetic,
		log.FeaturesKey, nFeatures,
		log.SyntheticSamplesKey, synthetic,
		log.ClassCountsKey, counts,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return XRes, yRes, nil
}

// generate builds nNew synthetic rows for the class made of rows.
// Base rows and neighbours are drawn first, then the interpolation steps.
func (s *SMOTE) generate(X mat.Matrix, rows []int, nNew int, rng *rand.Rand) *mat.Dense {
	_, nFeatures := X.Dims()
	neighbours := nearestNeighbours(X, rows, s.kNeighbors)

	picks := make([]int, nNew)
	for i := range picks {
		picks[i] = rng.IntN(len(rows) * s.kNeighbors)
	}
	steps := make([]float64, nNew)
	for i := range steps {
		steps[i] = rng.Float64()
	}

	out := mat.NewDense(nNew, nFeatures, nil)
	for i, pick := range picks {
		base := pick / s.kNeighbors
		nn := neighbours[base][pick%s.kNeighbors]
		for j := 0; j < nFeatures; j++ {
			xi := X.At(rows[base], j)
			out.Set(i, j, xi+steps[i]*(X.At(rows[nn], j)-xi))
		}
	}
	return out
}

// nearestNeighbours returns, for each position p in rows, the positions of the
// k nearest other members of rows ordered by distance. Ties are broken by position.
func nearestNeighbours(X mat.Matrix, rows []int, k int) [][]int {
	points := make(kdtree.Points, len(rows))
	position := make(map[*float64]int, len(rows))
	for p, r := range rows {
		points[p] = mat.Row(nil, r, X)
		position[&points[p][0]] = p
	}
	query := make([]kdtree.Point, len(points))
	copy(query, points)
	tree := kdtree.New(points, false)

	type candidate struct {
		pos  int
		dist float64
	}
	result := make([][]int, len(rows))
	for p, q := range query {
		keeper := kdtree.NewNKeeper(k + 1)
		tree.NearestSet(keeper, q)

		found := make([]candidate, 0, k+1)
		for _, c := range keeper.Heap {
			if c.Comparable == nil {
				continue
			}
			pt := c.Comparable.(kdtree.Point)
			found = append(found, candidate{pos: position[&pt[0]], dist: c.Dist})
		}
		sort.Slice(found, func(a, b int) bool {
			if found[a].dist != found[b].dist {
				return found[a].dist < found[b].dist
			}
			return found[a].pos < found[b].pos
		})

		nn := make([]int, 0, k)
		for _, c := range found {
			if c.pos != p && len(nn) < k {
				nn = append(nn, c.pos)
			}
		}
		result[p] = nn
	}
	return result
}

// groupByClass returns the sorted distinct labels of y and the rows of each
func groupByClass(y mat.Matrix) ([]float64, map[float64][]int) {
	n, _ := y.Dims()
	groups := make(map[float64][]int)
	for i := 0; i < n; i++ {
		groups[y.At(i, 0)] = append(groups[y.At(i, 0)], i)
	}
	classes := make([]float64, 0, len(groups))
	for c := range groups {
		classes = append(classes, c)
	}
	sort.Float64s(classes)
	return classes, groups
}

func stack(a, b *mat.Dense) *mat.Dense {
	ar, c := a.Dims()
	br, _ := b.Dims()
	out := mat.NewDense(ar+br, c, nil)
	out.Stack(a, b)
	return out
}
