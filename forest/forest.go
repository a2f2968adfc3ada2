package forest

import (
	"fmt"
	"math"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/ehs-analytics/renalstat/dataset"
)

// EmptyDatasetError indicates that the dataset is too small for the
// requested tree parameters.
type EmptyDatasetError struct {

	// NumObs is the number of rows available.
	NumObs int

	// MinLeaf is the requested minimum leaf size.
	MinLeaf int
}

func (e *EmptyDatasetError) Error() string {
	return fmt.Sprintf("forest: %d observations cannot support trees with minimum leaf size %d (need at least %d)",
		e.NumObs, e.MinLeaf, 2*e.MinLeaf)
}

// Config controls forest training.
type Config struct {

	// NumTrees is the number of bagged trees; defaults to 300.
	NumTrees int

	// MaxFeatures is the number of features drawn at random at each
	// split; defaults to max(1, p/3).
	MaxFeatures int

	// MinLeaf is the minimum number of training rows in each leaf;
	// defaults to 5.
	MinLeaf int

	// MaxDepth limits tree depth; <= 0 grows full trees subject to
	// MinLeaf.
	MaxDepth int

	// Seed is the root seed of the ensemble.  Identical seed, data and
	// configuration produce bit-identical forests.
	Seed int64

	// Workers bounds concurrent tree construction; defaults to
	// runtime.NumCPU().
	Workers int

	// Features restricts the model to the named columns.  When empty,
	// every column other than the outcome is used.
	Features []string
}

// Forest is a trained ensemble of regression trees.  It is immutable
// once training completes; prediction and interpretation queries may run
// concurrently.
type Forest struct {
	trees []*Tree

	// boot[i] and oob[i] are the bootstrap sample and the out-of-bag
	// rows of tree i.
	boot [][]int
	oob  [][]int

	seed    int64
	cfg     treeConfig
	outcome string

	features []string
	x        [][]float64
	y        []float64
}

// splitmix64 is the SplitMix64 finalizer, used to derive well-mixed
// tree-local seeds from (root seed, tree index).
func splitmix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// subSeed returns the deterministic seed for tree k.
func subSeed(seed int64, k int) int64 {
	return int64(splitmix64(uint64(seed) + 0x9e3779b97f4a7c15*uint64(k+1)))
}

// Train grows a bagged regression forest for the named outcome column.
// Trees are mutually independent given their derived sub-seeds and are
// grown in parallel.
func Train(ds *dataset.Dataset, outcome string, cfg Config) (*Forest, error) {

	ypos, ok := ds.Pos(outcome)
	if !ok {
		return nil, &dataset.DataError{Op: "forest.Train", Column: outcome, Row: -1, Msg: "outcome variable not found"}
	}

	var features []string
	var x [][]float64
	if len(cfg.Features) > 0 {
		for _, na := range cfg.Features {
			j, ok := ds.Pos(na)
			if !ok {
				return nil, &dataset.DataError{Op: "forest.Train", Column: na, Row: -1, Msg: "feature variable not found"}
			}
			if na == outcome {
				return nil, &dataset.DataError{Op: "forest.Train", Column: na, Row: -1, Msg: "outcome cannot be a feature"}
			}
			features = append(features, na)
			x = append(x, ds.ColumnAt(j))
		}
	} else {
		for _, na := range ds.Names() {
			if na == outcome {
				continue
			}
			j, _ := ds.Pos(na)
			features = append(features, na)
			x = append(x, ds.ColumnAt(j))
		}
	}
	if len(features) == 0 {
		return nil, &dataset.DataError{Op: "forest.Train", Row: -1, Msg: "no feature columns"}
	}

	ntree := cfg.NumTrees
	if ntree <= 0 {
		ntree = 300
	}
	minLeaf := cfg.MinLeaf
	if minLeaf <= 0 {
		minLeaf = 5
	}
	maxFeat := cfg.MaxFeatures
	if maxFeat <= 0 {
		maxFeat = len(features) / 3
		if maxFeat < 1 {
			maxFeat = 1
		}
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	n := ds.NumObs()
	if n < 2*minLeaf {
		return nil, &EmptyDatasetError{NumObs: n, MinLeaf: minLeaf}
	}

	tcfg := treeConfig{
		maxFeatures: maxFeat,
		minLeaf:     minLeaf,
		maxDepth:    cfg.MaxDepth,
	}

	f := &Forest{
		trees:    make([]*Tree, ntree),
		boot:     make([][]int, ntree),
		oob:      make([][]int, ntree),
		seed:     cfg.Seed,
		cfg:      tcfg,
		outcome:  outcome,
		features: features,
		x:        x,
		y:        ds.ColumnAt(ypos),
	}

	// Each tree draws its bootstrap sample and grows from its own
	// generator, so results do not depend on scheduling.  Completing
	// the loop is the synchronization barrier that freezes the forest.
	var eg errgroup.Group
	eg.SetLimit(workers)
	for k := 0; k < ntree; k++ {
		k := k
		eg.Go(func() error {
			rng := rand.New(rand.NewSource(subSeed(f.seed, k)))

			inbag := make([]bool, n)
			boot := make([]int, n)
			for i := range boot {
				r := rng.Intn(n)
				boot[i] = r
				inbag[r] = true
			}
			var oob []int
			for i := 0; i < n; i++ {
				if !inbag[i] {
					oob = append(oob, i)
				}
			}

			f.trees[k] = growTree(f.x, f.y, boot, tcfg, rng)
			f.boot[k] = boot
			f.oob[k] = oob
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return f, nil
}

// NumTrees returns the number of trees in the forest.
func (f *Forest) NumTrees() int {
	return len(f.trees)
}

// Seed returns the root training seed.
func (f *Forest) Seed() int64 {
	return f.seed
}

// Features returns the feature names in model column order.  The
// returned slice must not be modified.
func (f *Forest) Features() []string {
	return f.features
}

// FeatureIndex returns the model column of the named feature, and
// whether the feature is part of the model.
func (f *Forest) FeatureIndex(name string) (int, bool) {
	for j, na := range f.features {
		if na == name {
			return j, true
		}
	}
	return 0, false
}

// FeatureValues returns the training values of feature column j.  The
// returned slice must not be modified.
func (f *Forest) FeatureValues(j int) []float64 {
	return f.x[j]
}

// Predict returns the ensemble prediction for a row of feature values in
// model column order: the mean of all trees' leaf outputs.
func (f *Forest) Predict(row []float64) float64 {
	var s float64
	for _, t := range f.trees {
		s += t.Predict(row)
	}
	return s / float64(len(f.trees))
}

// PredictCols returns ensemble predictions for every row of the
// column-major feature matrix cols, which must be in model column order.
func (f *Forest) PredictCols(cols [][]float64) []float64 {
	n := len(cols[0])
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		var s float64
		for _, t := range f.trees {
			s += t.predict(func(j int) float64 { return cols[j][i] })
		}
		out[i] = s / float64(len(f.trees))
	}
	return out
}

// OOBError returns the mean squared out-of-bag prediction error: each
// row is predicted using only the trees for which it was out of bag.
// Rows that are in-bag for every tree are skipped.
func (f *Forest) OOBError() float64 {

	n := len(f.y)
	sum := make([]float64, n)
	cnt := make([]int, n)

	for k, t := range f.trees {
		for _, i := range f.oob[k] {
			sum[i] += t.predict(func(j int) float64 { return f.x[j][i] })
			cnt[i]++
		}
	}

	var mse float64
	var m int
	for i := 0; i < n; i++ {
		if cnt[i] == 0 {
			continue
		}
		r := sum[i]/float64(cnt[i]) - f.y[i]
		mse += r * r
		m++
	}
	if m == 0 {
		return math.NaN()
	}
	return mse / float64(m)
}
