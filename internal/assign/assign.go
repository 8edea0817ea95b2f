// Package assign maps feature-grid points to ground-truth instances and
// produces the dense per-point classification, box-regression, polar
// mask, and centerness targets consumed by the loss stage.
package assign

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/MeKo-Tech/fournet/internal/geometry"
	"github.com/MeKo-Tech/fournet/internal/grid"
	"github.com/MeKo-Tech/fournet/internal/polar"
)

// inf marks candidates excluded by the inclusion or range tests during
// min-area conflict resolution.
const inf = math.MaxFloat64

// Instance is one ground-truth object. Instances are read-only inputs
// and may be shared across concurrent assignments.
type Instance struct {
	Label         int              // class id, must be > 0
	Box           geometry.Box     // axis-aligned bounds
	Contour       []geometry.Point // silhouette boundary points
	Center        geometry.Point   // declared (mask) center
	MaxCenterness float64          // optional centerness normalizer, 0 = unset
}

// RegressRange is the span of box-edge distances one pyramid level is
// responsible for. Both ends are inclusive.
type RegressRange struct {
	Min float64
	Max float64
}

// Config controls assignment behavior. The representation of mask
// targets (raw angular vs. Fourier) is a head concern; the assigner
// always emits raw angular signals.
type Config struct {
	ContourPoints        int            // angle bins per mask target
	RegressRanges        []RegressRange // one per pyramid level
	CenterSample         bool           // restrict positives to a shrunken center region
	UseMaskCenter        bool           // center the shrunken region on Instance.Center instead of the box center
	Radius               float64        // shrunken region half-width in strides
	NormalizedCenterness bool           // divide centerness by Instance.MaxCenterness
	Workers              int            // parallel workers, 0 = GOMAXPROCS
}

// Targets is the flat assignment result for one image. All slices are
// indexed by flat grid point index.
type Targets struct {
	Labels      []int          // 0 = background, else instance class id
	Boxes       [][4]float64   // left, top, right, bottom distances to the assigned box
	Masks       []polar.Signal // angular mask targets, zero-filled for background points
	Centerness  []float64      // scalar in (0,1] for positives, 0 for background
	InstanceIdx []int          // index of the assigned instance, -1 for background
}

// NumPositive returns the number of points assigned to an instance.
func (t *Targets) NumPositive() int {
	n := 0
	for _, l := range t.Labels {
		if l != 0 {
			n++
		}
	}
	return n
}

// Assigner computes per-point targets for a fixed configuration.
type Assigner struct {
	cfg     Config
	sampler *polar.Sampler
}

// New validates cfg and builds an assigner.
func New(cfg Config) (*Assigner, error) {
	sampler, err := polar.NewSampler(cfg.ContourPoints)
	if err != nil {
		return nil, err
	}
	if len(cfg.RegressRanges) == 0 {
		return nil, fmt.Errorf("assign: no regression ranges configured")
	}
	for i, rr := range cfg.RegressRanges {
		if rr.Max < rr.Min {
			return nil, fmt.Errorf("assign: regression range %d inverted: [%v,%v]", i, rr.Min, rr.Max)
		}
	}
	if cfg.CenterSample && cfg.Radius <= 0 {
		return nil, fmt.Errorf("assign: center sampling requires a positive radius, got %v", cfg.Radius)
	}
	return &Assigner{cfg: cfg, sampler: sampler}, nil
}

// Assign computes targets for every grid point against the given
// instances. The level count of g must match the configured regression
// ranges. Zero instances yield all-background targets; an instance that
// passes no test anywhere simply contributes no positives.
func (a *Assigner) Assign(g *grid.Grid, instances []Instance) (*Targets, error) {
	if g.NumLevels() != len(a.cfg.RegressRanges) {
		return nil, fmt.Errorf("assign: grid has %d levels, config has %d regression ranges",
			g.NumLevels(), len(a.cfg.RegressRanges))
	}

	numPoints := g.NumPoints()
	n := a.cfg.ContourPoints
	t := &Targets{
		Labels:      make([]int, numPoints),
		Boxes:       make([][4]float64, numPoints),
		Masks:       make([]polar.Signal, numPoints),
		Centerness:  make([]float64, numPoints),
		InstanceIdx: make([]int, numPoints),
	}
	// One flat backing array keeps background rows zero-valued without
	// per-point allocations.
	backing := make([]float64, numPoints*n)
	for i := range t.Masks {
		t.Masks[i] = backing[i*n : (i+1)*n]
		t.InstanceIdx[i] = -1
	}
	if len(instances) == 0 {
		return t, nil
	}

	areas := make([]float64, len(instances))
	for i, inst := range instances {
		areas[i] = inst.Box.Area()
	}

	// Per-point regression range, expanded from per-level config.
	ranges := make([]RegressRange, numPoints)
	for li := range g.NumLevels() {
		begin, end := g.LevelRange(li)
		for p := begin; p < end; p++ {
			ranges[p] = a.cfg.RegressRanges[li]
		}
	}

	// Each worker owns a disjoint range of point indices, so output
	// slots are written race-free.
	workers := a.cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > numPoints {
		workers = numPoints
	}
	chunk := (numPoints + workers - 1) / workers

	var wg sync.WaitGroup
	for w := range workers {
		begin := w * chunk
		end := min(begin+chunk, numPoints)
		if begin >= end {
			break
		}
		wg.Add(1)
		go func(begin, end int) {
			defer wg.Done()
			for p := begin; p < end; p++ {
				a.assignPoint(g, instances, areas, ranges[p], p, t)
			}
		}(begin, end)
	}
	wg.Wait()

	return t, nil
}

// assignPoint resolves one grid point against all instances and fills
// its output slots.
func (a *Assigner) assignPoint(g *grid.Grid, instances []Instance, areas []float64,
	rr RegressRange, p int, t *Targets,
) {
	pt := g.Point(p)
	stride := g.Stride(p)

	best := -1
	bestArea := inf
	var bestDists [4]float64
	for i, inst := range instances {
		left := pt.X - inst.Box.MinX
		top := pt.Y - inst.Box.MinY
		right := inst.Box.MaxX - pt.X
		bottom := inst.Box.MaxY - pt.Y

		if !a.inside(pt, inst, stride) {
			continue
		}
		maxDist := math.Max(math.Max(left, right), math.Max(top, bottom))
		if maxDist < rr.Min || maxDist > rr.Max {
			continue
		}
		// Minimum area wins; ties keep the earlier instance.
		if areas[i] < bestArea {
			bestArea = areas[i]
			best = i
			bestDists = [4]float64{left, top, right, bottom}
		}
	}
	if best < 0 {
		return
	}

	inst := instances[best]
	t.Labels[p] = inst.Label
	t.Boxes[p] = bestDists
	t.InstanceIdx[p] = best

	// The mask target is sampled around the grid point itself, not the
	// instance center, so the prediction at this point regresses its own
	// silhouette distances.
	sig := t.Masks[p]
	a.sampler.SampleInto(sig, inst.Contour, pt)
	if a.cfg.NormalizedCenterness {
		t.Centerness[p] = polar.NormalizedCenterness(sig, inst.MaxCenterness)
	} else {
		t.Centerness[p] = polar.Centerness(sig)
	}
}

// inside applies the inclusion test: either the full box, or, with
// center sampling, the per-level shrunken region of half-width
// stride*radius around the instance center intersected with its box.
func (a *Assigner) inside(pt geometry.Point, inst Instance, stride int) bool {
	if !a.cfg.CenterSample {
		return inst.Box.Contains(pt)
	}
	center := inst.Box.Center()
	if a.cfg.UseMaskCenter {
		center = inst.Center
	}
	half := float64(stride) * a.cfg.Radius
	region := geometry.Box{
		MinX: center.X - half,
		MinY: center.Y - half,
		MaxX: center.X + half,
		MaxY: center.Y + half,
	}.Intersect(inst.Box)
	return region.Contains(pt)
}
