package registration

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ViewStore supplies views, interest points and registrations to a run and
// receives its results. Reads happen before matching starts; writes only
// after every subset has finished.
type ViewStore interface {
	ViewDescriptions() []ViewDescription
	Points(v ViewID, label string) ([]InterestPoint, bool)
	PointList(v ViewID, label string) *InterestPointList
	Registration(v ViewID) ViewRegistration
	SetRegistration(r ViewRegistration)
}

// Registration registers the views of a store against each other.
type Registration struct {
	cfg    *Config
	store  ViewStore
	logger *zap.SugaredLogger
	method PairwiseMatching
}

// NewRegistration validates cfg and prepares a run.
func NewRegistration(cfg *Config, store ViewStore, logger *zap.SugaredLogger) (*Registration, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return &Registration{
		cfg:    cfg,
		store:  store,
		logger: nopIfNil(logger),
		method: NewPairwiseMatching(cfg.Matching),
	}, nil
}

type subsetOutcome struct {
	subset      *Subset
	results     []PairwiseResult
	viewMatches map[ViewPair][]PointMatch
	corrections map[ViewID]AffineTransform
	opt         GlobalOptResult
	complete    bool
	err         error
}

// plan is the part of a run that precedes matching.
type plan struct {
	views   []ViewID
	world   map[ViewID][]InterestPoint
	priors  map[ViewID]AffineTransform
	sizes   map[ViewID]ViewDescription
	skipped int
	removed int
	setup   *PairwiseSetup
}

// prepare reads the selected views from the store, defines the pairs and
// subsets and fixes views per subset.
func (r *Registration) prepare() (*plan, error) {
	descs := r.selectViews()
	p := &plan{
		world:  make(map[ViewID][]InterestPoint, len(descs)),
		priors: make(map[ViewID]AffineTransform, len(descs)),
		sizes:  make(map[ViewID]ViewDescription, len(descs)),
	}
	for _, d := range descs {
		points, ok := r.store.Points(d.ID, r.cfg.Label)
		if !ok || len(points) == 0 {
			r.logger.Warnf("[SETUP] %s has no interest points for label %q, skipping", d.ID, r.cfg.Label)
			p.skipped++
			continue
		}
		prior := r.store.Registration(d.ID).Model()
		p.priors[d.ID] = prior
		p.sizes[d.ID] = d
		p.world[d.ID] = TransformInterestPoints(points, prior)
		p.views = append(p.views, d.ID)
	}
	if len(p.views) == 0 {
		return p, errors.Wrapf(ErrInsufficientData, "no view has interest points for label %q", r.cfg.Label)
	}

	var groups []Group
	if r.cfg.Grouping.Mode == GroupingAddAll {
		groups = r.cfg.Grouping.Groups
	}
	setup, err := NewPairwiseSetup(p.views, groups, r.cfg.Setup)
	if err != nil {
		return p, err
	}
	var detector OverlapDetector = AllOverlap{}
	if r.cfg.Overlap == OverlapBoundingBox {
		present := make([]ViewDescription, 0, len(p.views))
		for _, v := range p.views {
			present = append(present, p.sizes[v])
		}
		detector = NewBoundingBoxOverlap(present, func(v ViewID) AffineTransform { return p.priors[v] })
	}
	redundant, nonOverlapping := setup.Run(detector)
	p.removed = len(redundant) + len(nonOverlapping)

	defaults := setup.DefaultFixedViews()
	for _, subset := range setup.Subsets {
		fixed := SelectFixedViews(subset, r.cfg.FixViews, r.cfg.FixedViews, defaults)
		p.removed += len(subset.FixViews(fixed))
	}
	r.logger.Infof("[SETUP] %d views, %d pairs (%d redundant, %d without overlap removed), %d subsets",
		len(p.views), len(setup.Pairs), len(redundant), len(nonOverlapping), len(setup.Subsets))
	p.setup = setup
	return p, nil
}

// Plan returns the pairs and subsets a run would use, with fixed views
// selected, without matching anything.
func (r *Registration) Plan() (*PairwiseSetup, error) {
	p, err := r.prepare()
	if err != nil {
		return nil, err
	}
	return p.setup, nil
}

// Run matches, optimizes and stores every subset. A subset is stored
// completely or not at all. The report is returned even when subsets fail;
// the error is only set when nothing could be started or the context was
// cancelled.
func (r *Registration) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		Started: time.Now(),
		Label:   r.cfg.Label,
		Method:  r.method.Name(),
		Model:   r.cfg.Matching.Model,
	}

	p, err := r.prepare()
	report.Views = len(p.views)
	report.SkippedViews = p.skipped
	report.RemovedPairs = p.removed
	if err != nil {
		report.Finish()
		return report, err
	}

	outcomes := make([]subsetOutcome, len(p.setup.Subsets))
	var g errgroup.Group
	for i, subset := range p.setup.Subsets {
		g.Go(func() error {
			outcomes[i] = r.solveSubset(ctx, i, subset, p)
			return nil
		})
	}
	_ = g.Wait()

	storeWriter{r.store}.apply(r, outcomes, report)
	report.Finish()

	if err := ctx.Err(); err != nil {
		report.Cancelled = true
		r.logger.Warnf("[REGISTER] cancelled, %d of %d subsets applied", countApplied(report), len(outcomes))
		return report, err
	}
	r.logger.Infof("[REGISTER] done in %v: %d of %d subsets applied, %d failed",
		report.Duration, countApplied(report), len(outcomes), report.Failed)
	return report, nil
}

func (r *Registration) selectViews() []ViewDescription {
	all := r.store.ViewDescriptions()
	if len(r.cfg.Views) == 0 {
		return all
	}
	wanted := make(map[ViewID]bool, len(r.cfg.Views))
	for _, v := range r.cfg.Views {
		wanted[v] = true
	}
	var out []ViewDescription
	for _, d := range all {
		if wanted[d.ID] {
			out = append(out, d)
		}
	}
	return out
}

func (r *Registration) solveSubset(ctx context.Context, index int, subset *Subset, p *plan) subsetOutcome {
	out := subsetOutcome{subset: subset, viewMatches: make(map[ViewPair][]PointMatch)}
	if err := ctx.Err(); err != nil {
		out.err = err
		return out
	}

	// Every node of a pair that involves a group is matched in the grouped
	// id space, single views included, so inliers can be mapped back.
	grouped := make(map[string][]GroupedInterestPoint)
	groupedOf := func(g Group) []GroupedInterestPoint {
		gp, ok := grouped[g.Key()]
		if !ok {
			radius := r.cfg.GroupingRadius()
			if len(g.Views) == 1 {
				radius = 0
			}
			gp = GroupInterestPoints(g, p.world, radius)
			grouped[g.Key()] = gp
			r.logger.Debugf("[GROUP] %s: %d points after merging", g, len(gp))
		}
		return gp
	}

	pairs := subset.GroupedPairs()
	tasks := make([]PairTask, len(pairs))
	for i, gp := range pairs {
		if isViewPair(gp) {
			tasks[i] = PairTask{A: gp.A, B: gp.B, PointsA: p.world[gp.A.First()], PointsB: p.world[gp.B.First()]}
			continue
		}
		tasks[i] = PairTask{A: gp.A, B: gp.B, PointsA: GroupedPoints(groupedOf(gp.A)), PointsB: GroupedPoints(groupedOf(gp.B))}
	}
	seed := r.cfg.Seed + int64(index)*int64(len(p.setup.Views)*len(p.setup.Views)+1)
	results, err := ComputePairs(ctx, tasks, r.method, r.cfg.Workers, seed)
	if err != nil {
		out.err = err
		return out
	}

	var usable []PairwiseResult
	for i, res := range results {
		if !res.OK() {
			if res.Err != nil && !IsRecoverable(res.Err) {
				r.logger.Errorf("[PAIRWISE] %s", res.Description)
			} else {
				r.logger.Warnf("[PAIRWISE] %s", res.Description)
			}
			continue
		}
		r.logger.Infof("[PAIRWISE] %s", res.Description)

		switch {
		case res.Synthetic:
			// nothing to store, the optimizer still uses the match
		case isViewPair(GroupPair{A: res.A, B: res.B}):
			pair := ViewPair{A: res.A.First(), B: res.B.First()}
			out.viewMatches[pair] = append(out.viewMatches[pair], res.Inliers...)
		default:
			byPair, err := RedistributeGroupedResult(res, grouped[res.A.Key()], grouped[res.B.Key()])
			if err != nil {
				r.logger.Errorf("[GROUP] dropping %s: %v", GroupPair{A: res.A, B: res.B}, err)
				results[i].Err = err
				results[i].describe(r.method.Name())
				continue
			}
			for pair, matches := range byPair {
				out.viewMatches[pair] = append(out.viewMatches[pair], matches...)
			}
		}
		usable = append(usable, res)
	}
	out.results = results

	opt, err := OptimizeSubset(ctx, subset, usable, r.cfg.Matching.Model, r.cfg.GlobalOpt)
	if err != nil {
		out.err = err
		return out
	}
	out.opt = opt
	out.corrections = opt.Corrections
	for _, g := range opt.PreAlignDeferred {
		r.logger.Debugf("[GLOBAL] subset %d: pre-alignment deferred %s to relaxation", index, g)
	}

	if len(subset.Fixed) == 0 && r.cfg.MapBack != MapBackNone {
		ref := subset.Views[0]
		if mbr := r.cfg.MapBackReference; mbr != nil && subset.Contains(*mbr) {
			ref = *mbr
		}
		mapped, err := MapBack(r.cfg.MapBack, opt.Corrections, ref, p.sizes[ref].Size, p.priors[ref])
		if err != nil && r.cfg.MapBack != MapBackExact {
			r.logger.Warnf("[GLOBAL] %s map-back on %s failed (%v), using exact", r.cfg.MapBack, ref, err)
			mapped, err = MapBack(MapBackExact, opt.Corrections, ref, p.sizes[ref].Size, p.priors[ref])
		}
		if err != nil {
			out.err = err
			return out
		}
		out.corrections = mapped
	}
	out.complete = true
	return out
}

// apply is the single-threaded store phase.
func (s storeWriter) apply(r *Registration, outcomes []subsetOutcome, report *Report) {
	name := TransformName(r.cfg.Matching.Model)
	for i, o := range outcomes {
		st := SubsetStatistics{
			Index:      i,
			Views:      o.subset.Views,
			Fixed:      o.subset.Fixed,
			Pairs:      len(o.subset.Pairs),
			Singleton:  o.subset.Singleton,
			Iterations: o.opt.Iterations,
			Error:      o.opt.Error,
			MaxError:   o.opt.MaxError,
		}
		for _, res := range o.results {
			report.AddPair(NewPairStatistics(i, res))
		}

		switch {
		case o.err != nil && errors.Is(o.err, context.Canceled), o.err != nil && errors.Is(o.err, context.DeadlineExceeded):
			st.Failure = "cancelled"
		case o.err != nil:
			st.Failure = o.err.Error()
			report.AddFailure(&SubsetError{Subset: i, Views: o.subset.Views, Err: o.err})
			r.logger.Warnf("[GLOBAL] subset %d %v keeps its previous transforms: %v", i, o.subset.Views, o.err)
		case !o.complete:
			st.Failure = "not completed"
		case o.subset.Singleton:
			r.logger.Warnf("[GLOBAL] subset %d %v has no pairs, transform left unchanged", i, o.subset.Views)
		case len(o.subset.Fixed) == len(o.subset.Views):
			r.logger.Infof("[GLOBAL] subset %d %v is fixed entirely", i, o.subset.Views)
		default:
			s.store(r, o, name)
			st.Applied = true
			r.logger.Infof("[GLOBAL] subset %d: %d views, %d iterations, avg error %.3f, max %.3f",
				i, len(o.subset.Views), o.opt.Iterations, o.opt.Error, o.opt.MaxError)
		}
		report.Subsets = append(report.Subsets, st)
	}
}

type storeWriter struct {
	ViewStore
}

func (s storeWriter) store(r *Registration, o subsetOutcome, name string) {
	for _, v := range o.subset.Views {
		reg := s.Registration(v)
		reg.PreConcatenate(ViewTransform{Name: name, Transform: o.corrections[v]})
		s.SetRegistration(reg)
	}

	label := r.cfg.Label
	if r.cfg.ClearCorrespondences {
		for _, v := range o.subset.Views {
			if l := s.PointList(v, label); l != nil {
				l.ClearCorrespondences()
			}
		}
	}
	pairs := make([]ViewPair, 0, len(o.viewMatches))
	for p := range o.viewMatches {
		pairs = append(pairs, p)
	}
	SortViewPairs(pairs)
	for _, p := range pairs {
		la, lb := s.PointList(p.A, label), s.PointList(p.B, label)
		if la == nil || lb == nil {
			continue
		}
		AddCorrespondences(p.A, la, p.B, lb, o.viewMatches[p])
	}
}

func isViewPair(p GroupPair) bool {
	return len(p.A.Views) == 1 && len(p.B.Views) == 1
}

func countApplied(report *Report) int {
	n := 0
	for _, s := range report.Subsets {
		if s.Applied {
			n++
		}
	}
	return n
}
