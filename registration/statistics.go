package registration

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// PairStatistics summarises the matching of one pair.
type PairStatistics struct {
	Subset      int     `json:"subset"`
	A           Group   `json:"a"`
	B           Group   `json:"b"`
	Candidates  int     `json:"candidates"`
	Inliers     int     `json:"inliers"`
	InlierRatio float64 `json:"inlierRatio"`
	AvgError    float64 `json:"avgError"`
	MinError    float64 `json:"minError"`
	MaxError    float64 `json:"maxError"`
	Failed      bool    `json:"failed"`
	Reason      string  `json:"reason,omitempty"`
}

// NewPairStatistics extracts the statistics of a pairwise result.
func NewPairStatistics(subset int, r PairwiseResult) PairStatistics {
	ps := PairStatistics{
		Subset:      subset,
		A:           r.A,
		B:           r.B,
		Candidates:  r.NumCandidates,
		Inliers:     len(r.Inliers),
		InlierRatio: r.InlierRatio(),
		AvgError:    r.Error,
		MinError:    r.MinError,
		MaxError:    r.MaxError,
	}
	if !r.OK() {
		ps.Failed = true
		if r.Err != nil {
			ps.Reason = r.Err.Error()
		} else {
			ps.Reason = "no inliers"
		}
	}
	return ps
}

// SubsetStatistics summarises the optimization of one subset.
type SubsetStatistics struct {
	Index      int      `json:"index"`
	Views      []ViewID `json:"views"`
	Fixed      []ViewID `json:"fixed,omitempty"`
	Pairs      int      `json:"pairs"`
	Singleton  bool     `json:"singleton"`
	Applied    bool     `json:"applied"`
	Iterations int      `json:"iterations"`
	Error      float64  `json:"error"`
	MaxError   float64  `json:"maxError"`
	Failure    string   `json:"failure,omitempty"`
}

// TimepointStatistics aggregates the successful pairs whose first view
// belongs to one timepoint.
type TimepointStatistics struct {
	Timepoint   int     `json:"timepoint"`
	Pairs       int     `json:"pairs"`
	Candidates  int     `json:"candidates"`
	Inliers     int     `json:"inliers"`
	MinError    float64 `json:"minError"`
	AvgError    float64 `json:"avgError"`
	MaxError    float64 `json:"maxError"`
	InlierRatio float64 `json:"inlierRatio"`
}

// Report describes a registration run. It is produced even when pairs or
// subsets fail.
type Report struct {
	Started      time.Time             `json:"started"`
	Duration     time.Duration         `json:"duration"`
	Label        string                `json:"label"`
	Method       string                `json:"method"`
	Model        ModelType             `json:"model"`
	Views        int                   `json:"views"`
	SkippedViews int                   `json:"skippedViews"`
	Candidates   int                   `json:"candidates"`
	Inliers      int                   `json:"inliers"`
	DroppedPairs int                   `json:"droppedPairs"`
	RemovedPairs int                   `json:"removedPairs"`
	Subsets      []SubsetStatistics    `json:"subsets"`
	Failed       int                   `json:"failedSubsets"`
	Cancelled    bool                  `json:"cancelled"`
	Pairs        []PairStatistics      `json:"pairs"`
	Timepoints   []TimepointStatistics `json:"timepoints"`

	failures error
}

// AddFailure records a subset failure.
func (r *Report) AddFailure(err error) {
	r.Failed++
	r.failures = multierr.Append(r.failures, err)
}

// Err returns all subset failures combined, or nil.
func (r *Report) Err() error { return r.failures }

// Failures returns the individual subset failures.
func (r *Report) Failures() []error { return multierr.Errors(r.failures) }

// AddPair records the statistics of a pair and updates the totals.
func (r *Report) AddPair(ps PairStatistics) {
	r.Pairs = append(r.Pairs, ps)
	r.Candidates += ps.Candidates
	if ps.Failed {
		r.DroppedPairs++
		return
	}
	r.Inliers += ps.Inliers
}

// Finish sorts the per-pair statistics and computes the per-timepoint ones.
func (r *Report) Finish() {
	sort.SliceStable(r.Pairs, func(i, j int) bool {
		if r.Pairs[i].Subset != r.Pairs[j].Subset {
			return r.Pairs[i].Subset < r.Pairs[j].Subset
		}
		if r.Pairs[i].A.Key() != r.Pairs[j].A.Key() {
			return r.Pairs[i].A.Less(r.Pairs[j].A)
		}
		return r.Pairs[i].B.Less(r.Pairs[j].B)
	})
	r.Timepoints = ComputeTimepointStatistics(r.Pairs)
	if !r.Started.IsZero() {
		r.Duration = time.Since(r.Started)
	}
}

// ComputeTimepointStatistics groups successful pairs by the timepoint of
// their first view. The average error is weighted by inlier count.
func ComputeTimepointStatistics(pairs []PairStatistics) []TimepointStatistics {
	byTP := make(map[int][]PairStatistics)
	for _, p := range pairs {
		if p.Failed {
			continue
		}
		tp := p.A.First().Timepoint
		byTP[tp] = append(byTP[tp], p)
	}
	tps := make([]int, 0, len(byTP))
	for tp := range byTP {
		tps = append(tps, tp)
	}
	sort.Ints(tps)

	out := make([]TimepointStatistics, 0, len(tps))
	for _, tp := range tps {
		ps := byTP[tp]
		avg := make([]float64, len(ps))
		weights := make([]float64, len(ps))
		mins := make([]float64, len(ps))
		maxs := make([]float64, len(ps))
		ts := TimepointStatistics{Timepoint: tp, Pairs: len(ps)}
		for i, p := range ps {
			avg[i], mins[i], maxs[i] = p.AvgError, p.MinError, p.MaxError
			weights[i] = float64(p.Inliers)
			ts.Candidates += p.Candidates
			ts.Inliers += p.Inliers
		}
		if floats.Sum(weights) > 0 {
			ts.AvgError = stat.Mean(avg, weights)
		}
		ts.MinError = floats.Min(mins)
		ts.MaxError = floats.Max(maxs)
		if ts.Candidates > 0 {
			ts.InlierRatio = float64(ts.Inliers) / float64(ts.Candidates)
		}
		out = append(out, ts)
	}
	return out
}

// Summary renders the report as a few human readable lines.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "label %q, %s matching, %s model: %d views (%d skipped), %d subsets (%d failed)\n",
		r.Label, r.Method, r.Model, r.Views, r.SkippedViews, len(r.Subsets), r.Failed)
	fmt.Fprintf(&b, "pairs: %d matched, %d dropped, %d removed; %d candidates, %d inliers\n",
		len(r.Pairs)-r.DroppedPairs, r.DroppedPairs, r.RemovedPairs, r.Candidates, r.Inliers)
	for _, tp := range r.Timepoints {
		fmt.Fprintf(&b, "timepoint %d: %d pairs, inlier ratio %.3f, error min %.3f avg %.3f max %.3f\n",
			tp.Timepoint, tp.Pairs, tp.InlierRatio, tp.MinError, tp.AvgError, tp.MaxError)
	}
	if r.Cancelled {
		b.WriteString("run was cancelled; only completed subsets were applied\n")
	}
	return b.String()
}
