package registration

import (
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(points []InterestPoint) []int64 {
	out := make([]int64, len(points))
	for i, p := range points {
		out[i] = p.ID
	}
	return out
}

func TestNearestNeighborsBreaksTiesByID(t *testing.T) {
	points := []InterestPoint{
		NewInterestPoint(0, 0, 0, 0),
		NewInterestPoint(5, 1, 0, 0),
		NewInterestPoint(3, 0, 1, 0),
		NewInterestPoint(4, -1, 0, 0),
		NewInterestPoint(7, 0, 0, 2),
	}

	tests := []struct {
		k    int
		want []int64
	}{
		{1, []int64{3}},
		{2, []int64{3, 4}},
		{3, []int64{3, 4, 5}},
		{4, []int64{3, 4, 5, 7}},
	}
	for _, tt := range tests {
		got, err := NearestNeighbors(points, 0, tt.k)
		require.NoError(t, err)
		assert.Equal(t, tt.want, ids(got), "k=%d", tt.k)
	}

	_, err := NearestNeighbors(points, 0, 5)
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = NearestNeighbors(points, 9, 1)
	assert.Error(t, err)
}

func TestNearestNeighborsMatchesBruteForce(t *testing.T) {
	points := jitteredGrid(4, 10, 4, 21)
	const k = 6
	for basis := range points {
		got, err := NearestNeighbors(points, basis, k)
		require.NoError(t, err)

		type cand struct {
			id   int64
			dist float64
		}
		var all []cand
		for j, p := range points {
			if j != basis {
				all = append(all, cand{p.ID, Distance(p.W, points[basis].W)})
			}
		}
		sort.Slice(all, func(i, j int) bool {
			if all[i].dist != all[j].dist {
				return all[i].dist < all[j].dist
			}
			return all[i].id < all[j].id
		})
		want := make([]int64, k)
		for i := range want {
			want[i] = all[i].id
		}
		assert.Equal(t, want, ids(got), "basis %d", basis)
	}
}

func TestNeighborIndexQueries(t *testing.T) {
	points := []InterestPoint{
		NewInterestPoint(10, 0, 0, 0),
		NewInterestPoint(11, 3, 0, 0),
		NewInterestPoint(12, 0, 4, 0),
		NewInterestPoint(13, 10, 10, 10),
	}
	index := newNeighborIndex(points)

	assert.Equal(t, []int{0, 1}, index.within(vec(0.5, 0, 0), 3))
	assert.Equal(t, []int{0, 1, 2}, index.within(vec(0, 0, 0), 4))
	assert.Empty(t, index.within(vec(50, 50, 50), 1))

	idx, d, ok := index.nearestTo(vec(9, 9, 9))
	require.True(t, ok)
	assert.Equal(t, 3, idx)
	assert.InDelta(t, math.Sqrt(3), d, epsilon)

	// equidistant from ids 10 and 11: the smaller id wins
	idx, _, ok = index.nearestTo(vec(1.5, 0, 0))
	require.True(t, ok)
	assert.Equal(t, 0, idx)

	empty := newNeighborIndex(nil)
	_, _, ok = empty.nearestTo(vec(0, 0, 0))
	assert.False(t, ok)
	assert.Empty(t, empty.within(vec(0, 0, 0), 10))
}
