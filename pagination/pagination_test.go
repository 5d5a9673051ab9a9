package pagination

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/chatstore/core"
)

func intRange(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

func TestNewRequestValidation(t *testing.T) {
	tests := []struct {
		name      string
		page      int
		size      int
		sort      Sort
		wantRules map[string]string
	}{
		{name: "valid", page: 1, size: 10},
		{name: "max size", page: 3, size: MaxSize},
		{name: "zero page", page: 0, size: 10, wantRules: map[string]string{"page": core.RuleRange}},
		{name: "size too large", page: 1, size: MaxSize + 1, wantRules: map[string]string{"size": core.RuleRange}},
		{
			name: "everything wrong", page: -1, size: 0, sort: Sort{Direction: "UP"},
			wantRules: map[string]string{
				"page":           core.RuleRange,
				"size":           core.RuleRange,
				"sort.direction": core.RuleEnum,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRequest(tt.page, tt.size, tt.sort)
			if len(tt.wantRules) == 0 {
				require.NoError(t, err)
				assert.Equal(t, Asc, r.Sort.Direction)
				return
			}
			var verr *core.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Len(t, verr.Violations, len(tt.wantRules))
			for field, rule := range tt.wantRules {
				assert.True(t, verr.Has(field, rule), "missing %s/%s", field, rule)
			}
		})
	}
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection("desc")
	require.NoError(t, err)
	assert.Equal(t, Desc, d)

	d, err = ParseDirection("")
	require.NoError(t, err)
	assert.Equal(t, Asc, d)

	_, err = ParseDirection("sideways")
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestOffsetAndLimit(t *testing.T) {
	r, err := NewRequest(3, 25, ByID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), r.Offset())
	assert.Equal(t, 25, r.Limit())
	assert.Equal(t, 26, r.WithoutCount().Limit())

	r, err = NewRequest(MaxPage, MaxSize, ByID)
	require.NoError(t, err)
	assert.Equal(t, int64(MaxPage-1)*MaxSize, r.Offset())
}

func TestInfoArithmetic(t *testing.T) {
	for _, size := range []int{1, 3, 10, 100} {
		for _, total := range []int64{0, 1, 9, 10, 11, 57, 100, 101} {
			for page := 1; page <= 15; page++ {
				r, err := NewRequest(page, size, ByID)
				require.NoError(t, err)
				info := NewInfo(r, total)

				wantPages := int(total) / size
				if int(total)%size != 0 {
					wantPages++
				}
				require.NotNil(t, info.TotalPages)
				require.NotNil(t, info.Total)
				assert.Equal(t, total, *info.Total)
				assert.Equal(t, wantPages, *info.TotalPages)
				assert.Equal(t, page, info.CurrentPage)
				assert.Equal(t, page < wantPages, info.NextPage != nil, "size=%d total=%d page=%d", size, total, page)
				assert.Equal(t, page > 1, info.PrevPage != nil)
				if info.NextPage != nil {
					assert.Equal(t, page+1, *info.NextPage)
				}
				if info.PrevPage != nil {
					assert.Equal(t, page-1, *info.PrevPage)
				}
			}
		}
	}
}

func TestSliceFiftySevenItems(t *testing.T) {
	items := intRange(57)
	for page := 1; page <= 6; page++ {
		r, err := NewRequest(page, 10, ByID)
		require.NoError(t, err)
		p := Slice(r, items)

		if page < 6 {
			assert.Len(t, p.Items, 10)
			require.NotNil(t, p.Info.NextPage)
			assert.Equal(t, page+1, *p.Info.NextPage)
		} else {
			assert.Equal(t, []int{51, 52, 53, 54, 55, 56, 57}, p.Items)
			assert.Nil(t, p.Info.NextPage)
			require.NotNil(t, p.Info.PrevPage)
			assert.Equal(t, 5, *p.Info.PrevPage)
		}
		assert.Equal(t, 6, *p.Info.TotalPages)
		assert.Equal(t, (page-1)*10+1, p.Items[0])
	}
}

func TestSliceEdgeCases(t *testing.T) {
	t.Run("empty result", func(t *testing.T) {
		r, _ := First(10)
		p := Slice(r, []int(nil))
		assert.NotNil(t, p.Items)
		assert.Empty(t, p.Items)
		assert.Equal(t, 0, *p.Info.TotalPages)
		assert.Equal(t, int64(0), *p.Info.Total)
		assert.Nil(t, p.Info.NextPage)
		assert.Nil(t, p.Info.PrevPage)
	})

	t.Run("page past the end", func(t *testing.T) {
		r, _ := NewRequest(9, 10, ByID)
		p := Slice(r, intRange(57))
		assert.Empty(t, p.Items)
		assert.Equal(t, 6, *p.Info.TotalPages)
		assert.Equal(t, int64(57), *p.Info.Total)
		assert.Nil(t, p.Info.NextPage)
		assert.Equal(t, 8, *p.Info.PrevPage)
	})

	t.Run("window is a copy", func(t *testing.T) {
		items := intRange(5)
		r, _ := First(5)
		p := Slice(r, items)
		p.Items[0] = 100
		assert.Equal(t, 1, items[0])
	})
}

func TestUncountedPages(t *testing.T) {
	items := intRange(20)

	r, _ := NewRequest(1, 10, ByID)
	p := Slice(r.WithoutCount(), items)
	assert.Len(t, p.Items, 10)
	assert.Nil(t, p.Info.Total)
	assert.Nil(t, p.Info.TotalPages)
	require.NotNil(t, p.Info.NextPage)

	r, _ = NewRequest(2, 10, ByID)
	p = Slice(r.WithoutCount(), items)
	assert.Len(t, p.Items, 10)
	assert.Nil(t, p.Info.NextPage, "no row beyond the last full page")

	lookahead := FromLookahead(r.WithoutCount(), intRange(11))
	assert.Len(t, lookahead.Items, 10)
	assert.Equal(t, 3, *lookahead.Info.NextPage)

	exact := FromLookahead(r.WithoutCount(), intRange(10))
	assert.Len(t, exact.Items, 10)
	assert.Nil(t, exact.Info.NextPage)
}

func TestPageJSON(t *testing.T) {
	r, _ := NewRequest(2, 2, ByID)
	p := Slice(r, []string{"a", "b", "c", "d", "e"})

	out, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"items": ["c", "d"],
		"pagination": {"total": 5, "totalPages": 3, "current": 2, "next": 3, "previous": 1}
	}`, string(out))

	out, err = json.Marshal(FromLookahead(r.WithoutCount(), []string{"c"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"items": ["c"],
		"pagination": {"total": null, "totalPages": null, "current": 2, "next": null, "previous": 1}
	}`, string(out))
}

func TestMap(t *testing.T) {
	r, _ := First(3)
	p := Map(Slice(r, intRange(4)), func(i int) string { return core.MustID(int64(i)).String() })
	assert.Equal(t, []string{"1", "2", "3"}, p.Items)
	assert.Equal(t, 2, *p.Info.NextPage)
}
