package survey

import (
	"testing"

	"github.com/nao1215/kanpora/internal/geo"
	"github.com/nao1215/kanpora/internal/model"
)

func progressOf(sequential bool, indices ...string) []model.Progress {
	out := make([]model.Progress, 0, len(indices))
	for _, s := range indices {
		out = append(out, model.Progress{
			TreeIndex:  geo.MustParseTreeIndex(s),
			Completed:  true,
			Sequential: sequential,
		})
	}
	return out
}

func TestResume_Decide(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		entries []model.Progress
		want    map[string]Decision
	}{
		{
			name:    "first quadrant completed",
			entries: progressOf(false, "0-0"),
			want: map[string]Decision{
				"0":     Descend,
				"0-0":   Skip,
				"0-0-3": Skip,
				"0-1":   Run,
				"0-2":   Run,
				"0-3":   Run,
			},
		},
		{
			name:    "concurrent log only skips logged subtrees",
			entries: progressOf(false, "0-1-3", "0-3"),
			want: map[string]Decision{
				"0":     Descend,
				"0-0":   Run,
				"0-1":   Descend,
				"0-1-0": Run,
				"0-1-3": Skip,
				"0-2":   Run,
				"0-3":   Skip,
			},
		},
		{
			name:    "sequential log skips everything before the last position",
			entries: progressOf(true, "0-0", "0-1-0", "0-1-1"),
			want: map[string]Decision{
				"0":       Descend,
				"0-0":     Skip,
				"0-1":     Descend,
				"0-1-0":   Skip,
				"0-1-1":   Skip,
				"0-1-2":   Run,
				"0-1-1-3": Skip,
				"0-2":     Run,
			},
		},
		{
			name: "structural order, not numeric order",
			// as digit strings "0-1-1" reads as 11 and "0-2" as 2
			entries: progressOf(true, "0-1-1"),
			want: map[string]Decision{
				"0-0-3": Skip,
				"0-1-0": Skip,
				"0-1-2": Run,
				"0-2":   Run,
				"0-3-0": Run,
			},
		},
		{
			name: "failed entries alone resume nothing",
			entries: []model.Progress{
				{TreeIndex: geo.MustParseTreeIndex("0-2"), Completed: false, Sequential: true},
			},
			want: map[string]Decision{
				"0":   Run,
				"0-2": Run,
			},
		},
		{
			name: "sequential log runs a failed quadrant again",
			entries: append([]model.Progress{
				{TreeIndex: geo.MustParseTreeIndex("0-0"), Completed: false, Sequential: true},
			}, progressOf(true, "0-1", "0-2", "0-3")...),
			want: map[string]Decision{
				"0":     Descend,
				"0-0":   Run,
				"0-0-2": Run,
				"0-1":   Skip,
				"0-3":   Skip,
			},
		},
		{
			name: "sequential log descends to a deep failed node",
			entries: append(progressOf(true, "0-0-0"), append([]model.Progress{
				{TreeIndex: geo.MustParseTreeIndex("0-0-1"), Completed: false, Sequential: true},
			}, progressOf(true, "0-0-2", "0-0-3", "0-1")...)...),
			want: map[string]Decision{
				"0":       Descend,
				"0-0":     Descend,
				"0-0-0":   Skip,
				"0-0-1":   Run,
				"0-0-1-2": Run,
				"0-0-2":   Skip,
				"0-1":     Skip,
				"0-2":     Run,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := NewResume(tt.entries)
			for idx, want := range tt.want {
				if got := r.Decide(geo.MustParseTreeIndex(idx)); got != want {
					t.Errorf("Decide(%s) = %s, want %s", idx, got, want)
				}
			}
		})
	}
}

func TestResume_Nil(t *testing.T) {
	t.Parallel()

	var r *Resume
	if got := r.Decide(geo.Root()); got != Run {
		t.Errorf("nil resume Decide = %s, want run", got)
	}
	if r.Completed() != 0 {
		t.Errorf("nil resume Completed = %d", r.Completed())
	}
	if NewResume(nil) != nil {
		t.Error("empty log should give a nil resume")
	}
}
