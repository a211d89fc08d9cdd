package query

import (
	"testing"

	"FlashLedger/internal/state"
)

func TestHistoryQuery_NoFilters(t *testing.T) {
	q, args := historyQuery("SELECT x FROM t", "trader", nil, Page{})
	want := "SELECT x FROM t WHERE TRUE ORDER BY sequence DESC LIMIT $1"
	if q != want {
		t.Errorf("query:\n got %q\nwant %q", q, want)
	}
	if len(args) != 1 || args[0] != DefaultPageLimit {
		t.Errorf("args = %v", args)
	}
}

func TestHistoryQuery_TraderAndCursor(t *testing.T) {
	var p state.Principal
	p[0] = 3

	q, args := historyQuery("SELECT x FROM t", "trader", &p, Page{Limit: 10, Before: 99})
	want := "SELECT x FROM t WHERE TRUE AND trader = $1 AND sequence < $2 ORDER BY sequence DESC LIMIT $3"
	if q != want {
		t.Errorf("query:\n got %q\nwant %q", q, want)
	}
	if len(args) != 3 || args[0] != p.String() || args[1] != int64(99) || args[2] != 10 {
		t.Errorf("args = %v", args)
	}
}

func TestHistoryQuery_IgnoresFilterWithoutColumn(t *testing.T) {
	var p state.Principal
	p[0] = 3
	q, args := historyQuery("SELECT x FROM t", "", &p, Page{})
	if len(args) != 1 {
		t.Errorf("expected only the limit arg, got %v (%s)", args, q)
	}
}

func TestPage_LimitClamp(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, DefaultPageLimit},
		{-5, DefaultPageLimit},
		{20, 20},
		{MaxPageLimit + 1, MaxPageLimit},
	}
	for _, tt := range tests {
		if got := (Page{Limit: tt.in}).limit(); got != tt.want {
			t.Errorf("Page{Limit: %d}.limit() = %d, want %d", tt.in, got, tt.want)
		}
	}
}
