package pagination

import (
	"encoding/json"
	"testing"
)

func TestNewClamps(t *testing.T) {
	cases := []struct {
		page, limit         int
		wantPage, wantLimit int
	}{
		{0, 0, 1, DefaultLimit},
		{-3, 5, 1, 5},
		{2, 500, 2, MaxLimit},
		{4, 10, 4, 10},
	}
	for _, tc := range cases {
		p := New(tc.page, tc.limit)
		if p.Page != tc.wantPage || p.Limit != tc.wantLimit {
			t.Errorf("New(%d,%d) = %+v, want page=%d limit=%d", tc.page, tc.limit, p, tc.wantPage, tc.wantLimit)
		}
	}
}

func TestHugePageKeepsOffsetPositive(t *testing.T) {
	p := Parse("922337203685477580", "100")
	if p.Page != MaxPage {
		t.Fatalf("expected page capped at %d, got %d", MaxPage, p.Page)
	}
	off := p.Offset()
	if off < 0 {
		t.Fatalf("offset overflowed: %d", off)
	}
	if off+p.Limit < off {
		t.Fatalf("offset+limit overflowed: %d+%d", off, p.Limit)
	}
}

func TestParseGarbage(t *testing.T) {
	p := Parse("abc", "")
	if p.Page != 1 || p.Limit != DefaultLimit {
		t.Fatalf("unexpected params %+v", p)
	}
	if p.Offset() != 0 {
		t.Fatalf("expected offset 0, got %d", p.Offset())
	}
	if off := New(3, 10).Offset(); off != 20 {
		t.Fatalf("expected offset 20, got %d", off)
	}
}

func TestEmptyPageEncoding(t *testing.T) {
	page := NewPage[string](nil, New(1, 10), 0)
	data, err := json.Marshal(page)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"items":[],"pagination":{"page":1,"limit":10,"total":0,"totalPages":1}}`
	if string(data) != want {
		t.Fatalf("got %s\nwant %s", data, want)
	}
}

func TestTotalPagesRoundsUp(t *testing.T) {
	page := NewPage([]int{1, 2}, New(2, 2), 5)
	if page.Pagination.TotalPages != 3 {
		t.Fatalf("expected 3 pages, got %d", page.Pagination.TotalPages)
	}
}
