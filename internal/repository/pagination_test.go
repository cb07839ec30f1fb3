package repository

import "testing"

func TestNormalizePageRequestBounds(t *testing.T) {
	tests := []struct {
		name       string
		in         PageRequest
		want       PageRequest
		wantOffset int
	}{
		{name: "zero value", in: PageRequest{}, want: PageRequest{Page: DefaultPage, PageSize: DefaultPageSize}, wantOffset: 0},
		{name: "negative page", in: PageRequest{Page: -3, PageSize: 5}, want: PageRequest{Page: 1, PageSize: 5}, wantOffset: 0},
		{name: "third page", in: PageRequest{Page: 3, PageSize: 25}, want: PageRequest{Page: 3, PageSize: 25}, wantOffset: 50},
		{name: "oversized page", in: PageRequest{Page: 2, PageSize: 10_000}, want: PageRequest{Page: 2, PageSize: MaxPageSize}, wantOffset: MaxPageSize},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := normalizePageRequest(tc.in)
			if got != tc.want {
				t.Fatalf("normalizePageRequest(%+v) = %+v, want %+v", tc.in, got, tc.want)
			}
			if got.offset() != tc.wantOffset {
				t.Fatalf("offset() = %d, want %d", got.offset(), tc.wantOffset)
			}
		})
	}
}

func TestNewPageShape(t *testing.T) {
	req := normalizePageRequest(PageRequest{Page: 2, PageSize: 20})

	empty := newPage[int](nil, req, 0)
	if empty.Items == nil || len(empty.Items) != 0 || empty.TotalPages != 0 {
		t.Fatalf("empty page must serialize as [] with zero pages, got %+v", empty)
	}

	p := newPage([]int{21, 22}, req, 41)
	if p.Page != 2 || p.PageSize != 20 || p.Total != 41 || p.TotalPages != 3 {
		t.Fatalf("unexpected page metadata: %+v", p)
	}
}

func FuzzCalcTotalPagesCoversTotal(f *testing.F) {
	f.Add(int64(0), 20)
	f.Add(int64(41), 20)
	f.Add(int64(1000), 1)
	f.Add(int64(-5), 10)

	f.Fuzz(func(t *testing.T, total int64, pageSize int) {
		if pageSize > MaxPageSize*10 || total > 1<<40 {
			return
		}
		got := calcTotalPages(total, pageSize)
		if total <= 0 || pageSize <= 0 {
			if got != 0 {
				t.Fatalf("expected 0 pages, got %d (total=%d size=%d)", got, total, pageSize)
			}
			return
		}
		if int64(got)*int64(pageSize) < total || int64(got-1)*int64(pageSize) >= total {
			t.Fatalf("pages=%d do not tightly cover total=%d with size=%d", got, total, pageSize)
		}
	})
}
