package pagination

import "testing"

func TestCompute(t *testing.T) {
	cases := []struct {
		name  string
		total int
		skip  int
		take  int
		want  Result
	}{
		{
			name: "empty unbounded",
			want: Result{Total: 0, Count: 0, Limit: 0, Page: 1, PageCount: 1},
		},
		{
			name:  "unbounded returns everything",
			total: 10,
			want:  Result{Total: 10, Count: 10, Limit: 10, Page: 1, PageCount: 1},
		},
		{
			name:  "first page",
			total: 10,
			take:  3,
			want:  Result{Total: 10, Count: 3, Limit: 3, Page: 1, PageCount: 4, HasNextPage: true},
		},
		{
			name:  "middle page",
			total: 10,
			skip:  3,
			take:  3,
			want:  Result{Total: 10, Count: 3, Limit: 3, Page: 2, PageCount: 4, HasNextPage: true, HasPreviousPage: true},
		},
		{
			name:  "last short page",
			total: 10,
			skip:  9,
			take:  3,
			want:  Result{Total: 10, Count: 1, Limit: 3, Page: 4, PageCount: 4, HasPreviousPage: true},
		},
		{
			name:  "exact fit last page",
			total: 9,
			skip:  6,
			take:  3,
			want:  Result{Total: 9, Count: 3, Limit: 3, Page: 3, PageCount: 3, HasPreviousPage: true},
		},
		{
			name:  "skip past the end",
			total: 10,
			skip:  12,
			take:  3,
			want:  Result{Total: 10, Count: 0, Limit: 3, Page: 5, PageCount: 4, HasPreviousPage: true},
		},
		{
			name:  "empty result with window",
			total: 0,
			take:  5,
			want:  Result{Total: 0, Count: 0, Limit: 5, Page: 1, PageCount: 1},
		},
	}
	for _, tc := range cases {
		got := Compute(tc.total, tc.skip, tc.take)
		if got != tc.want {
			t.Errorf("%s: Compute(%d, %d, %d) = %+v, want %+v", tc.name, tc.total, tc.skip, tc.take, got, tc.want)
		}
	}
}
