// Package pagination derives the pagination metadata envelope from raw
// counts and a normalized skip/take window.
package pagination

// Result is the derived pagination envelope. Never persisted.
type Result struct {
	Total           int  `json:"total"`
	Count           int  `json:"count"`
	Limit           int  `json:"limit"`
	Page            int  `json:"page"`
	PageCount       int  `json:"pageCount"`
	HasNextPage     bool `json:"hasNextPage"`
	HasPreviousPage bool `json:"hasPreviousPage"`
}

// Compute derives the envelope for a window. take=0 means unbounded: one
// page holding everything.
func Compute(total, skip, take int) Result {
	r := Result{Total: total, Page: 1, PageCount: 1}

	if take > 0 {
		r.PageCount = ceilDiv(total, take)
		if r.PageCount < 1 {
			r.PageCount = 1
		}
		r.Page = ceilDiv(skip+1, take)
		r.Count = take
		if remaining := total - skip; remaining < take {
			r.Count = remaining
		}
		if r.Count < 0 {
			r.Count = 0
		}
		r.Limit = take
	} else {
		r.Count = total
		r.Limit = total
	}

	r.HasNextPage = r.Page < r.PageCount
	r.HasPreviousPage = r.Page > 1
	return r
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 1
	}
	return (a + b - 1) / b
}
