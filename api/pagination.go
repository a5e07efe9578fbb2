package api

import (
	"net/http"
	"strconv"
)

const (
	defaultAuditPage = 100
	maxAuditPage     = 500
)

// PaginationMeta is embedded in paginated list responses.
type PaginationMeta struct {
	TotalCount int  `json:"totalCount"`
	Limit      int  `json:"limit"`
	Offset     int  `json:"offset"`
	HasMore    bool `json:"hasMore"`
}

// pageQuery is a limit/offset window over a newest-first listing. Slicing
// is left to the store that owns the records.
type pageQuery struct {
	limit, offset int
}

// parsePageQuery is lenient: unusable values fall back to the first page of
// defaultAuditPage records and limit is capped at maxAuditPage.
func parsePageQuery(r *http.Request) pageQuery {
	q := r.URL.Query()
	p := pageQuery{limit: defaultAuditPage}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		p.limit = min(n, maxAuditPage)
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n > 0 {
		p.offset = n
	}
	return p
}

func (p pageQuery) meta(total, returned int) PaginationMeta {
	return PaginationMeta{
		TotalCount: total,
		Limit:      p.limit,
		Offset:     p.offset,
		HasMore:    p.offset < total && p.offset+returned < total,
	}
}
