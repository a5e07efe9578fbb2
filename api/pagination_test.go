package api

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePageQuery(t *testing.T) {
	tests := []struct {
		query string
		want  pageQuery
	}{
		{"", pageQuery{limit: defaultAuditPage}},
		{"limit=20&offset=40", pageQuery{limit: 20, offset: 40}},
		{"limit=5000", pageQuery{limit: maxAuditPage}},
		{"limit=0&offset=-3", pageQuery{limit: defaultAuditPage}},
		{"limit=ten&offset=x", pageQuery{limit: defaultAuditPage}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/api/audit/log?"+tt.query, nil)
			assert.Equal(t, tt.want, parsePageQuery(r))
		})
	}
}

func TestPageQueryMeta(t *testing.T) {
	p := pageQuery{limit: 3, offset: 3}
	assert.Equal(t, PaginationMeta{TotalCount: 7, Limit: 3, Offset: 3, HasMore: true}, p.meta(7, 3))
	assert.False(t, p.meta(6, 3).HasMore, "last full page")
	assert.False(t, pageQuery{limit: 3, offset: 10}.meta(7, 0).HasMore, "offset past the end")
	assert.False(t, pageQuery{limit: 3}.meta(0, 0).HasMore)
}
