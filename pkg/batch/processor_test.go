package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sitePageSize is the listing's own page size; limit only trims a page.
const sitePageSize = 50

// listing simulates GET /content over total items.
type listing struct {
	mu       sync.Mutex
	total    int
	failPage int
	requests []string
}

func (l *listing) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l.mu.Lock()
	l.requests = append(l.requests, r.URL.RawQuery)
	l.mu.Unlock()

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	w.Header().Set("Content-Type", "application/json")

	if page == l.failPage {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "navigation to /admin/content failed"})
		return
	}

	items := []map[string]any{}
	for i := (page-1)*sitePageSize + 1; i <= page*sitePageSize && i <= l.total && len(items) < limit; i++ {
		items = append(items, map[string]any{"id": 10000 + i, "title": fmt.Sprintf("Item %d", i), "type": "Event"})
	}
	totalPages := (l.total + sitePageSize - 1) / sitePageSize
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"content": items,
		"count":   len(items),
		"pagination": map[string]any{
			"currentPage": page,
			"totalPages":  totalPages,
			"totalItems":  l.total,
			"hasNextPage": page < totalPages,
		},
	})
}

func TestFetchItems(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		count     int
		pageSize  int
		wantItems int
		wantPages int
	}{
		{"crosses a page boundary", 2271, 75, 50, 75, 2},
		{"exact multiple", 2271, 100, 50, 100, 2},
		{"capped by site size", 2271, 100000, 1000, 2271, 46},
		{"default page size", 120, 60, 0, 60, 2},
		{"zero", 120, 0, 50, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &listing{total: tt.total}
			srv := httptest.NewServer(l)
			defer srv.Close()

			var progress []int
			res, err := New(srv.URL).FetchItems(context.Background(), tt.count, FetchOptions{
				PageSize:   tt.pageSize,
				OnProgress: func(page, _, _ int) { progress = append(progress, page) },
			})
			require.NoError(t, err)

			assert.Equal(t, tt.count, res.Requested)
			assert.Equal(t, tt.wantItems, res.Actual)
			assert.Len(t, res.Content, tt.wantItems)
			assert.Equal(t, tt.wantPages, res.PagesFetched)
			assert.Len(t, progress, tt.wantPages)
			assert.GreaterOrEqual(t, res.TotalFetched, res.Actual)
			assert.Equal(t, tt.total, res.Pagination.TotalItems)
			if tt.wantItems > 0 {
				require.NotNil(t, res.Content[0].ID)
				assert.Equal(t, 10001, *res.Content[0].ID)
			}
		})
	}
}

func TestFetchItems_RequestSequence(t *testing.T) {
	l := &listing{total: 2271}
	srv := httptest.NewServer(l)
	defer srv.Close()

	_, err := New(srv.URL).FetchItems(context.Background(), 75, FetchOptions{PageSize: 50, Type: "event"})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"limit=1&page=1&type=event",
		"limit=50&page=1&type=event",
		"limit=50&page=2&type=event",
	}, l.requests)
}

func TestFetchItems_PageFailureAborts(t *testing.T) {
	l := &listing{total: 500, failPage: 2}
	srv := httptest.NewServer(l)
	defer srv.Close()

	_, err := New(srv.URL).FetchItems(context.Background(), 150, FetchOptions{PageSize: 50})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page 2")
	assert.Contains(t, err.Error(), "navigation to /admin/content failed")
}

func TestFetchItems_NegativeCount(t *testing.T) {
	_, err := New("http://127.0.0.1:0").FetchItems(context.Background(), -1, FetchOptions{})
	assert.Error(t, err)
}

func TestFetchPage_CancelledContext(t *testing.T) {
	l := &listing{total: 10}
	srv := httptest.NewServer(l)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(srv.URL, WithRateLimit(1)).FetchPage(ctx, 1, 10, "")
	assert.Error(t, err)
}
