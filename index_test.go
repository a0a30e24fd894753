package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type esCall struct {
	Method string
	Path   string
	Query  string
	Body   string
}

// fakeES answers with canned bodies per path suffix and records the calls.
type fakeES struct {
	mut     sync.Mutex
	calls   []esCall
	replies map[string]string
	status  map[string]int
}

func newFakeES(t *testing.T) (*fakeES, *ESIndex) {
	f := &fakeES{replies: map[string]string{}, status: map[string]int{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	idx, err := NewESIndex([]string{srv.URL}, "", "")
	require.NoError(t, err)
	return f, idx
}

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mut.Lock()
	f.calls = append(f.calls, esCall{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: string(body)})
	op := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	reply, status := f.replies[op], f.status[op]
	f.mut.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	if reply == "" {
		reply = "{}"
	}
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, reply)
}

func (f *fakeES) last(t *testing.T) esCall {
	f.mut.Lock()
	defer f.mut.Unlock()
	require.NotEmpty(t, f.calls)
	return f.calls[len(f.calls)-1]
}

func TestESIndexCount(t *testing.T) {
	f, idx := newFakeES(t)
	f.replies["_count"] = `{"count": 42}`

	q := Must(Term("context.service.name", "flask_app"), Term("transaction.name.keyword", "GET /foo"))
	n, err := idx.Count(context.Background(), "apm-*", q)
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	call := f.last(t)
	assert.Equal(t, "/apm-*/_count", call.Path)
	assert.JSONEq(t, `{"query":{"bool":{"must":[
		{"term":{"context.service.name":"flask_app"}},
		{"term":{"transaction.name.keyword":"GET /foo"}}
	]}}}`, call.Body)
}

func TestESIndexSearch(t *testing.T) {
	f, idx := newFakeES(t)
	f.replies["_search"] = `{"hits":{"total":{"value":2},"hits":[
		{"_id":"a","_source":{"transaction":{"id":"a"}}},
		{"_id":"b","_source":{"transaction":{"id":"b"}}}
	]}}`

	docs, err := idx.Search(context.Background(), "apm-*", Regexp("transaction.name", "GET /foo"), 10)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	var doc struct {
		Transaction struct {
			ID string `json:"id"`
		} `json:"transaction"`
	}
	require.NoError(t, json.Unmarshal(docs[1], &doc))
	assert.Equal(t, "b", doc.Transaction.ID)

	call := f.last(t)
	assert.Equal(t, "/apm-*/_search", call.Path)
	assert.Contains(t, call.Query, "size=10")
	assert.JSONEq(t, `{"query":{"regexp":{"transaction.name":"GET /foo"}}}`, call.Body)
}

func TestESIndexRefreshAndClean(t *testing.T) {
	f, idx := newFakeES(t)

	require.NoError(t, idx.Refresh(context.Background(), "apm-*"))
	assert.Equal(t, "/apm-*/_refresh", f.last(t).Path)

	require.NoError(t, idx.Clean(context.Background(), "apm-*"))
	call := f.last(t)
	assert.Equal(t, "/apm-*/_delete_by_query", call.Path)
	assert.Contains(t, call.Query, "conflicts=proceed")
	assert.JSONEq(t, `{"query":{"match_all":{}}}`, call.Body)
}

func TestESIndexCleanMissingIndex(t *testing.T) {
	f, idx := newFakeES(t)
	f.status["_delete_by_query"] = http.StatusNotFound
	f.replies["_delete_by_query"] = `{"error":{"type":"index_not_found_exception"},"status":404}`

	assert.NoError(t, idx.Clean(context.Background(), "apm-*"))
}

func TestESIndexErrors(t *testing.T) {
	f, idx := newFakeES(t)
	for _, op := range []string{"_count", "_search", "_refresh", "_delete_by_query"} {
		f.status[op] = http.StatusInternalServerError
		f.replies[op] = `{"error":{"type":"boom"},"status":500}`
	}
	ctx := context.Background()

	_, err := idx.Count(ctx, "apm-*", Term("processor.event", "span"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count processor.event")
	assert.Contains(t, err.Error(), "500")

	_, err = idx.Search(ctx, "apm-*", Term("processor.event", "span"), 1)
	assert.Error(t, err)
	assert.Error(t, idx.Refresh(ctx, "apm-*"))
	assert.Error(t, idx.Clean(ctx, "apm-*"))
}
