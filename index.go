package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/pkg/errors"
)

// Index is the search index the telemetry pipeline writes to. Calls are
// made one at a time; implementations need no locking.
type Index interface {
	Count(ctx context.Context, index string, q Query) (int, error)
	// Search returns the _source of at most size matching documents.
	Search(ctx context.Context, index string, q Query, size int) ([]json.RawMessage, error)
	// Refresh makes recent writes visible to Count and Search.
	Refresh(ctx context.Context, index string) error
	// Clean removes every document from the index.
	Clean(ctx context.Context, index string) error
}

// ESIndex is an Index backed by Elasticsearch.
type ESIndex struct {
	es *elasticsearch.Client
}

// make sure it implements Index
var _ Index = (*ESIndex)(nil)

func NewESIndex(addresses []string, username, password string) (*ESIndex, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: addresses,
		Username:  username,
		Password:  password,
	})
	if err != nil {
		return nil, errors.Wrap(err, "unable to create elasticsearch client")
	}
	return &ESIndex{es: es}, nil
}

func (x *ESIndex) Count(ctx context.Context, index string, q Query) (int, error) {
	body, err := q.Body()
	if err != nil {
		return 0, err
	}
	res, err := x.es.Count(
		x.es.Count.WithContext(ctx),
		x.es.Count.WithIndex(index),
		x.es.Count.WithBody(body),
	)
	if err != nil {
		return 0, errors.Wrapf(err, "count %s", q)
	}
	defer res.Body.Close()
	if err := responseError(res); err != nil {
		return 0, errors.Wrapf(err, "count %s", q)
	}
	var rs struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&rs); err != nil {
		return 0, errors.Wrap(err, "unable to decode count response")
	}
	return rs.Count, nil
}

func (x *ESIndex) Search(ctx context.Context, index string, q Query, size int) ([]json.RawMessage, error) {
	body, err := q.Body()
	if err != nil {
		return nil, err
	}
	res, err := x.es.Search(
		x.es.Search.WithContext(ctx),
		x.es.Search.WithIndex(index),
		x.es.Search.WithBody(body),
		x.es.Search.WithSize(size),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "search %s", q)
	}
	defer res.Body.Close()
	if err := responseError(res); err != nil {
		return nil, errors.Wrapf(err, "search %s", q)
	}
	var rs struct {
		Hits struct {
			Hits []struct {
				Source json.RawMessage `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&rs); err != nil {
		return nil, errors.Wrap(err, "unable to decode search response")
	}
	docs := make([]json.RawMessage, 0, len(rs.Hits.Hits))
	for _, hit := range rs.Hits.Hits {
		docs = append(docs, hit.Source)
	}
	return docs, nil
}

func (x *ESIndex) Refresh(ctx context.Context, index string) error {
	res, err := x.es.Indices.Refresh(
		x.es.Indices.Refresh.WithContext(ctx),
		x.es.Indices.Refresh.WithIndex(index),
	)
	if err != nil {
		return errors.Wrapf(err, "refresh %s", index)
	}
	defer res.Body.Close()
	return errors.Wrapf(responseError(res), "refresh %s", index)
}

func (x *ESIndex) Clean(ctx context.Context, index string) error {
	res, err := x.es.DeleteByQuery(
		[]string{index},
		strings.NewReader(`{"query":{"match_all":{}}}`),
		x.es.DeleteByQuery.WithContext(ctx),
		x.es.DeleteByQuery.WithConflicts("proceed"),
		x.es.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return errors.Wrapf(err, "clean %s", index)
	}
	defer res.Body.Close()
	// nothing to clean yet
	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	return errors.Wrapf(responseError(res), "clean %s", index)
}

func responseError(res *esapi.Response) error {
	if !res.IsError() {
		return nil
	}
	return errors.Errorf("elasticsearch returned %s", res.String())
}
