package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/hyperjump/vearchprobe/internal/models"
)

// Space addresses the document endpoints of one space.
type Space struct {
	c    *Client
	DB   string
	Name string
}

// Space returns a handle for document operations on db/space.
func (c *Client) Space(db, space string) *Space {
	return &Space{c: c, DB: db, Name: space}
}

// Insert stores rec. An empty id lets the server assign one.
func (s *Space) Insert(ctx context.Context, id string, rec models.Record) (*Response, error) {
	body, err := rec.Body()
	if err != nil {
		return nil, fmt.Errorf("insertDocument: %w", err)
	}
	target := join(s.c.dataURL, s.DB, s.Name)
	if id != "" {
		target = join(s.c.dataURL, s.DB, s.Name, id)
	}
	return s.c.do(ctx, "insertDocument", http.MethodPost, target, body, contentJSON)
}

// Get issues GET /{db}/{space}/{id}.
func (s *Space) Get(ctx context.Context, id string) (*Response, error) {
	return s.c.do(ctx, "getDocumentById", http.MethodGet, join(s.c.dataURL, s.DB, s.Name, id), nil, "")
}

// Delete issues DELETE /{db}/{space}/{id}.
func (s *Space) Delete(ctx context.Context, id string) (*Response, error) {
	return s.c.do(ctx, "deleteDocumentById", http.MethodDelete, join(s.c.dataURL, s.DB, s.Name, id), nil, "")
}

// BulkInsert sends every record in one _bulk request, keyed by record id.
func (s *Space) BulkInsert(ctx context.Context, recs []models.Record) (*Response, error) {
	body, err := BulkIndexBody(recs)
	if err != nil {
		return nil, fmt.Errorf("bulkInsert: %w", err)
	}
	return s.c.do(ctx, "bulkInsert", http.MethodPost, join(s.c.dataURL, s.DB, s.Name, "_bulk"), body, contentNDJSON)
}

// BulkDelete removes ids in one _bulk request.
func (s *Space) BulkDelete(ctx context.Context, ids []string) (*Response, error) {
	body, err := BulkDeleteBody(ids)
	if err != nil {
		return nil, fmt.Errorf("bulkDelete: %w", err)
	}
	return s.c.do(ctx, "bulkDelete", http.MethodPost, join(s.c.dataURL, s.DB, s.Name, "_bulk"), body, contentNDJSON)
}

// Search validates q and issues POST /{db}/{space}/_search.
func (s *Space) Search(ctx context.Context, q models.Query) (*Response, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return s.c.do(ctx, "search", http.MethodPost, join(s.c.dataURL, s.DB, s.Name, "_search"), body, contentJSON)
}

// MultiSearch runs one query per vector in a single _msearch request.
// The vectors are concatenated into the first sum clause's feature.
func (s *Space) MultiSearch(ctx context.Context, q models.Query, vectors [][]float32) (*Response, error) {
	if len(q.Sum) == 0 {
		return nil, errors.New("multiSearch: query needs a sum clause")
	}
	if len(vectors) == 0 {
		return nil, errors.New("multiSearch: no vectors")
	}
	dim := len(vectors[0])
	feature := make([]float32, 0, dim*len(vectors))
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("multiSearch: vector %d has dimension %d, want %d", i, len(v), dim)
		}
		feature = append(feature, v...)
	}
	sum := append([]models.VectorSumClause(nil), q.Sum...)
	sum[0].Feature = feature
	q.Sum = sum
	body, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("multiSearch: %w", err)
	}
	return s.c.do(ctx, "multiSearch", http.MethodPost, join(s.c.dataURL, s.DB, s.Name, "_msearch"), body, contentJSON)
}

// DeleteByQuery validates q and issues POST /{db}/{space}/_delete_by_query.
func (s *Space) DeleteByQuery(ctx context.Context, q models.Query) (*Response, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("deleteByQuery: %w", err)
	}
	return s.c.do(ctx, "deleteByQuery", http.MethodPost, join(s.c.dataURL, s.DB, s.Name, "_delete_by_query"), body, contentJSON)
}

// Info fetches the space description from the master.
func (s *Space) Info(ctx context.Context) (*models.SpaceInfo, *Response, error) {
	return s.c.SpaceInfo(ctx, s.DB, s.Name)
}

type bulkAction struct {
	ID string `json:"_id"`
}

// BulkIndexBody renders {"index":{"_id":..}} / document line pairs.
func BulkIndexBody(recs []models.Record) ([]byte, error) {
	var buf bytes.Buffer
	for _, r := range recs {
		if r.ID == "" {
			return nil, fmt.Errorf("bulk index: record without id")
		}
		action, err := json.Marshal(map[string]bulkAction{"index": {ID: r.ID}})
		if err != nil {
			return nil, err
		}
		doc, err := r.Body()
		if err != nil {
			return nil, err
		}
		buf.Write(action)
		buf.WriteByte('\n')
		buf.Write(doc)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// BulkDeleteBody renders one {"delete":{"_id":..}} line per id.
func BulkDeleteBody(ids []string) ([]byte, error) {
	var buf bytes.Buffer
	for _, id := range ids {
		action, err := json.Marshal(map[string]bulkAction{"delete": {ID: id}})
		if err != nil {
			return nil, err
		}
		buf.Write(action)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}
