package bench

import (
	"context"
	"fmt"

	"github.com/hyperjump/vearchprobe/internal/client"
	"github.com/hyperjump/vearchprobe/internal/models"
)

// SpaceSearcher issues sweep queries against a vearch space: _search in single mode, _msearch in batch mode.
type SpaceSearcher struct {
	Space  *client.Space
	Field  string
	Fields []string
}

// Search implements Searcher.
func (s *SpaceSearcher) Search(ctx context.Context, p Params, queries [][]float32, k int) ([][]string, error) {
	q := models.Query{
		Sum:            []models.VectorSumClause{{Field: s.Field, Feature: queries[0]}},
		Size:           k,
		Fields:         s.Fields,
		RetrievalParam: &models.RetrievalParam{Nprobe: p.Nprobe, ParallelOnQueries: p.ParallelOnQueries},
	}

	if p.Mode == ModeSingle && len(queries) == 1 {
		resp, err := s.Space.Search(ctx, q)
		if err != nil {
			return nil, err
		}
		if !resp.OK() {
			return nil, fmt.Errorf("search returned status %d", resp.Status)
		}
		var reply models.SearchReply
		if err := resp.Decode(&reply); err != nil {
			return nil, err
		}
		return [][]string{reply.IDs()}, nil
	}

	resp, err := s.Space.MultiSearch(ctx, q, queries)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("msearch returned status %d", resp.Status)
	}
	var reply models.MultiSearchReply
	if err := resp.Decode(&reply); err != nil {
		return nil, err
	}
	out := make([][]string, len(reply.Results))
	for i, r := range reply.Results {
		out[i] = r.IDs()
	}
	return out, nil
}
