package stub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/hyperjump/vearchprobe/internal/models"
	"github.com/hyperjump/vearchprobe/pkg/utils"
)

const defaultSearchSize = 50

// space is one stub space: its schema and its document store.
type space struct {
	id          int64
	db          string
	cfg         models.SpaceConfig
	vectorField string
	dimension   int
	normalize   bool
	metric      string
	store       Store
}

func newSpace(id int64, db string, cfg models.SpaceConfig, store Store) *space {
	field, schema, _ := cfg.VectorField()
	return &space{
		id:          id,
		db:          db,
		cfg:         cfg,
		vectorField: field,
		dimension:   schema.Dimension,
		normalize:   schema.Format == "normalization",
		metric:      cfg.MetricType(),
		store:       store,
	}
}

func (s *space) info(ctx context.Context) (models.SpaceInfo, error) {
	n, err := s.store.Count(ctx)
	if err != nil {
		return models.SpaceInfo{}, err
	}
	return models.SpaceInfo{
		ID:         s.id,
		Name:       s.cfg.Name,
		DBName:     s.db,
		DocNum:     n,
		Engine:     s.cfg.Engine,
		Properties: s.cfg.Properties,
		Partitions: []models.PartitionInfo{{ID: int(s.id), DocNum: n, IndexNum: n, IndexStatus: 2}},
	}, nil
}

// parseDocument validates an insert body against the schema.
func (s *space) parseDocument(id string, body []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var source map[string]any
	if err := dec.Decode(&source); err != nil {
		return nil, fmt.Errorf("invalid document: %w", err)
	}
	if source == nil {
		return nil, errors.New("document must be a json object")
	}
	strict := s.cfg.DynamicSchema == "strict"
	for name := range source {
		if name == "_id" {
			delete(source, name)
			continue
		}
		if _, ok := s.cfg.Properties[name]; !ok && strict {
			return nil, fmt.Errorf("field %q is not in the schema", name)
		}
	}

	raw, ok := source[s.vectorField].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("vector field %q is missing", s.vectorField)
	}
	vec, err := toFloat32s(raw["feature"])
	if err != nil {
		return nil, fmt.Errorf("vector field %q: %w", s.vectorField, err)
	}
	if len(vec) != s.dimension {
		return nil, fmt.Errorf("vector field %q: dimension %d, want %d", s.vectorField, len(vec), s.dimension)
	}
	if s.normalize {
		utils.NormalizeL2(vec)
	}
	return &Document{ID: id, Source: source, Vector: vec}, nil
}

func toFloat32s(v any) ([]float32, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, errors.New("feature must be an array")
	}
	out := make([]float32, len(arr))
	for i, item := range arr {
		n, ok := item.(json.Number)
		if !ok {
			return nil, fmt.Errorf("feature[%d] is not a number", i)
		}
		f, err := n.Float64()
		if err != nil {
			return nil, err
		}
		out[i] = float32(f)
	}
	return out, nil
}

// matches applies every filter of q to doc.
func matches(doc *Document, filters []models.Filter) bool {
	for _, f := range filters {
		switch f := f.(type) {
		case models.RangeFilter:
			v, ok := fieldScalars(doc.Source[f.Field])
			if !ok || len(v) != 1 {
				return false
			}
			n, ok := v[0].Number()
			if !ok || !f.Matches(n) {
				return false
			}
		case models.TermFilter:
			v, ok := fieldScalars(doc.Source[f.Field])
			if !ok || !f.Matches(v) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func fieldScalars(v any) ([]models.Scalar, bool) {
	if v == nil {
		return nil, false
	}
	if arr, ok := v.([]any); ok {
		out := make([]models.Scalar, 0, len(arr))
		for _, item := range arr {
			s, err := models.ScalarFromJSON(item)
			if err != nil {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	s, err := models.ScalarFromJSON(v)
	if err != nil {
		return nil, false
	}
	return []models.Scalar{s}, true
}

type scoredDoc struct {
	doc   *Document
	score float64
}

// search scores every document passing q's filters by exact comparison with the sum clauses.
// When feature is non-nil it replaces the feature of the first sum clause.
func (s *space) search(ctx context.Context, q models.Query, feature []float32) ([]scoredDoc, int, error) {
	clauses := make([]models.VectorSumClause, len(q.Sum))
	copy(clauses, q.Sum)
	if feature != nil && len(clauses) > 0 {
		clauses[0].Feature = feature
	}
	for i := range clauses {
		if clauses[i].Field != s.vectorField {
			return nil, 0, fmt.Errorf("sum field %q is not the vector field %q", clauses[i].Field, s.vectorField)
		}
		if len(clauses[i].Feature) != s.dimension {
			return nil, 0, fmt.Errorf("feature dimension %d, want %d", len(clauses[i].Feature), s.dimension)
		}
		if clauses[i].Format == "normalization" || s.normalize {
			f := append([]float32(nil), clauses[i].Feature...)
			utils.NormalizeL2(f)
			clauses[i].Feature = f
		}
	}

	var hits []scoredDoc
	err := s.store.Each(ctx, func(doc *Document) error {
		if !matches(doc, q.Filters) {
			return nil
		}
		var total float64
		for _, c := range clauses {
			score := s.score(c.Feature, doc.Vector)
			if c.MinScore != nil && score < *c.MinScore {
				return nil
			}
			if c.MaxScore != nil && score > *c.MaxScore {
				return nil
			}
			if c.Boost != nil {
				score *= *c.Boost
			}
			total += score
		}
		hits = append(hits, scoredDoc{doc: doc, score: total})
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	if len(clauses) > 0 {
		ascending := s.metric == models.MetricL2
		sort.SliceStable(hits, func(i, j int) bool {
			if ascending {
				return hits[i].score < hits[j].score
			}
			return hits[i].score > hits[j].score
		})
	}
	total := len(hits)
	size := q.Size
	if size <= 0 {
		size = defaultSearchSize
	}
	if len(hits) > size {
		hits = hits[:size]
	}
	return hits, total, nil
}

func (s *space) score(query, vec []float32) float64 {
	if s.metric == models.MetricL2 {
		return utils.SquaredL2(query, vec)
	}
	return utils.InnerProduct(query, vec)
}

// project renders the _source of a hit: only the requested fields, and the vector only when asked for.
func (s *space) project(doc *Document, fields []string, vectorValue bool) map[string]any {
	out := make(map[string]any, len(doc.Source))
	if len(fields) > 0 {
		for _, f := range fields {
			if v, ok := doc.Source[f]; ok {
				out[f] = v
			}
		}
	} else {
		for k, v := range doc.Source {
			out[k] = v
		}
	}
	if !vectorValue {
		delete(out, s.vectorField)
	}
	return out
}
