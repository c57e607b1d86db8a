package harness

import (
	"strings"

	"github.com/hyperjump/vearchprobe/internal/models"
)

// Field names of the functional suite's space. Fixture records carry exactly these fields.
const (
	fieldString     = "string"
	fieldInt        = "int"
	fieldFloat      = "float"
	fieldVector     = "vector"
	fieldStringTags = "string_tags"
	fieldIntTags    = "int_tags"
	fieldFloatTags  = "float_tags"
)

// Field names of the IVFFLAT benchmark space.
const (
	benchFieldInt    = "field_int"
	benchFieldVector = "field_vector"
)

// SuiteSpace returns the strict-schema space used by the functional suite.
func SuiteSpace(name string, dimension int, storeType string) models.SpaceConfig {
	return models.SpaceConfig{
		Name:          name,
		DynamicSchema: "strict",
		PartitionNum:  1,
		ReplicaNum:    1,
		Engine: models.Engine{
			Name:      "gamma",
			IndexSize: 10000,
			MaxSize:   100000000,
		},
		Properties: map[string]models.FieldSchema{
			fieldString: {Type: models.FieldKeyword, Index: models.Bool(true)},
			fieldInt:    {Type: models.FieldInteger, Index: models.Bool(true)},
			fieldFloat:  {Type: models.FieldFloat, Index: models.Bool(true)},
			fieldVector: {
				Type:      models.FieldVector,
				Dimension: dimension,
				Format:    "normalization",
				StoreType: storeType,
				StoreParam: map[string]int{
					"cache_size": 2048,
				},
			},
			fieldStringTags: {Type: models.FieldString, Array: true, Index: models.Bool(true)},
			fieldIntTags:    {Type: models.FieldInteger, Array: true, Index: models.Bool(true)},
			fieldFloatTags:  {Type: models.FieldFloat, Array: true, Index: models.Bool(true)},
		},
	}
}

// IVFFlatSpace returns the benchmark space: an L2 IVFFLAT index over field_vector, trained once
// ncentroids*39 documents are present.
func IVFFlatSpace(name string, dimension, ncentroids int, storeType string) models.SpaceConfig {
	return models.SpaceConfig{
		Name:         name,
		PartitionNum: 1,
		ReplicaNum:   1,
		Engine: models.Engine{
			Name:          "gamma",
			IndexSize:     ncentroids * 39,
			MaxSize:       100000000,
			RetrievalType: models.RetrievalIVFFlat,
			RetrievalParam: &models.RetrievalParams{
				MetricType: models.MetricL2,
				NCentroids: ncentroids,
			},
		},
		Properties: map[string]models.FieldSchema{
			benchFieldInt: {Type: models.FieldInteger, Index: models.Bool(false)},
			benchFieldVector: {
				Type:      models.FieldVector,
				Index:     models.Bool(true),
				Dimension: dimension,
				StoreType: storeType,
				StoreParam: map[string]int{
					"cache_size": 1024,
				},
			},
		},
	}
}

// spaceNameFor suffixes base with the store type when the suite covers more than one.
func spaceNameFor(base, storeType string, storeTypes int) string {
	if storeTypes <= 1 {
		return base
	}
	return base + "_" + strings.ToLower(storeType)
}
