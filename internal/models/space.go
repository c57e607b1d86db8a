package models

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Field types accepted in a space schema.
const (
	FieldKeyword = "keyword"
	FieldString  = "string"
	FieldInteger = "integer"
	FieldLong    = "long"
	FieldFloat   = "float"
	FieldDouble  = "double"
	FieldVector  = "vector"
)

// Vector store types. MemoryOnly and Mmap keep vectors in memory; RocksDB is disk-backed.
const (
	StoreMemoryOnly = "MemoryOnly"
	StoreMmap       = "Mmap"
	StoreRocksDB    = "RocksDB"
)

// Retrieval types and metrics used by the benchmark.
const (
	RetrievalIVFFlat = "IVFFLAT"
	MetricL2         = "L2"
	MetricInner      = "InnerProduct"
)

// FieldSchema describes one property of a space.
type FieldSchema struct {
	Type       string         `json:"type"`
	Index      *bool          `json:"index,omitempty"`
	Array      bool           `json:"array,omitempty"`
	Dimension  int            `json:"dimension,omitempty"`
	ModelID    string         `json:"model_id,omitempty"`
	Format     string         `json:"format,omitempty"`
	StoreType  string         `json:"store_type,omitempty"`
	StoreParam map[string]int `json:"store_param,omitempty"`
}

// RetrievalParams configures the vector index of a space.
type RetrievalParams struct {
	MetricType string `json:"metric_type,omitempty"`
	NCentroids int    `json:"ncentroids,omitempty"`
	NSubvector int    `json:"nsubvector,omitempty"`
}

// Engine configures the storage/index engine of a space.
type Engine struct {
	Name           string           `json:"name"`
	IndexSize      int              `json:"index_size,omitempty"`
	MaxSize        int              `json:"max_size,omitempty"`
	RetrievalType  string           `json:"retrieval_type,omitempty"`
	RetrievalParam *RetrievalParams `json:"retrieval_param,omitempty"`
}

// SpaceModel binds a model to input fields.
type SpaceModel struct {
	ModelID string   `json:"model_id"`
	Fields  []string `json:"fields"`
	Out     string   `json:"out"`
}

// SpaceConfig is the body of a space creation request.
type SpaceConfig struct {
	Name          string                 `json:"name"`
	DynamicSchema string                 `json:"dynamic_schema,omitempty"`
	PartitionNum  int                    `json:"partition_num"`
	ReplicaNum    int                    `json:"replica_num"`
	Engine        Engine                 `json:"engine"`
	Properties    map[string]FieldSchema `json:"properties"`
	Models        []SpaceModel           `json:"models,omitempty"`
}

// Validate checks the space has a name, a positive partition count and a well-formed vector field.
func (s SpaceConfig) Validate() error {
	if s.Name == "" {
		return errors.New("space name is required")
	}
	if s.PartitionNum <= 0 || s.ReplicaNum <= 0 {
		return fmt.Errorf("space %q: partition_num and replica_num must be positive", s.Name)
	}
	vectors := 0
	for name, f := range s.Properties {
		switch f.Type {
		case FieldVector:
			if f.Dimension <= 0 {
				return fmt.Errorf("space %q: vector field %q needs a positive dimension", s.Name, name)
			}
			switch f.StoreType {
			case "", StoreMemoryOnly, StoreMmap, StoreRocksDB:
			default:
				return fmt.Errorf("space %q: vector field %q has unknown store type %q", s.Name, name, f.StoreType)
			}
			vectors++
		case FieldKeyword, FieldString, FieldInteger, FieldLong, FieldFloat, FieldDouble:
		default:
			return fmt.Errorf("space %q: field %q has unknown type %q", s.Name, name, f.Type)
		}
	}
	if vectors == 0 {
		return fmt.Errorf("space %q: at least one vector field is required", s.Name)
	}
	return nil
}

// VectorField returns the name and schema of the vector field that sorts first by name.
func (s SpaceConfig) VectorField() (string, FieldSchema, bool) {
	for _, name := range slices.Sorted(maps.Keys(s.Properties)) {
		if f := s.Properties[name]; f.Type == FieldVector {
			return name, f, true
		}
	}
	return "", FieldSchema{}, false
}

// StoreType returns the vector store type, defaulting to Mmap as vearch does.
func (s SpaceConfig) StoreType() string {
	if _, f, ok := s.VectorField(); ok && f.StoreType != "" {
		return f.StoreType
	}
	return StoreMmap
}

// MetricType returns the configured metric, defaulting to inner product.
func (s SpaceConfig) MetricType() string {
	if p := s.Engine.RetrievalParam; p != nil && p.MetricType != "" {
		return p.MetricType
	}
	return MetricInner
}

// Bool returns a pointer to b, for optional schema flags.
func Bool(b bool) *bool {
	return &b
}
