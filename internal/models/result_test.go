package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchReply_IDs(t *testing.T) {
	body := `{"took":3,"timed_out":false,"_shards":{"total":1,"successful":1,"failed":0},
		"hits":{"total":2,"max_score":0.9,"hits":[{"_id":"4","_score":0.9},{"_id":"2","_score":0.1}]}}`
	var r SearchReply
	require.NoError(t, json.Unmarshal([]byte(body), &r))
	assert.Equal(t, []string{"4", "2"}, r.IDs())
	assert.Equal(t, 1, r.Shards.Successful)
}

func TestBulkReply_Succeeded(t *testing.T) {
	body := `{"took":1,"errors":true,"items":[
		{"index":{"_id":"1","status":201}},
		{"delete":{"_id":"2","status":200}},
		{"delete":{"_id":"3","status":404,"error":"not found"}}]}`
	var r BulkReply
	require.NoError(t, json.Unmarshal([]byte(body), &r))
	assert.Equal(t, 2, r.Succeeded())
	assert.Equal(t, "not found", r.Items[2].Reply().Error)
}

func TestMasterReply_DecodeData(t *testing.T) {
	var m MasterReply
	require.NoError(t, json.Unmarshal([]byte(`{"code":200,"msg":"success","data":{"name":"s","doc_num":5,
		"partitions":[{"pid":1,"doc_num":3,"index_num":3},{"pid":2,"doc_num":2,"index_num":1}]}}`), &m))
	var info SpaceInfo
	require.NoError(t, m.DecodeData(&info))
	assert.Equal(t, int64(5), info.DocNum)
	assert.Equal(t, int64(4), info.Indexed())

	empty := MasterReply{Code: 550, Msg: "db not exist"}
	assert.Error(t, empty.DecodeData(&info))
}

func TestSpaceConfig_Validate(t *testing.T) {
	space := SpaceConfig{
		Name:         "s",
		PartitionNum: 1,
		ReplicaNum:   1,
		Engine:       Engine{Name: "gamma", RetrievalType: RetrievalIVFFlat},
		Properties: map[string]FieldSchema{
			"int":    {Type: FieldInteger, Index: Bool(true)},
			"vector": {Type: FieldVector, Dimension: 8, StoreType: StoreRocksDB},
		},
	}
	require.NoError(t, space.Validate())
	assert.Equal(t, StoreRocksDB, space.StoreType())
	assert.Equal(t, MetricInner, space.MetricType())

	noVector := space
	noVector.Properties = map[string]FieldSchema{"int": {Type: FieldInteger}}
	assert.Error(t, noVector.Validate())

	badStore := space
	badStore.Properties = map[string]FieldSchema{"vector": {Type: FieldVector, Dimension: 8, StoreType: "Tape"}}
	assert.Error(t, badStore.Validate())

	noDim := space
	noDim.Properties = map[string]FieldSchema{"vector": {Type: FieldVector}}
	assert.Error(t, noDim.Validate())
}

func TestSpaceConfig_VectorFieldStable(t *testing.T) {
	space := SpaceConfig{Properties: map[string]FieldSchema{
		"z_vector": {Type: FieldVector, Dimension: 4, StoreType: StoreRocksDB},
		"a_vector": {Type: FieldVector, Dimension: 8, StoreType: StoreMemoryOnly},
		"b_int":    {Type: FieldInteger},
	}}
	for range 20 {
		name, f, ok := space.VectorField()
		require.True(t, ok)
		assert.Equal(t, "a_vector", name)
		assert.Equal(t, 8, f.Dimension)
		assert.Equal(t, StoreMemoryOnly, space.StoreType())
	}
}
