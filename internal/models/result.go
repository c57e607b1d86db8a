package models

import (
	"encoding/json"
	"fmt"
)

// Master reply codes and messages.
const (
	CodeSuccess = 200
	MsgSuccess  = "success"

	CodeDBNotExists    = 562
	CodeSpaceNotExists = 565
)

// MasterReply is the envelope returned by database/space administration endpoints.
type MasterReply struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data,omitempty"`
}

// DecodeData unmarshals the reply payload into v.
func (m MasterReply) DecodeData(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("reply has no data (code %d, msg %q)", m.Code, m.Msg)
	}
	return json.Unmarshal(m.Data, v)
}

// DBInfo describes a database.
type DBInfo struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// PartitionInfo reports per-partition document and index counts.
type PartitionInfo struct {
	ID          int   `json:"pid"`
	DocNum      int64 `json:"doc_num"`
	IndexNum    int64 `json:"index_num"`
	IndexStatus int   `json:"index_status"`
}

// SpaceInfo describes a space as returned by the master.
type SpaceInfo struct {
	ID         int64                  `json:"id"`
	Name       string                 `json:"name"`
	DBName     string                 `json:"db_name"`
	DocNum     int64                  `json:"doc_num"`
	Engine     Engine                 `json:"engine"`
	Properties map[string]FieldSchema `json:"properties"`
	Partitions []PartitionInfo        `json:"partitions"`
}

// Indexed returns the number of indexed documents summed over partitions.
func (s SpaceInfo) Indexed() int64 {
	var n int64
	for _, p := range s.Partitions {
		n += p.IndexNum
	}
	return n
}

// ServerInfo describes one partition server.
type ServerInfo struct {
	ID   int64  `json:"name"`
	IP   string `json:"ip"`
	Addr string `json:"rpc_addr"`
}

// HealthInfo is the health of one database.
type HealthInfo struct {
	DBName   string `json:"db_name"`
	SpaceNum int    `json:"space_num"`
	Status   string `json:"status"`
}

// ClusterStats is one entry of the cluster stats reply.
type ClusterStats struct {
	Status int    `json:"status"`
	IP     string `json:"ip"`
	Labels string `json:"labels,omitempty"`
}

// Shards summarizes per-partition outcome of a document operation.
type Shards struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// DocReply is returned by single-document insert and delete, and per bulk item.
type DocReply struct {
	Index   string `json:"_index"`
	Type    string `json:"_type"`
	ID      string `json:"_id"`
	Status  int    `json:"status"`
	Version int    `json:"_version,omitempty"`
	Result  string `json:"result,omitempty"`
	Shards  Shards `json:"_shards"`
	Error   string `json:"error,omitempty"`
}

// GetReply is returned by get-by-id.
type GetReply struct {
	Index   string          `json:"_index"`
	Type    string          `json:"_type"`
	ID      string          `json:"_id"`
	Found   bool            `json:"found"`
	Version int             `json:"_version,omitempty"`
	Source  json.RawMessage `json:"_source,omitempty"`
}

// Hit is one search result.
type Hit struct {
	Index  string          `json:"_index"`
	Type   string          `json:"_type"`
	ID     string          `json:"_id"`
	Score  float64         `json:"_score"`
	Source json.RawMessage `json:"_source,omitempty"`
}

// Hits is the result list of a search.
type Hits struct {
	Total    int     `json:"total"`
	MaxScore float64 `json:"max_score"`
	Hits     []Hit   `json:"hits"`
}

// SearchReply is returned by _search and per query by _msearch.
type SearchReply struct {
	Took     int64  `json:"took"`
	TimedOut bool   `json:"timed_out"`
	Shards   Shards `json:"_shards"`
	Hits     Hits   `json:"hits"`
}

// IDs returns hit identifiers in rank order.
func (s SearchReply) IDs() []string {
	ids := make([]string, len(s.Hits.Hits))
	for i, h := range s.Hits.Hits {
		ids[i] = h.ID
	}
	return ids
}

// MultiSearchReply is returned by _msearch.
type MultiSearchReply struct {
	Took    int64         `json:"took"`
	Results []SearchReply `json:"results"`
}

// BulkItem is one entry of a bulk reply; exactly one of Index or Delete is set.
type BulkItem struct {
	Index  *DocReply `json:"index,omitempty"`
	Delete *DocReply `json:"delete,omitempty"`
}

// Reply returns whichever action reply is set.
func (b BulkItem) Reply() *DocReply {
	if b.Index != nil {
		return b.Index
	}
	return b.Delete
}

// BulkReply is returned by _bulk.
type BulkReply struct {
	Took   int64      `json:"took"`
	Errors bool       `json:"errors"`
	Items  []BulkItem `json:"items"`
}

// Succeeded counts items whose status is 2xx.
func (b BulkReply) Succeeded() int {
	n := 0
	for _, item := range b.Items {
		if r := item.Reply(); r != nil && r.Status >= 200 && r.Status < 300 {
			n++
		}
	}
	return n
}

// DeleteByQueryReply is returned by _delete_by_query.
type DeleteByQueryReply struct {
	Took    int64  `json:"took"`
	Deleted int    `json:"deleted"`
	Shards  Shards `json:"_shards"`
}
