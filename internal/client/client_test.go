package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/vearchprobe/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	Method      string
	Path        string
	RawQuery    string
	ContentType string
	Body        string
}

func recordingServer(t *testing.T, status int, reply string) (*httptest.Server, *[]recorded) {
	t.Helper()
	var mu sync.Mutex
	var reqs []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, recorded{
			Method:      r.Method,
			Path:        r.URL.Path,
			RawQuery:    r.URL.RawQuery,
			ContentType: r.Header.Get("Content-Type"),
			Body:        string(body),
		})
		mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, &reqs
}

func newTestClient(t *testing.T, router, data string) *Client {
	t.Helper()
	c, err := New(Options{RouterURL: router, DataURL: data, Timeout: 5 * time.Second})
	require.NoError(t, err)
	return c
}

func testRecord() models.Record {
	return models.Record{
		ID:          "1",
		NumericID:   true,
		VectorField: "vector",
		Vector:      []float32{0.1, 0.2},
		Scalars:     map[string]models.Scalar{"int": models.Int(1)},
	}
}

func TestMasterOperations(t *testing.T) {
	srv, reqs := recordingServer(t, http.StatusOK, `{"code":200,"msg":"success"}`)
	c := newTestClient(t, srv.URL+"/", srv.URL)
	ctx := context.Background()

	space := models.SpaceConfig{
		Name: "ts_space", PartitionNum: 1, ReplicaNum: 1,
		Engine:     models.Engine{Name: "gamma"},
		Properties: map[string]models.FieldSchema{"vector": {Type: models.FieldVector, Dimension: 2}},
	}
	calls := []func() (*Response, error){
		func() (*Response, error) { return c.CreateDatabase(ctx, "ts_db") },
		func() (*Response, error) { return c.GetDatabase(ctx, "ts_db") },
		func() (*Response, error) { return c.CreateSpace(ctx, "ts_db", space) },
		func() (*Response, error) { return c.GetSpace(ctx, "ts_db", "ts_space") },
		func() (*Response, error) { return c.ListSpaces(ctx, "ts_db") },
		func() (*Response, error) { return c.DeleteSpace(ctx, "ts_db", "ts_space") },
		func() (*Response, error) { return c.DeleteDatabase(ctx, "ts_db") },
	}
	for _, call := range calls {
		resp, err := call()
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.Status)
		assert.True(t, resp.OK())
	}

	want := []struct{ method, path string }{
		{http.MethodPut, "/db/_create"},
		{http.MethodGet, "/db/ts_db"},
		{http.MethodPut, "/space/ts_db/_create"},
		{http.MethodGet, "/space/ts_db/ts_space"},
		{http.MethodGet, "/list/space"},
		{http.MethodDelete, "/space/ts_db/ts_space"},
		{http.MethodDelete, "/db/ts_db"},
	}
	require.Len(t, *reqs, len(want))
	for i, w := range want {
		assert.Equal(t, w.method, (*reqs)[i].Method, "request %d", i)
		assert.Equal(t, w.path, (*reqs)[i].Path, "request %d", i)
	}
	assert.JSONEq(t, `{"name":"ts_db"}`, (*reqs)[0].Body)
	assert.Equal(t, "db=ts_db", (*reqs)[4].RawQuery)
	assert.Contains(t, (*reqs)[2].Body, `"partition_num":1`)
}

func TestCreateSpace_invalidNotSent(t *testing.T) {
	srv, reqs := recordingServer(t, http.StatusOK, `{}`)
	c := newTestClient(t, srv.URL, srv.URL)
	_, err := c.CreateSpace(context.Background(), "db", models.SpaceConfig{Name: "s"})
	require.Error(t, err)
	assert.Empty(t, *reqs)
}

func TestDocumentOperations(t *testing.T) {
	srv, reqs := recordingServer(t, http.StatusOK, `{"status":201}`)
	c := newTestClient(t, srv.URL, srv.URL)
	sp := c.Space("ts_db", "ts_space")
	ctx := context.Background()
	rec := testRecord()

	_, err := sp.Insert(ctx, rec.ID, rec)
	require.NoError(t, err)
	_, err = sp.Insert(ctx, "", rec)
	require.NoError(t, err)
	_, err = sp.Get(ctx, "1")
	require.NoError(t, err)
	_, err = sp.Delete(ctx, "1")
	require.NoError(t, err)
	_, err = sp.BulkInsert(ctx, []models.Record{rec, rec})
	require.NoError(t, err)
	_, err = sp.BulkDelete(ctx, []string{"1", "2"})
	require.NoError(t, err)

	got := *reqs
	require.Len(t, got, 6)
	assert.Equal(t, "/ts_db/ts_space/1", got[0].Path)
	assert.NotContains(t, got[0].Body, `"_id"`)
	assert.Equal(t, "/ts_db/ts_space", got[1].Path)
	assert.Equal(t, http.MethodGet, got[2].Method)
	assert.Equal(t, http.MethodDelete, got[3].Method)
	assert.Equal(t, "/ts_db/ts_space/_bulk", got[4].Path)
	lines := strings.Split(strings.TrimSpace(got[4].Body), "\n")
	require.Len(t, lines, 4)
	assert.JSONEq(t, `{"index":{"_id":"1"}}`, lines[0])
	assert.Equal(t, `{"delete":{"_id":"1"}}`+"\n"+`{"delete":{"_id":"2"}}`+"\n", got[5].Body)
	assert.Equal(t, contentNDJSON, got[5].ContentType)
}

func TestSearch_validatesBeforeSending(t *testing.T) {
	srv, reqs := recordingServer(t, http.StatusOK, `{}`)
	c := newTestClient(t, srv.URL, srv.URL)
	sp := c.Space("db", "s")

	_, err := sp.Search(context.Background(), models.Query{})
	require.Error(t, err)
	_, err = sp.DeleteByQuery(context.Background(), models.Query{Filters: []models.Filter{models.RangeFilter{Field: "int"}}})
	require.Error(t, err)
	assert.Empty(t, *reqs)

	q := models.Query{Sum: []models.VectorSumClause{{Field: "vector", Feature: []float32{1, 0}}}, Size: 3}
	_, err = sp.Search(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, *reqs, 1)
	assert.Equal(t, "/db/s/_search", (*reqs)[0].Path)
}

func TestMultiSearch_concatenatesFeatures(t *testing.T) {
	srv, reqs := recordingServer(t, http.StatusOK, `{"results":[]}`)
	c := newTestClient(t, srv.URL, srv.URL)
	q := models.Query{Sum: []models.VectorSumClause{{Field: "vector", Feature: []float32{9}}}}

	_, err := c.Space("db", "s").MultiSearch(context.Background(), q, [][]float32{{1, 2}, {3, 4}})
	require.NoError(t, err)
	require.Len(t, *reqs, 1)
	assert.Equal(t, "/db/s/_msearch", (*reqs)[0].Path)
	assert.Contains(t, (*reqs)[0].Body, `"feature":[1,2,3,4]`)
	assert.Equal(t, []float32{9}, q.Sum[0].Feature, "caller's query must not be modified")

	_, err = c.Space("db", "s").MultiSearch(context.Background(), q, [][]float32{{1, 2}, {3}})
	assert.Error(t, err)
}

func TestNonSuccessStatusIsData(t *testing.T) {
	srv, _ := recordingServer(t, http.StatusNotFound, `{"code":564,"msg":"space not found"}`)
	c := newTestClient(t, srv.URL, srv.URL)
	resp, err := c.GetSpace(context.Background(), "db", "missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Status)
	assert.False(t, resp.OK())

	var reply models.MasterReply
	require.NoError(t, resp.Decode(&reply))
	assert.Equal(t, "space not found", reply.Msg)
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c := newTestClient(t, addr, addr)
	_, err := c.ClusterHealth(context.Background())
	var terr *TransportError
	require.True(t, errors.As(err, &terr), "got %v", err)
	assert.Equal(t, "clusterHealth", terr.Op)
	assert.Equal(t, http.MethodGet, terr.Method)
	assert.True(t, strings.HasSuffix(terr.URL, "/_cluster/health"))
}

func TestNoAutomaticRetry(t *testing.T) {
	srv, reqs := recordingServer(t, http.StatusServiceUnavailable, `busy`)
	c := newTestClient(t, srv.URL, srv.URL)
	resp, err := c.ListServers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
	assert.Len(t, *reqs, 1)
}

func TestNew_rejectsEmptyURL(t *testing.T) {
	_, err := New(Options{RouterURL: "", DataURL: "http://x"})
	assert.Error(t, err)
	c, err := New(Options{RouterURL: "127.0.0.1:8817", DataURL: "http://127.0.0.1:9001/"})
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8817", c.RouterURL())
	assert.Equal(t, "http://127.0.0.1:9001", c.DataURL())
}

func TestPoll(t *testing.T) {
	n := 0
	err := Poll(context.Background(), time.Millisecond, func(context.Context) (bool, error) {
		n++
		return n == 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = Poll(ctx, 5*time.Millisecond, func(context.Context) (bool, error) { return false, nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	boom := errors.New("boom")
	err = Poll(context.Background(), time.Millisecond, func(context.Context) (bool, error) { return false, boom })
	assert.ErrorIs(t, err, boom)
}
