package stub

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hyperjump/vearchprobe/internal/models"
	"go.uber.org/zap"
)

const maxBodySize = 256 << 20

var singleShard = models.Shards{Total: 1, Successful: 1, Failed: 0}

func (s *Server) routeSpace(w http.ResponseWriter, r *http.Request) (*space, bool) {
	sp, err := s.cluster.space(chi.URLParam(r, "db"), chi.URLParam(r, "space"))
	if err != nil {
		s.respondError(w, err)
		return nil, false
	}
	return sp, true
}

func (sp *space) docReply(id string, status int, result string, version int) models.DocReply {
	return models.DocReply{
		Index:   sp.db,
		Type:    sp.cfg.Name,
		ID:      id,
		Status:  status,
		Version: version,
		Result:  result,
		Shards:  singleShard,
	}
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	sp, ok := s.routeSpace(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		s.respondError(w, errorf(CodeParam, "read body: %v", err))
		return
	}
	id := chi.URLParam(r, "id")
	if id == "" {
		id = uuid.NewString()
	}
	doc, err := sp.parseDocument(id, body)
	if err != nil {
		s.respondError(w, errorf(CodeParam, "%v", err))
		return
	}
	version, created, err := sp.store.Upsert(r.Context(), doc)
	if err != nil {
		s.respondError(w, err)
		return
	}
	status, result := http.StatusOK, "updated"
	if created {
		status, result = http.StatusCreated, "created"
	}
	s.respondJSON(w, http.StatusOK, sp.docReply(id, status, result, version))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	sp, ok := s.routeSpace(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	doc, err := sp.store.Get(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		s.respondJSON(w, http.StatusNotFound, models.GetReply{Index: sp.db, Type: sp.cfg.Name, ID: id, Found: false})
		return
	}
	if err != nil {
		s.respondError(w, err)
		return
	}
	source, err := json.Marshal(doc.Source)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, models.GetReply{
		Index:   sp.db,
		Type:    sp.cfg.Name,
		ID:      id,
		Found:   true,
		Version: doc.Version,
		Source:  source,
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sp, ok := s.routeSpace(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	existed, err := sp.store.Delete(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if !existed {
		s.respondJSON(w, http.StatusOK, sp.docReply(id, http.StatusNotFound, "not_found", 0))
		return
	}
	s.respondJSON(w, http.StatusOK, sp.docReply(id, http.StatusOK, "deleted", 0))
}

type bulkTarget struct {
	ID string `json:"_id"`
}

type bulkAction struct {
	Index  *bulkTarget `json:"index"`
	Create *bulkTarget `json:"create"`
	Delete *bulkTarget `json:"delete"`
}

func (s *Server) handleBulk(w http.ResponseWriter, r *http.Request) {
	sp, ok := s.routeSpace(w, r)
	if !ok {
		return
	}
	start := time.Now()
	sc := bufio.NewScanner(io.LimitReader(r.Body, maxBodySize))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	reply := models.BulkReply{Items: []models.BulkItem{}}
	line := 0
	next := func() ([]byte, bool) {
		for sc.Scan() {
			line++
			if text := bytes.TrimSpace(sc.Bytes()); len(text) > 0 {
				return text, true
			}
		}
		return nil, false
	}
	for {
		text, ok := next()
		if !ok {
			break
		}
		var action bulkAction
		if err := json.Unmarshal(text, &action); err != nil {
			s.respondError(w, errorf(CodeParam, "bulk line %d: %v", line, err))
			return
		}
		switch {
		case action.Delete != nil:
			id := action.Delete.ID
			existed, err := sp.store.Delete(r.Context(), id)
			if err != nil {
				s.respondError(w, err)
				return
			}
			item := sp.docReply(id, http.StatusOK, "deleted", 0)
			if !existed {
				item = sp.docReply(id, http.StatusNotFound, "not_found", 0)
				reply.Errors = true
			}
			reply.Items = append(reply.Items, models.BulkItem{Delete: &item})

		case action.Index != nil || action.Create != nil:
			target := action.Index
			if target == nil {
				target = action.Create
			}
			id := target.ID
			if id == "" {
				id = uuid.NewString()
			}
			docLine, ok := next()
			if !ok {
				s.respondError(w, errorf(CodeParam, "bulk line %d: index action without document", line))
				return
			}
			item := s.bulkIndex(r, sp, id, docLine)
			if item.Status >= 300 {
				reply.Errors = true
			}
			reply.Items = append(reply.Items, models.BulkItem{Index: &item})

		default:
			s.respondError(w, errorf(CodeParam, "bulk line %d: unknown action", line))
			return
		}
	}
	if err := sc.Err(); err != nil {
		s.respondError(w, errorf(CodeParam, "bulk body: %v", err))
		return
	}
	reply.Took = time.Since(start).Milliseconds()
	s.respondJSON(w, http.StatusOK, reply)
}

func (s *Server) bulkIndex(r *http.Request, sp *space, id string, body []byte) models.DocReply {
	doc, err := sp.parseDocument(id, body)
	if err != nil {
		item := sp.docReply(id, http.StatusBadRequest, "", 0)
		item.Error = err.Error()
		item.Shards = models.Shards{Total: 1, Failed: 1}
		return item
	}
	version, created, err := sp.store.Upsert(r.Context(), doc)
	if err != nil {
		s.logger.Error("bulk upsert failed", zap.String("id", id), zap.Error(err))
		item := sp.docReply(id, http.StatusInternalServerError, "", 0)
		item.Error = err.Error()
		item.Shards = models.Shards{Total: 1, Failed: 1}
		return item
	}
	if created {
		return sp.docReply(id, http.StatusCreated, "created", version)
	}
	return sp.docReply(id, http.StatusOK, "updated", version)
}

// decodeQuery parses a search body; a size URL parameter applies when the body sets none.
func (s *Server) decodeQuery(w http.ResponseWriter, r *http.Request) (models.Query, bool) {
	var q models.Query
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&q); err != nil {
		s.respondError(w, errorf(CodeParam, "invalid query: %v", err))
		return q, false
	}
	if err := q.Validate(); err != nil {
		s.respondError(w, errorf(CodeParam, "invalid query: %v", err))
		return q, false
	}
	if q.Size == 0 {
		if size, err := strconv.Atoi(r.URL.Query().Get("size")); err == nil && size > 0 {
			q.Size = size
		}
	}
	return q, true
}

func (sp *space) searchReply(hits []scoredDoc, total int, q models.Query, took time.Duration) (models.SearchReply, error) {
	reply := models.SearchReply{
		Took:   took.Milliseconds(),
		Shards: singleShard,
		Hits:   models.Hits{Total: total, Hits: make([]models.Hit, 0, len(hits))},
	}
	for i, h := range hits {
		source, err := json.Marshal(sp.project(h.doc, q.Fields, q.VectorValue))
		if err != nil {
			return reply, err
		}
		if i == 0 {
			reply.Hits.MaxScore = h.score
		}
		reply.Hits.Hits = append(reply.Hits.Hits, models.Hit{
			Index:  sp.db,
			Type:   sp.cfg.Name,
			ID:     h.doc.ID,
			Score:  h.score,
			Source: source,
		})
	}
	return reply, nil
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	sp, ok := s.routeSpace(w, r)
	if !ok {
		return
	}
	q, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}
	start := time.Now()
	hits, total, err := sp.search(r.Context(), q, nil)
	if err != nil {
		s.respondError(w, errorf(CodeParam, "%v", err))
		return
	}
	reply, err := sp.searchReply(hits, total, q, time.Since(start))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, reply)
}

func (s *Server) handleMultiSearch(w http.ResponseWriter, r *http.Request) {
	sp, ok := s.routeSpace(w, r)
	if !ok {
		return
	}
	q, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}
	if len(q.Sum) == 0 {
		s.respondError(w, errorf(CodeParam, "msearch needs a sum clause"))
		return
	}
	feature := q.Sum[0].Feature
	if sp.dimension == 0 || len(feature)%sp.dimension != 0 {
		s.respondError(w, errorf(CodeParam, "feature length %d is not a multiple of dimension %d", len(feature), sp.dimension))
		return
	}

	start := time.Now()
	out := models.MultiSearchReply{Results: make([]models.SearchReply, 0, len(feature)/sp.dimension)}
	for off := 0; off < len(feature); off += sp.dimension {
		began := time.Now()
		hits, total, err := sp.search(r.Context(), q, feature[off:off+sp.dimension])
		if err != nil {
			s.respondError(w, errorf(CodeParam, "query %d: %v", off/sp.dimension, err))
			return
		}
		reply, err := sp.searchReply(hits, total, q, time.Since(began))
		if err != nil {
			s.respondError(w, err)
			return
		}
		out.Results = append(out.Results, reply)
	}
	out.Took = time.Since(start).Milliseconds()
	s.respondJSON(w, http.StatusOK, out)
}

// handleDeleteByQuery removes every hit the same query would return from _search.
func (s *Server) handleDeleteByQuery(w http.ResponseWriter, r *http.Request) {
	sp, ok := s.routeSpace(w, r)
	if !ok {
		return
	}
	q, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}
	start := time.Now()
	hits, _, err := sp.search(r.Context(), q, nil)
	if err != nil {
		s.respondError(w, errorf(CodeParam, "%v", err))
		return
	}
	deleted := 0
	for _, h := range hits {
		existed, err := sp.store.Delete(r.Context(), h.doc.ID)
		if err != nil {
			s.respondError(w, fmt.Errorf("delete %s: %w", h.doc.ID, err))
			return
		}
		if existed {
			deleted++
		}
	}
	s.respondJSON(w, http.StatusOK, models.DeleteByQueryReply{
		Took:    time.Since(start).Milliseconds(),
		Deleted: deleted,
		Shards:  singleShard,
	})
}
