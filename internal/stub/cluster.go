package stub

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hyperjump/vearchprobe/internal/models"
	"go.uber.org/zap"
)

// Error codes returned in the code field of master replies. The HTTP status mirrors the code.
const (
	CodeInternal       = 550
	CodeParam          = 551
	CodeDBNotExists    = models.CodeDBNotExists
	CodeDBExists       = 563
	CodeDBNotEmpty     = 564
	CodeSpaceNotExists = models.CodeSpaceNotExists
	CodeSpaceExists    = 566
)

// apiError carries a vearch error code and message.
type apiError struct {
	Code int
	Msg  string
}

func (e *apiError) Error() string {
	return e.Msg
}

func errorf(code int, format string, args ...any) *apiError {
	return &apiError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

type database struct {
	info   models.DBInfo
	spaces map[string]*space
}

// Cluster is the in-memory metadata of the stub: databases and their spaces.
type Cluster struct {
	mu      sync.RWMutex
	dataDir string
	logger  *zap.Logger
	nextID  int64
	dbs     map[string]*database
}

// NewCluster returns an empty cluster. RocksDB spaces are stored under dataDir; with no dataDir every
// space is kept in memory.
func NewCluster(dataDir string, logger *zap.Logger) *Cluster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cluster{dataDir: dataDir, logger: logger, dbs: make(map[string]*database)}
}

func (c *Cluster) allocID() int64 {
	c.nextID++
	return c.nextID
}

// CreateDB registers a database.
func (c *Cluster) CreateDB(name string) (models.DBInfo, error) {
	if name == "" {
		return models.DBInfo{}, errorf(CodeParam, "db name is empty")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.dbs[name]; ok {
		return models.DBInfo{}, errorf(CodeDBExists, "db %s already exists", name)
	}
	db := &database{info: models.DBInfo{ID: c.allocID(), Name: name}, spaces: make(map[string]*space)}
	c.dbs[name] = db
	c.logger.Debug("db created", zap.String("db", name))
	return db.info, nil
}

// DB returns a database by name.
func (c *Cluster) DB(name string) (models.DBInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	db, ok := c.dbs[name]
	if !ok {
		return models.DBInfo{}, errorf(CodeDBNotExists, "db %s not exists", name)
	}
	return db.info, nil
}

// DeleteDB removes an empty database.
func (c *Cluster) DeleteDB(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	db, ok := c.dbs[name]
	if !ok {
		return errorf(CodeDBNotExists, "db %s not exists", name)
	}
	if len(db.spaces) > 0 {
		return errorf(CodeDBNotEmpty, "db %s has %d spaces", name, len(db.spaces))
	}
	delete(c.dbs, name)
	c.logger.Debug("db deleted", zap.String("db", name))
	return nil
}

// DBs lists databases by name.
func (c *Cluster) DBs() []models.DBInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.DBInfo, 0, len(c.dbs))
	for _, db := range c.dbs {
		out = append(out, db.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CreateSpace validates cfg and opens a store for the new space.
func (c *Cluster) CreateSpace(ctx context.Context, dbName string, cfg models.SpaceConfig) (models.SpaceInfo, error) {
	if err := cfg.Validate(); err != nil {
		return models.SpaceInfo{}, errorf(CodeParam, "%v", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	db, ok := c.dbs[dbName]
	if !ok {
		return models.SpaceInfo{}, errorf(CodeDBNotExists, "db %s not exists", dbName)
	}
	if _, ok := db.spaces[cfg.Name]; ok {
		return models.SpaceInfo{}, errorf(CodeSpaceExists, "space %s already exists in db %s", cfg.Name, dbName)
	}

	var store Store = NewMemoryStore()
	if cfg.StoreType() == models.StoreRocksDB && c.dataDir != "" {
		path := filepath.Join(c.dataDir, dbName, cfg.Name+".db")
		sqlite, err := NewSQLiteStore(path)
		if err != nil {
			return models.SpaceInfo{}, errorf(CodeInternal, "open store for %s/%s: %v", dbName, cfg.Name, err)
		}
		store = sqlite
	}
	sp := newSpace(c.allocID(), dbName, cfg, store)
	db.spaces[cfg.Name] = sp
	c.logger.Debug("space created",
		zap.String("db", dbName),
		zap.String("space", cfg.Name),
		zap.String("store_type", cfg.StoreType()),
		zap.String("metric", sp.metric),
	)
	return sp.info(ctx)
}

// space returns a space by name.
func (c *Cluster) space(dbName, name string) (*space, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	db, ok := c.dbs[dbName]
	if !ok {
		return nil, errorf(CodeDBNotExists, "db %s not exists", dbName)
	}
	sp, ok := db.spaces[name]
	if !ok {
		return nil, errorf(CodeSpaceNotExists, "space %s not exists in db %s", name, dbName)
	}
	return sp, nil
}

// SpaceInfo describes a space.
func (c *Cluster) SpaceInfo(ctx context.Context, dbName, name string) (models.SpaceInfo, error) {
	sp, err := c.space(dbName, name)
	if err != nil {
		return models.SpaceInfo{}, err
	}
	return sp.info(ctx)
}

// Spaces describes every space of a database.
func (c *Cluster) Spaces(ctx context.Context, dbName string) ([]models.SpaceInfo, error) {
	c.mu.RLock()
	db, ok := c.dbs[dbName]
	if !ok {
		c.mu.RUnlock()
		return nil, errorf(CodeDBNotExists, "db %s not exists", dbName)
	}
	spaces := make([]*space, 0, len(db.spaces))
	for _, sp := range db.spaces {
		spaces = append(spaces, sp)
	}
	c.mu.RUnlock()

	out := make([]models.SpaceInfo, 0, len(spaces))
	for _, sp := range spaces {
		info, err := sp.info(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DeleteSpace drops a space and its store.
func (c *Cluster) DeleteSpace(dbName, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	db, ok := c.dbs[dbName]
	if !ok {
		return errorf(CodeDBNotExists, "db %s not exists", dbName)
	}
	sp, ok := db.spaces[name]
	if !ok {
		return errorf(CodeSpaceNotExists, "space %s not exists in db %s", name, dbName)
	}
	delete(db.spaces, name)
	if err := dropStore(sp.store); err != nil {
		c.logger.Warn("failed to remove space store", zap.String("space", name), zap.Error(err))
	}
	c.logger.Debug("space deleted", zap.String("db", dbName), zap.String("space", name))
	return nil
}

// Health reports per-database space counts.
func (c *Cluster) Health() []models.HealthInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.HealthInfo, 0, len(c.dbs))
	for name, db := range c.dbs {
		out = append(out, models.HealthInfo{DBName: name, SpaceNum: len(db.spaces), Status: "green"})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DBName < out[j].DBName })
	return out
}

// Close releases every store. SQLite files are kept.
func (c *Cluster) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var first error
	for _, db := range c.dbs {
		for _, sp := range db.spaces {
			if err := sp.store.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

func dropStore(s Store) error {
	if r, ok := s.(interface{ Remove() error }); ok {
		return r.Remove()
	}
	return s.Close()
}
