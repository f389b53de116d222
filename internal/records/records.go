package records

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"cortexsoc/internal/metrics"
	"cortexsoc/internal/model"
	"cortexsoc/internal/storage"
)

var ErrNotFound = errors.New("record not found")

// Store keeps the most recent records in ingest order, bounded by limit.
type Store struct {
	mu     sync.RWMutex
	buf    []model.LogRecord
	limit  int
	nextID int64
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 10000
	}
	return &Store{limit: limit}
}

// Add appends rec. A zero ID is replaced with the next sequential one.
func (s *Store) Add(rec model.LogRecord) model.LogRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == 0 {
		s.nextID++
		rec.ID = s.nextID
	} else if rec.ID > s.nextID {
		s.nextID = rec.ID
	}
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, rec)
		return rec
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = rec
	return rec
}

// Recent returns the newest limit records, oldest first. limit <= 0 means all.
func (s *Store) Recent(limit int) []model.LogRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.LogRecord, limit)
	copy(out, s.buf[len(s.buf)-limit:])
	return out
}

func (s *Store) Get(id int64) (model.LogRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.buf) - 1; i >= 0; i-- {
		if s.buf[i].ID == id {
			return s.buf[i], nil
		}
	}
	return model.LogRecord{}, ErrNotFound
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf)
}

// Clear drops buffered records. IDs keep counting up.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}

// Journal writes records to the in-memory store and, when configured, to
// the database. Reads prefer the database.
type Journal struct {
	mem    *Store
	db     storage.Store
	logger *slog.Logger
}

func NewJournal(mem *Store, db storage.Store, logger *slog.Logger) *Journal {
	if mem == nil {
		mem = NewStore(0)
	}
	return &Journal{mem: mem, db: db, logger: logger}
}

// Append stores rec and returns it with its assigned ID. A database failure
// is logged and the record is still kept in memory.
func (j *Journal) Append(ctx context.Context, rec model.LogRecord) model.LogRecord {
	if j.db != nil {
		id, err := j.db.SaveLog(ctx, rec)
		if err != nil {
			metrics.StorageErrors.WithLabelValues("save_log").Inc()
			if j.logger != nil {
				j.logger.Error("persist record failed", "user", rec.User, "type", rec.Type, "err", err)
			}
		} else {
			rec.ID = id
		}
	}
	source := rec.Source
	if source == "" {
		source = "unknown"
	}
	metrics.RecordsIngested.WithLabelValues(source).Inc()
	return j.mem.Add(rec)
}

// Recent returns up to limit of the newest records in ingest order.
func (j *Journal) Recent(ctx context.Context, limit int) []model.LogRecord {
	if limit <= 0 {
		limit = 100
	}
	if j.db != nil {
		out, err := j.db.RecentLogs(ctx, limit)
		if err == nil {
			return out
		}
		metrics.StorageErrors.WithLabelValues("recent_logs").Inc()
		if j.logger != nil {
			j.logger.Warn("read records from storage failed, using memory", "err", err)
		}
	}
	return j.mem.Recent(limit)
}

func (j *Journal) Len() int {
	return j.mem.Len()
}

func (j *Journal) Clear(ctx context.Context) error {
	j.mem.Clear()
	if j.db == nil {
		return nil
	}
	if err := j.db.ClearLogs(ctx); err != nil {
		metrics.StorageErrors.WithLabelValues("clear_logs").Inc()
		return err
	}
	return nil
}
