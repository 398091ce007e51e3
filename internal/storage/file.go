package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	logx "taskd/pkg/logx"
)

// fileStore appends fires to <path> as JSON Lines. The newest records per
// job are kept in memory for queries; older lines stay on disk only.
type fileStore struct {
	log    logx.Logger
	retain int

	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	recent map[string][]FireRecord // oldest first
	order  []FireRecord            // across all jobs, oldest first
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create storage dir")
	}

	st := &fileStore{log: log, retain: cfg.retain(), recent: map[string][]FireRecord{}}
	if err := st.replay(path); err != nil {
		log.Warn("fire history replay incomplete", logx.String("path", path), logx.Err(err))
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "open fire history")
	}
	st.f = f
	st.w = bufio.NewWriter(f)
	return st, nil
}

func (s *fileStore) replay(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	bad := 0
	for sc.Scan() {
		var r FireRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			bad++
			continue
		}
		s.remember(r)
	}
	if bad > 0 {
		s.log.Warn("skipped malformed fire history lines", logx.Int("count", bad))
	}
	return sc.Err()
}

func (s *fileStore) remember(r FireRecord) {
	list := append(s.recent[r.JobID], r)
	if len(list) > s.retain {
		list = list[len(list)-s.retain:]
	}
	s.recent[r.JobID] = list

	s.order = append(s.order, r)
	if max := s.retain * 4; len(s.order) > max {
		s.order = append([]FireRecord(nil), s.order[len(s.order)-max:]...)
	}
}

func (s *fileStore) AppendFire(ctx context.Context, r FireRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "encode fire record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrDisabled
	}
	if _, err := s.w.Write(append(b, '\n')); err != nil {
		return errors.Wrap(err, "write fire record")
	}
	if err := s.w.Flush(); err != nil {
		return errors.Wrap(err, "flush fire record")
	}
	s.remember(r)
	return nil
}

func (s *fileStore) RecentFires(ctx context.Context, jobID string, limit int) ([]FireRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.order
	if jobID != "" {
		src = s.recent[jobID]
	}
	if limit <= 0 || limit > len(src) {
		limit = len(src)
	}
	out := make([]FireRecord, 0, limit)
	for i := len(src) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, src[i])
	}
	return out, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	ferr := s.w.Flush()
	cerr := s.f.Close()
	s.f = nil
	s.w = nil
	return errors.CombineErrors(ferr, cerr)
}
