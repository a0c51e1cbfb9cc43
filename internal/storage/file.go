package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"remindbot/internal/task/scheduler"
	logx "remindbot/pkg/logx"
)

const fileCompactEvery = 1000

// fileStore is a dependency-free durable backend. Pending entries live in a
// memory queue; every change is appended to a journal that is periodically
// folded into a snapshot.
//
// Files:
//   - <prefix>.schedule.snapshot.json
//   - <prefix>.schedule.journal.jsonl (append-only)
type fileStore struct {
	log logx.Logger
	mem *scheduler.MemoryBackend

	mu           sync.Mutex
	snapshotPath string
	journal      *os.File
	rows         map[int64]fileRecord
	nextID       int64
	writes       int
}

var (
	_ scheduler.Backend    = (*fileStore)(nil)
	_ scheduler.Lister     = (*fileStore)(nil)
	_ scheduler.Maintainer = (*fileStore)(nil)
)

type fileRecord struct {
	Op         string          `json:"op,omitempty"` // "put" or "del" in the journal
	ID         int64           `json:"id"`
	Expires    int64           `json:"expires,omitempty"`
	Created    int64           `json:"created,omitempty"`
	Event      string          `json:"event,omitempty"`
	ArgsKwargs json.RawMessage `json:"args_kwargs,omitempty"`
}

type fileSnapshot struct {
	NextID  int64        `json:"next_id"`
	Entries []fileRecord `json:"entries"`
}

func (r fileRecord) row() row {
	return row{ID: r.ID, Expires: unixMilli(r.Expires), Created: unixMilli(r.Created), Event: r.Event, ArgsKwargs: r.ArgsKwargs}
}

func openFile(cfg Config, log logx.Logger) (*fileStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".schedule.snapshot.json"
	journalPath := prefix + ".schedule.journal.jsonl"

	st := &fileStore{
		log:          log,
		mem:          scheduler.NewMemoryBackend(),
		snapshotPath: snapPath,
		rows:         map[int64]fileRecord{},
	}
	if err := st.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("file storage: snapshot: %w", err)
	}
	if err := st.replayJournal(journalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("file storage: journal: %w", err)
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	st.journal = jf

	ctx := context.Background()
	for _, rec := range st.rows {
		if _, err := st.mem.Insert(ctx, rec.row().entryLogged(log)); err != nil {
			_ = jf.Close()
			return nil, err
		}
	}
	log.Info("file storage ready", logx.String("prefix", prefix), logx.Int("pending", len(st.rows)))
	return st, nil
}

func (s *fileStore) loadSnapshot() error {
	f, err := os.Open(s.snapshotPath)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap fileSnapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	s.nextID = snap.NextID
	for _, r := range snap.Entries {
		s.rows[r.ID] = r
	}
	return nil
}

func (s *fileStore) replayJournal(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var r fileRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.ID == 0 {
			// a torn final line after a crash
			continue
		}
		if r.ID > s.nextID {
			s.nextID = r.ID
		}
		switch r.Op {
		case "del":
			delete(s.rows, r.ID)
		default:
			r.Op = ""
			s.rows[r.ID] = r
		}
	}
	return sc.Err()
}

func (s *fileStore) appendLocked(r fileRecord) error {
	if s.journal == nil {
		return ErrDisabled
	}
	if err := json.NewEncoder(s.journal).Encode(r); err != nil {
		return err
	}
	if err := s.journal.Sync(); err != nil {
		return err
	}
	s.writes++
	if s.writes%fileCompactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("schedule compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	if s.journal == nil {
		return ErrDisabled
	}
	snap := fileSnapshot{NextID: s.nextID, Entries: make([]fileRecord, 0, len(s.rows))}
	for _, r := range s.rows {
		snap.Entries = append(snap.Entries, r)
	}
	sort.Slice(snap.Entries, func(i, j int) bool { return snap.Entries[i].ID < snap.Entries[j].ID })

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func (s *fileStore) Earliest(ctx context.Context) (scheduler.Entry, bool, error) {
	return s.mem.Earliest(ctx)
}

func (s *fileStore) Available() <-chan struct{} { return s.mem.Available() }

func (s *fileStore) Insert(ctx context.Context, e scheduler.Entry) (scheduler.Entry, error) {
	if err := ctx.Err(); err != nil {
		return scheduler.Entry{}, err
	}
	r, err := toRow(e)
	if err != nil {
		return scheduler.Entry{}, err
	}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	rec := fileRecord{Op: "put", ID: id, Expires: r.Expires.UnixMilli(), Created: r.Created.UnixMilli(), Event: r.Event, ArgsKwargs: r.ArgsKwargs}
	if err := s.appendLocked(rec); err != nil {
		s.mu.Unlock()
		return scheduler.Entry{}, fmt.Errorf("file storage: insert: %w", err)
	}
	rec.Op = ""
	s.rows[id] = rec
	s.mu.Unlock()

	return s.mem.Insert(ctx, e.WithID(id))
}

func (s *fileStore) Delete(ctx context.Context, e scheduler.Entry) error {
	if e.ID == 0 {
		return nil
	}
	s.mu.Lock()
	if _, ok := s.rows[e.ID]; ok {
		if err := s.appendLocked(fileRecord{Op: "del", ID: e.ID}); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("file storage: delete %d: %w", e.ID, err)
		}
		delete(s.rows, e.ID)
	}
	s.mu.Unlock()
	return s.mem.Delete(ctx, e)
}

func (s *fileStore) List(ctx context.Context, f scheduler.Filter) ([]scheduler.Entry, error) {
	return s.mem.List(ctx, f)
}

// Maintain folds the journal into the snapshot.
func (s *fileStore) Maintain(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compactLocked()
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}
