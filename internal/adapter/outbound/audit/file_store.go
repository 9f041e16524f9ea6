// Package audit provides file-backed persistence for decision audit
// records: JSON Lines files with daily rotation, a size cap, retention
// cleanup, and a ring buffer of recent entries.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Ident-Gate/Identgate/internal/domain/audit"
)

// logFilePattern matches decision log filenames:
// decisions-YYYY-MM-DD.log or decisions-YYYY-MM-DD-N.log
var logFilePattern = regexp.MustCompile(`^decisions-(\d{4}-\d{2}-\d{2})(?:-(\d+))?\.log$`)

// logFile identifies one decision log file on disk.
type logFile struct {
	name   string
	date   string
	suffix int
}

func parseLogFilename(name string) (logFile, bool) {
	m := logFilePattern.FindStringSubmatch(name)
	if m == nil {
		return logFile{}, false
	}
	lf := logFile{name: name, date: m[1]}
	if m[2] != "" {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return logFile{}, false
		}
		lf.suffix = n
	}
	return lf, true
}

func sortLogFiles(files []logFile) {
	sort.Slice(files, func(i, j int) bool {
		if files[i].date != files[j].date {
			return files[i].date < files[j].date
		}
		return files[i].suffix < files[j].suffix
	})
}

// FileStoreConfig holds configuration for the file-backed audit store.
type FileStoreConfig struct {
	// Dir is the directory where decision log files are stored.
	Dir string
	// RetentionDays is how many days of logs to keep (default 7).
	RetentionDays int
	// MaxFileSizeMB caps a single file before suffix rotation (default 100).
	MaxFileSizeMB int
	// RecentSize is the number of recent records kept in memory (default 1000).
	RecentSize int
}

// FileStore implements audit.Store on top of daily-rotated JSON Lines
// files. Records are appended to decisions-<date>.log in the configured
// directory; files older than the retention window are removed hourly.
type FileStore struct {
	dir           string
	maxFileSize   int64
	retentionDays int

	mu            sync.Mutex
	currentFile   *os.File
	currentDate   string
	currentSize   int64
	currentSuffix int
	closed        bool

	recent *recentRing
	logger *slog.Logger
	cancel context.CancelFunc
}

// NewFileStore opens (or creates) the decision log directory, opens
// today's log file, runs retention cleanup, reloads the recent ring
// from the newest file, and starts the hourly cleanup loop.
func NewFileStore(cfg FileStoreConfig, logger *slog.Logger) (*FileStore, error) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = 100
	}
	if cfg.RecentSize <= 0 {
		cfg.RecentSize = 1000
	}

	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &FileStore{
		dir:           cfg.Dir,
		maxFileSize:   int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		retentionDays: cfg.RetentionDays,
		recent:        newRecentRing(cfg.RecentSize),
		logger:        logger,
		cancel:        cancel,
	}

	today := time.Now().UTC().Format(time.DateOnly)
	if err := s.openCurrentFile(today); err != nil {
		cancel()
		return nil, fmt.Errorf("open decision log: %w", err)
	}

	s.runCleanup()
	s.reloadRecent()
	go s.cleanupLoop(ctx)

	return s, nil
}

// Append writes each record as one JSON line to the current log file,
// rotating on date change or when the size cap is reached.
func (s *FileStore) Append(_ context.Context, records ...audit.Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		dateStr := rec.Timestamp.UTC().Format(time.DateOnly)
		if dateStr != s.currentDate {
			if err := s.rotateDateLocked(dateStr); err != nil {
				return fmt.Errorf("date rotation: %w", err)
			}
		}
		if s.currentSize >= s.maxFileSize {
			if err := s.rotateSizeLocked(); err != nil {
				return fmt.Errorf("size rotation: %w", err)
			}
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal audit record: %w", err)
		}
		n, err := s.currentFile.Write(append(data, '\n'))
		if err != nil {
			return fmt.Errorf("write audit record: %w", err)
		}
		s.currentSize += int64(n)
		s.recent.Add(rec)
	}

	return nil
}

// Recent returns up to n of the most recent records, newest first.
func (s *FileStore) Recent(n int) []audit.Record {
	return s.recent.Recent(n)
}

// Flush syncs the current log file to disk.
func (s *FileStore) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentFile != nil {
		return s.currentFile.Sync()
	}
	return nil
}

// Close stops the cleanup loop and closes the current log file.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()

	if s.currentFile != nil {
		_ = s.currentFile.Sync()
		err := s.currentFile.Close()
		s.currentFile = nil
		return err
	}
	return nil
}

func (s *FileStore) openCurrentFile(dateStr string) error {
	suffix := s.highestSuffix(dateStr)

	f, size, err := s.openFile(dateStr, suffix)
	if err != nil {
		return err
	}

	s.currentFile = f
	s.currentDate = dateStr
	s.currentSize = size
	s.currentSuffix = suffix
	return nil
}

// highestSuffix returns the highest existing suffix for a date, or 0.
func (s *FileStore) highestSuffix(dateStr string) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}

	highest := 0
	for _, e := range entries {
		lf, ok := parseLogFilename(e.Name())
		if !ok || lf.date != dateStr {
			continue
		}
		if lf.suffix > highest {
			highest = lf.suffix
		}
	}
	return highest
}

func (s *FileStore) openFile(dateStr string, suffix int) (*os.File, int64, error) {
	name := s.filename(dateStr, suffix)
	path := filepath.Join(s.dir, name)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, 0, fmt.Errorf("open file %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat file %s: %w", name, err)
	}
	return f, info.Size(), nil
}

func (s *FileStore) filename(dateStr string, suffix int) string {
	if suffix == 0 {
		return fmt.Sprintf("decisions-%s.log", dateStr)
	}
	return fmt.Sprintf("decisions-%s-%d.log", dateStr, suffix)
}

// rotateDateLocked switches to a fresh file for dateStr. Caller holds s.mu.
func (s *FileStore) rotateDateLocked(dateStr string) error {
	if s.currentFile != nil {
		_ = s.currentFile.Sync()
		_ = s.currentFile.Close()
		s.currentFile = nil
	}

	s.currentSuffix = 0
	s.currentSize = 0
	s.currentDate = dateStr

	f, size, err := s.openFile(dateStr, 0)
	if err != nil {
		return err
	}
	s.currentFile = f
	s.currentSize = size
	return nil
}

// rotateSizeLocked opens the next suffixed file for the current date.
// Caller holds s.mu.
func (s *FileStore) rotateSizeLocked() error {
	if s.currentFile != nil {
		_ = s.currentFile.Sync()
		_ = s.currentFile.Close()
		s.currentFile = nil
	}

	s.currentSuffix++
	s.currentSize = 0

	f, size, err := s.openFile(s.currentDate, s.currentSuffix)
	if err != nil {
		return err
	}
	s.currentFile = f
	s.currentSize = size
	return nil
}

// runCleanup deletes log files older than the retention window.
func (s *FileStore) runCleanup() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Error("audit cleanup: failed to read directory", "dir", s.dir, "error", err)
		return
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)
	deleted := 0

	for _, e := range entries {
		lf, ok := parseLogFilename(e.Name())
		if !ok {
			continue
		}
		fileDate, err := time.Parse(time.DateOnly, lf.date)
		if err != nil {
			continue
		}
		if fileDate.Before(cutoff) {
			if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
				s.logger.Error("audit cleanup: failed to delete file",
					"file", e.Name(), "error", err)
			} else {
				deleted++
			}
		}
	}

	if deleted > 0 {
		s.logger.Info("audit cleanup completed", "deleted", deleted)
	}
}

func (s *FileStore) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCleanup()
		}
	}
}

// reloadRecent fills the recent ring from the newest log file so that
// Recent survives restarts.
func (s *FileStore) reloadRecent() {
	newest := s.newestFile()
	if newest == "" {
		return
	}

	f, err := os.Open(filepath.Join(s.dir, newest))
	if err != nil {
		s.logger.Error("audit recent: failed to open file", "file", newest, "error", err)
		return
	}
	defer func() { _ = f.Close() }()

	var records []audit.Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 256*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var rec audit.Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			s.logger.Warn("audit recent: skipping malformed line", "file", newest, "error", err)
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		s.logger.Error("audit recent: error reading file", "file", newest, "error", err)
	}

	start := 0
	if len(records) > s.recent.size {
		start = len(records) - s.recent.size
	}
	for _, rec := range records[start:] {
		s.recent.Add(rec)
	}
}

// newestFile returns the newest non-empty log filename, or "".
func (s *FileStore) newestFile() string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return ""
	}

	var files []logFile
	for _, e := range entries {
		lf, ok := parseLogFilename(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil || info.Size() == 0 {
			continue
		}
		files = append(files, lf)
	}
	if len(files) == 0 {
		return ""
	}

	sortLogFiles(files)
	return files[len(files)-1].name
}

// Compile-time interface verification.
var _ audit.Store = (*FileStore)(nil)

// recentRing is a fixed-size ring buffer of recent audit records.
type recentRing struct {
	entries []audit.Record
	size    int
	head    int
	count   int
	mu      sync.RWMutex
}

func newRecentRing(size int) *recentRing {
	if size <= 0 {
		size = 1000
	}
	return &recentRing{
		entries: make([]audit.Record, size),
		size:    size,
	}
}

func (r *recentRing) Add(rec audit.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[r.head] = rec
	r.head = (r.head + 1) % r.size
	if r.count < r.size {
		r.count++
	}
}

// Recent returns the last n entries, newest first.
func (r *recentRing) Recent(n int) []audit.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n <= 0 || r.count == 0 {
		return nil
	}
	if n > r.count {
		n = r.count
	}

	result := make([]audit.Record, n)
	for i := 0; i < n; i++ {
		// head is the next write position, so head-1 is the newest.
		idx := (r.head - 1 - i + r.size) % r.size
		result[i] = r.entries[idx]
	}
	return result
}
