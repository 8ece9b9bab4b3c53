package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	DefaultMaxJournalSize = 100 * 1024 * 1024
	JournalExtension      = ".jsonl"
	ArchiveDir            = "archive"
)

// Entry is one line of the command journal.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Event     string         `json:"event"`
	Command   string         `json:"command,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Journal appends entries as JSON lines and moves the file into archive/ once it
// would grow past maxSize.
type Journal struct {
	mu              sync.Mutex
	file            *os.File
	currentSize     int64
	maxSize         int64
	path            string
	rotationCounter int
}

func NewJournal(path string, maxSize int64) (*Journal, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxJournalSize
	}
	j := &Journal{path: path, maxSize: maxSize}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	if err := j.open(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Journal) open() error {
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat journal: %w", err)
	}
	j.file = f
	j.currentSize = stat.Size()
	return nil
}

// Record converts a bus event into a journal entry. The "command" data key, when
// present, is lifted into Entry.Command.
func (j *Journal) Record(ev Event) error {
	entry := Entry{Timestamp: ev.Timestamp, Event: string(ev.Type), Details: ev.Data}
	if cmd, ok := ev.Data["command"].(string); ok {
		entry.Command = cmd
	}
	return j.Write(&entry)
}

// Attach journals every bus event until the returned function is called. That
// function returns once events already queued for the journal are written, so the
// journal may be closed straight after. Write failures are passed to onError, which
// may be nil.
func (j *Journal) Attach(bus *Bus, onError func(error)) func() {
	return bus.SubscribeAllDrained(func(ev Event) {
		if err := j.Record(ev); err != nil && onError != nil {
			onError(err)
		}
	})
}

func (j *Journal) Write(entry *Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return fmt.Errorf("journal %s is closed", j.path)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	data = append(data, '\n')

	if j.currentSize > 0 && j.currentSize+int64(len(data)) > j.maxSize {
		if err := j.rotate(); err != nil {
			return fmt.Errorf("rotate journal: %w", err)
		}
	}

	n, err := j.file.Write(data)
	if err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("sync journal: %w", err)
	}
	j.currentSize += int64(n)
	return nil
}

// rotate archives the current file and starts a new one. When archiving fails the
// current file is reopened so later writes keep appending to it.
func (j *Journal) rotate() error {
	closeErr := j.file.Close()
	j.file = nil
	if closeErr != nil {
		return j.reopen(fmt.Errorf("close journal: %w", closeErr))
	}

	archiveDir := filepath.Join(filepath.Dir(j.path), ArchiveDir)
	if err := os.MkdirAll(archiveDir, 0755); err != nil {
		return j.reopen(fmt.Errorf("create archive directory: %w", err))
	}

	j.rotationCounter++
	base := strings.TrimSuffix(filepath.Base(j.path), JournalExtension)
	archiveName := fmt.Sprintf("%s.%s.%d%s", base, time.Now().Format("20060102_150405"), j.rotationCounter, JournalExtension)
	if err := os.Rename(j.path, filepath.Join(archiveDir, archiveName)); err != nil {
		return j.reopen(fmt.Errorf("archive journal: %w", err))
	}
	return j.open()
}

func (j *Journal) reopen(cause error) error {
	if err := j.open(); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func (j *Journal) Size() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.currentSize
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil
	}
	f := j.file
	j.file = nil
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
