package position

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// JournalEntry is one line of the transition journal.
type JournalEntry struct {
	At       time.Time `json:"at"`
	From     Status    `json:"from"`
	To       Status    `json:"to"`
	Note     string    `json:"note,omitempty"`
	Position Position  `json:"position"`
}

// Journal appends every committed transition as a JSON line.
type Journal struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
	log  zerolog.Logger
}

// OpenJournal creates/opens the target file for appending.
func OpenJournal(path string, log zerolog.Logger) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &Journal{file: file, enc: json.NewEncoder(file), log: log}, nil
}

// Observe implements Observer.
func (j *Journal) Observe(p Position, c Change) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return
	}
	entry := JournalEntry{At: c.At, From: c.From, To: c.To, Note: c.Note, Position: p}
	if err := j.enc.Encode(entry); err != nil {
		j.log.Warn().Err(err).Str("id", p.ID).Msg("journal write failed")
	}
}

// Close flushes and closes the file handle.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}
