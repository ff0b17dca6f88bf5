// Package feedback keeps an append-only log of the stars and kills a writer
// gives to voice comments. Records are JSON lines in a local file, one per
// judgment, so the voice prompts can be tuned against what writers kept.
package feedback

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/inkmemory/pkg/document"
)

// Record is a single feedback entry written to the file store.
type Record struct {
	Timestamp time.Time         `json:"timestamp"`
	SessionID string            `json:"session_id"`
	CommentID string            `json:"comment_id"`
	VoiceID   string            `json:"voice_id"`
	Phrase    string            `json:"phrase"`
	Feedback  document.Feedback `json:"feedback"`
}

// NewRecord builds the record for fb given to c in session sessionID.
func NewRecord(sessionID string, c document.Comment, fb document.Feedback, now time.Time) Record {
	return Record{
		Timestamp: now.UTC(),
		SessionID: sessionID,
		CommentID: c.ID,
		VoiceID:   c.VoiceID,
		Phrase:    c.Phrase,
		Feedback:  fb,
	}
}

// FileStore persists feedback as JSON lines in a local file.
// Thread-safe for concurrent use.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a FileStore that writes to the given path.
// The file is created on the first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the log file path.
func (fs *FileStore) Path() string { return fs.path }

// Save appends r to the file.
func (fs *FileStore) Save(r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("feedback: marshal: %w", err)
	}
	data = append(data, '\n')

	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, err := os.OpenFile(fs.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("feedback: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("feedback: write: %w", err)
	}
	return nil
}

// Records reads every record in the file. A missing file yields none. Lines
// that do not decode are skipped.
func (fs *FileStore) Records() ([]Record, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, err := os.Open(fs.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("feedback: open file: %w", err)
	}
	defer f.Close()

	var out []Record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("feedback: read: %w", err)
	}
	return out, nil
}

// Tally counts stars and kills per voice.
type Tally struct {
	Stars int
	Kills int
}

// TallyByVoice summarises records per voice id. Cleared feedback is not
// counted.
func TallyByVoice(records []Record) map[string]Tally {
	out := make(map[string]Tally)
	for _, r := range records {
		t := out[r.VoiceID]
		switch r.Feedback {
		case document.FeedbackStar:
			t.Stars++
		case document.FeedbackKill:
			t.Kills++
		default:
			continue
		}
		out[r.VoiceID] = t
	}
	return out
}
