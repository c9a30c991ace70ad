package runlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/KilnWorks/datascope-cli/internal/utils"
)

const logFileName = "runs.json"

// Entry records one completed pipeline run.
type Entry struct {
	ID          string            `json:"id"`
	Dataset     string            `json:"dataset"`
	Rows        int               `json:"rows"`
	ReportPath  string            `json:"report_path"`
	Statuses    map[string]string `json:"statuses"`
	Synthesized bool              `json:"synthesized"`
	StartedAt   time.Time         `json:"started_at"`
	DurationMs  int64             `json:"duration_ms"`
}

// Log is the persisted run history for one machine.
type Log struct {
	Entries []Entry `json:"entries"`

	// Not serialized: on-disk location of runs.json
	dir string
}

// Open loads the run history from dir, returning an empty log when none
// exists yet.
func Open(dir string) (*Log, error) {
	l := &Log{dir: dir}
	b, err := os.ReadFile(filepath.Join(dir, logFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return l, nil
		}
		return nil, fmt.Errorf("read run log: %w", err)
	}
	if err := json.Unmarshal(b, l); err != nil {
		return nil, fmt.Errorf("parse run log: %w", err)
	}
	l.dir = dir
	return l, nil
}

// Append adds an entry and persists the log using atomic write.
func (l *Log) Append(e Entry) error {
	if l.dir == "" {
		return errors.New("run log directory not set")
	}
	l.Entries = append(l.Entries, e)
	if err := utils.EnsureDir(l.dir); err != nil {
		return fmt.Errorf("ensure dir: %w", err)
	}
	data, err := utils.PrettyJSON(l)
	if err != nil {
		return err
	}
	return utils.SafeWriteFile(filepath.Join(l.dir, logFileName), data)
}

// Recent returns the newest n entries, newest first.
func (l *Log) Recent(n int) []Entry {
	if n <= 0 || n > len(l.Entries) {
		n = len(l.Entries)
	}
	out := make([]Entry, 0, n)
	for i := len(l.Entries) - 1; i >= len(l.Entries)-n; i-- {
		out = append(out, l.Entries[i])
	}
	return out
}
