package publish

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileSink appends records to files in one directory, one record per line.
type FileSink struct {
	dir string
	mu  sync.Mutex
}

// NewFileSink returns a sink writing below dir. The directory is created
// on the first record.
func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

// Record appends payload and a newline to the file called name.
func (s *FileSink) Record(name string, payload []byte) error {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create record dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open record %s: %w", name, err)
	}
	defer f.Close()

	line := make([]byte, 0, len(payload)+1)
	line = append(append(line, payload...), '\n')
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("write record %s: %w", name, err)
	}
	return nil
}
