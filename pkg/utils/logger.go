package utils

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// RotatingWriter writes to a file and rotates it once it exceeds maxSize,
// keeping maxBackups numbered backups.
type RotatingWriter struct {
	filename   string
	maxSize    int64
	maxBackups int

	mu   sync.Mutex
	file *os.File
}

// NewRotatingWriter creates a RotatingWriter for filename.
func NewRotatingWriter(filename string, maxSize int64, maxBackups int) *RotatingWriter {
	return &RotatingWriter{
		filename:   filename,
		maxSize:    maxSize,
		maxBackups: maxBackups,
	}
}

func (w *RotatingWriter) open() error {
	file, err := os.OpenFile(w.filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w.file = file
	return nil
}

func (w *RotatingWriter) rotate() error {
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}
	for i := w.maxBackups - 1; i >= 1; i-- {
		os.Rename(fmt.Sprintf("%s.%d", w.filename, i), fmt.Sprintf("%s.%d", w.filename, i+1))
	}
	if w.maxBackups > 0 {
		os.Rename(w.filename, w.filename+".1")
	}
	return w.open()
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		if err := w.open(); err != nil {
			// keep logging alive even when the file cannot be opened
			return os.Stderr.Write(p)
		}
	}
	if info, err := w.file.Stat(); err == nil && info.Size() > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	return w.file.Write(p)
}

// SetupLogger points the global logger at a rotating file under logDir,
// mirrored to stderr.
func SetupLogger(logDir string) {
	os.MkdirAll(logDir, 0o755)
	writer := NewRotatingWriter(filepath.Join(logDir, "doot.log"), 10*1024*1024, 5)
	log.SetOutput(io.MultiWriter(os.Stderr, writer))
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
}
