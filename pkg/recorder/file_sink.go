package recorder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

type tsvFile struct {
	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

// FileSink appends "time\tfield\tvalue" lines to <dir>/<instrument key>.tsv.
// Existing files are appended to.
type FileSink struct {
	dir string

	mu    sync.Mutex
	files map[string]*tsvFile
}

func NewFileSink(dir string) (*FileSink, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create record dir: %w", err)
	}
	return &FileSink{dir: dir, files: make(map[string]*tsvFile)}, nil
}

// Path is the file records for key go to.
func (s *FileSink) Path(key string) string {
	return filepath.Join(s.dir, key+".tsv")
}

func (s *FileSink) file(key string) (*tsvFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tf, ok := s.files[key]; ok {
		return tf, nil
	}
	f, err := os.OpenFile(s.Path(key), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	tf := &tsvFile{f: f, w: bufio.NewWriter(f)}
	s.files[key] = tf
	return tf, nil
}

func (s *FileSink) Write(ctx context.Context, key string, records []Record) error {
	tf, err := s.file(key)
	if err != nil {
		return err
	}

	tf.mu.Lock()
	defer tf.mu.Unlock()
	for _, r := range records {
		tf.w.WriteString(strconv.FormatFloat(r.Time, 'f', -1, 64))
		tf.w.WriteByte('\t')
		tf.w.WriteString(r.Field)
		tf.w.WriteByte('\t')
		tf.w.WriteString(strconv.FormatFloat(r.Value, 'f', -1, 64))
		tf.w.WriteByte('\n')
	}
	return tf.w.Flush()
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for key, tf := range s.files {
		tf.mu.Lock()
		if err := tf.w.Flush(); err != nil {
			errs = append(errs, err)
		}
		if err := tf.f.Close(); err != nil {
			errs = append(errs, err)
		}
		tf.mu.Unlock()
		delete(s.files, key)
	}
	return errors.Join(errs...)
}
