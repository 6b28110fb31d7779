package materialize

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Sink persists a materialized file.
type Sink interface {
	Save(ctx context.Context, file *File) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, file *File) error

// Save calls f.
func (f SinkFunc) Save(ctx context.Context, file *File) error {
	return f(ctx, file)
}

// DirSink writes files into Dir, creating it when missing. An existing file
// with the same name is replaced.
type DirSink struct {
	Dir string
}

// Save implements Sink.
func (s DirSink) Save(ctx context.Context, file *File) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	path := filepath.Join(s.Dir, filepath.Base(file.Filename))
	tmp, err := os.CreateTemp(s.Dir, ".export-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod %s: %w", tmp.Name(), err)
	}
	if _, err := tmp.Write(file.Bytes); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// Path returns where Save writes file.
func (s DirSink) Path(file *File) string {
	return filepath.Join(s.Dir, filepath.Base(file.Filename))
}
