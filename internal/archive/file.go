package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/lox/wingo/internal/fileutil"
)

// File is a Memory store that rewrites a JSON snapshot of its contents
// after every save, so history survives restarts without a database.
type File struct {
	*Memory
	path    string
	writeMu sync.Mutex
}

// OpenFile loads path if it exists and returns a store writing back to it.
func OpenFile(path string, limit int) (*File, error) {
	f := &File{Memory: NewMemory(limit), path: path}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}

	var rounds []Summary
	if err := json.Unmarshal(data, &rounds); err != nil {
		return nil, fmt.Errorf("decode archive %s: %w", path, err)
	}
	sort.SliceStable(rounds, func(i, j int) bool {
		return rounds[i].CompletedAt.Before(rounds[j].CompletedAt)
	})
	for _, s := range rounds {
		f.appendLocked(s)
	}
	return f, nil
}

func (f *File) SaveRound(ctx context.Context, s Summary) error {
	if err := f.Memory.SaveRound(ctx, s); err != nil {
		return err
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	rounds := f.all()
	sort.SliceStable(rounds, func(i, j int) bool {
		return rounds[i].CompletedAt.Before(rounds[j].CompletedAt)
	})
	data, err := json.MarshalIndent(rounds, "", "  ")
	if err != nil {
		return fmt.Errorf("encode archive: %w", err)
	}
	if err := fileutil.WriteFileAtomic(f.path, data, 0o644); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	return nil
}
