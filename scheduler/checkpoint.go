package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aluiziolira/go-catalog-ingest/config"
)

// Checkpoint is the resume point of a named run: every listing with an ID at
// or below Cursor has been processed.
type Checkpoint struct {
	Run       string    `json:"run"`
	Cursor    uint      `json:"cursor"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CheckpointStore persists run cursors between process restarts.
type CheckpointStore interface {
	Load(ctx context.Context, run string) (Checkpoint, bool, error)
	Save(ctx context.Context, cp Checkpoint) error
	Clear(ctx context.Context, run string) error
	Close() error
}

// NewCheckpointStore builds the backend named by cfg.CheckpointBackend.
func NewCheckpointStore(ctx context.Context, cfg *config.Config) (CheckpointStore, error) {
	switch cfg.CheckpointBackend {
	case "", "file":
		return NewFileCheckpoints(cfg.CheckpointPath), nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		return NewRedisCheckpoints(client, ""), nil
	default:
		return nil, fmt.Errorf("unsupported checkpoint backend %q", cfg.CheckpointBackend)
	}
}

// FileCheckpoints keeps every run's cursor in one JSON file, rewritten
// through a temp file and rename so a crash never leaves it half written.
type FileCheckpoints struct {
	path string
	mu   sync.Mutex
}

func NewFileCheckpoints(path string) *FileCheckpoints {
	return &FileCheckpoints{path: path}
}

func (f *FileCheckpoints) Load(_ context.Context, run string) (Checkpoint, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all, err := f.read()
	if err != nil {
		return Checkpoint{}, false, err
	}
	cp, ok := all[run]
	return cp, ok, nil
}

func (f *FileCheckpoints) Save(_ context.Context, cp Checkpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	all, err := f.read()
	if err != nil {
		return err
	}
	all[cp.Run] = cp
	return f.write(all)
}

func (f *FileCheckpoints) Clear(_ context.Context, run string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	all, err := f.read()
	if err != nil {
		return err
	}
	if _, ok := all[run]; !ok {
		return nil
	}
	delete(all, run)
	return f.write(all)
}

func (f *FileCheckpoints) Close() error {
	return nil
}

func (f *FileCheckpoints) read() (map[string]Checkpoint, error) {
	all := make(map[string]Checkpoint)
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return all, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint file: %w", err)
	}
	if len(raw) == 0 {
		return all, nil
	}
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, fmt.Errorf("decode checkpoint file %s: %w", f.path, err)
	}
	return all, nil
}

func (f *FileCheckpoints) write(all map[string]Checkpoint) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	raw, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoints: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace checkpoint file: %w", err)
	}
	return nil
}

// RedisCheckpoints stores one key per run.
type RedisCheckpoints struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisCheckpoints(client redis.UniversalClient, prefix string) *RedisCheckpoints {
	if prefix == "" {
		prefix = "catalog:checkpoint"
	}
	return &RedisCheckpoints{client: client, prefix: prefix}
}

func (r *RedisCheckpoints) key(run string) string {
	return fmt.Sprintf("%s:%s", r.prefix, run)
}

func (r *RedisCheckpoints) Load(ctx context.Context, run string) (Checkpoint, bool, error) {
	raw, err := r.client.Get(ctx, r.key(run)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("load checkpoint %s: %w", run, err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return Checkpoint{}, false, fmt.Errorf("decode checkpoint %s: %w", run, err)
	}
	return cp, true, nil
}

func (r *RedisCheckpoints) Save(ctx context.Context, cp Checkpoint) error {
	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := r.client.Set(ctx, r.key(cp.Run), raw, 0).Err(); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.Run, err)
	}
	return nil
}

func (r *RedisCheckpoints) Clear(ctx context.Context, run string) error {
	if err := r.client.Del(ctx, r.key(run)).Err(); err != nil {
		return fmt.Errorf("clear checkpoint %s: %w", run, err)
	}
	return nil
}

func (r *RedisCheckpoints) Close() error {
	return r.client.Close()
}
