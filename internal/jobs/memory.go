package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore はインメモリの Store 実装です。
// Redis を用意しないローカル開発とテストで使用します。契約は RedisStore と同一です。
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

// NewMemoryStore は MemoryStore を作成します。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

// Create はジョブを新規作成します。
func (s *MemoryStore) Create(ctx context.Context, job *Job) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("job id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, job.ID)
	}

	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt

	clone := *job
	s.jobs[job.ID] = &clone
	return nil
}

// Get はジョブを取得します。存在しない場合は (nil, nil) を返します。
func (s *MemoryStore) Get(ctx context.Context, jobID string) (*Job, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, nil
	}
	clone := *job
	return &clone, nil
}

// ApplyUpdate は部分更新を適用します。ミューテックスで read-modify-write を直列化します。
func (s *MemoryStore) ApplyUpdate(ctx context.Context, jobID string, update Update) (*Job, error) {
	return s.ApplyUpdateIf(ctx, jobID, nil, update)
}

// ApplyUpdateIf はガード付きの部分更新です。guard はミューテックス保持中に
// 現在スナップショットのコピーに対して評価されます。
func (s *MemoryStore) ApplyUpdateIf(ctx context.Context, jobID string, guard func(*Job) bool, update Update) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}

	if guard != nil {
		snapshot := *job
		if !guard(&snapshot) {
			return nil, fmt.Errorf("%w: %s", ErrPreconditionFailed, jobID)
		}
	}

	update.apply(job)
	job.UpdatedAt = time.Now().UTC()

	clone := *job
	return &clone, nil
}

// List はフィルタに一致するジョブを created_at 降順で返します。
func (s *MemoryStore) List(ctx context.Context, filter Filter, limit, offset int) ([]*Job, error) {
	s.mu.Lock()
	var matched []*Job
	for _, job := range s.jobs {
		if filter.matches(job) {
			clone := *job
			matched = append(matched, &clone)
		}
	}
	s.mu.Unlock()

	return sortAndPage(matched, limit, offset), nil
}
