package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	jobKeyPrefix = "job:"
	jobIndexKey  = "jobs:index"
)

// RedisStore はジョブ状態を Redis に保存する Store 実装です。
// 一覧取得のため、作成時刻をスコアとする sorted set にIDを登録します。
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore は RedisStore を作成します。
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Create はジョブを新規作成します。
func (s *RedisStore) Create(ctx context.Context, job *Job) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt

	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}

	ok, err := s.rdb.SetNX(ctx, jobKey(job.ID), payload, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, job.ID)
	}

	return s.rdb.ZAdd(ctx, jobIndexKey, redis.Z{
		Score:  float64(job.CreatedAt.UnixNano()),
		Member: job.ID,
	}).Err()
}

// Get はジョブを取得します。存在しない場合は (nil, nil) を返します。
func (s *RedisStore) Get(ctx context.Context, jobID string) (*Job, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	data, err := s.rdb.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ApplyUpdate は部分更新を WATCH ループで適用します。
// 同一ジョブへの同時更新は楽観的ロックで直列化され、別IDのジョブとは競合しません。
func (s *RedisStore) ApplyUpdate(ctx context.Context, jobID string, update Update) (*Job, error) {
	return s.ApplyUpdateIf(ctx, jobID, nil, update)
}

// ApplyUpdateIf はガード付きの部分更新です。guard は WATCH 区間の内側で
// 評価されるため、評価に使った状態が書き込み前に変わると再試行されます。
func (s *RedisStore) ApplyUpdateIf(ctx context.Context, jobID string, guard func(*Job) bool, update Update) (*Job, error) {
	key := jobKey(jobID)
	var updated *Job

	for {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if err == redis.Nil {
					return fmt.Errorf("%w: %s", ErrNotFound, jobID)
				}
				return err
			}

			var job Job
			if err := json.Unmarshal(data, &job); err != nil {
				return err
			}
			if guard != nil {
				snapshot := job
				if !guard(&snapshot) {
					return fmt.Errorf("%w: %s", ErrPreconditionFailed, jobID)
				}
			}
			update.apply(&job)
			job.UpdatedAt = time.Now().UTC()

			payload, err := json.Marshal(&job)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, redis.KeepTTL)
				return nil
			})
			if err != nil {
				return err
			}
			updated = &job
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
}

// List はインデックスを新しい順に走査し、フィルタを適用して返します。
func (s *RedisStore) List(ctx context.Context, filter Filter, limit, offset int) ([]*Job, error) {
	ids, err := s.rdb.ZRevRange(ctx, jobIndexKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = jobKey(id)
	}

	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	var matched []*Job
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// インデックスにあるが本体が消えたエントリは読み飛ばす
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			return nil, err
		}
		if filter.matches(&job) {
			matched = append(matched, &job)
		}
	}

	return sortAndPage(matched, limit, offset), nil
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}
