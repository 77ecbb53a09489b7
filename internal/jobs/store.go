package jobs

import (
	"context"
	"errors"
	"sort"
	"strings"
)

var (
	// ErrNotFound は指定されたジョブが存在しない場合のエラーです。
	ErrNotFound = errors.New("job not found")

	// ErrDuplicateKey は既存のジョブIDで作成しようとした場合のエラーです。
	ErrDuplicateKey = errors.New("job already exists")

	// ErrPreconditionFailed は条件付き更新のガードが現在状態を拒否した場合のエラーです。
	ErrPreconditionFailed = errors.New("job state precondition failed")
)

// Store はジョブ状態の永続化層です。
// ジョブが唯一の真実であり、呼び出し側はスナップショットをキャッシュせず再取得します。
// 同一ジョブIDに対する read-modify-write は実装側で直列化されます。
type Store interface {
	// Create はジョブを新規作成します。IDが既に存在する場合は ErrDuplicateKey を返します。
	Create(ctx context.Context, job *Job) error

	// Get はジョブを取得します。存在しない場合は (nil, nil) を返します。
	Get(ctx context.Context, jobID string) (*Job, error)

	// ApplyUpdate は指定フィールドのみをマージし、updated_at を更新します。
	// 更新後のスナップショットを返します。存在しない場合は ErrNotFound を返します。
	ApplyUpdate(ctx context.Context, jobID string, update Update) (*Job, error)

	// ApplyUpdateIf は guard が現在スナップショットに対して真を返した場合のみ
	// 部分更新を適用します。guard は read-modify-write の直列化区間の内側で
	// 評価されるため、評価時点と書き込み時点の状態は一致します。
	// 偽の場合は ErrPreconditionFailed を返し、ジョブは変更されません。
	ApplyUpdateIf(ctx context.Context, jobID string, guard func(*Job) bool, update Update) (*Job, error)

	// List はフィルタに一致するジョブを created_at 降順（同時刻はID昇順）で返します。
	List(ctx context.Context, filter Filter, limit, offset int) ([]*Job, error)
}

// matches はジョブがフィルタ条件を満たすかどうかを判定します。
func (f Filter) matches(job *Job) bool {
	if f.OwnerID != "" && job.OwnerID != f.OwnerID {
		return false
	}
	if f.Status != "" && job.Status != f.Status {
		return false
	}
	if f.Search != "" && !strings.Contains(strings.ToLower(job.Prompt), strings.ToLower(f.Search)) {
		return false
	}
	return true
}

// sortAndPage は一覧の並び順とページングを両バックエンドで共通化します。
func sortAndPage(items []*Job, limit, offset int) []*Job {
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})

	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
