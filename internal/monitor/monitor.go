// Package monitor は更新が途絶えた実行中ジョブを検出してタイムアウトさせます。
package monitor

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/yourusername/app-forge/internal/jobs"
	"github.com/yourusername/app-forge/internal/ws"
)

// タイムアウトしたジョブに記録される固定メッセージです。
const timeoutMessage = "Job timed out after 15 minutes of inactivity."

const sweepBatchSize = 500

// Monitor は一定間隔で実行中ジョブを走査し、期限を超えて更新のないものを
// 失敗（timeout）として確定させます。
type Monitor struct {
	store    jobs.Store
	hub      *ws.Hub
	interval time.Duration
	deadline time.Duration
	logger   *log.Logger
	now      func() time.Time
}

// New は Monitor を作成します。
func New(store jobs.Store, hub *ws.Hub, interval, deadline time.Duration, logger *log.Logger) *Monitor {
	return &Monitor{
		store:    store,
		hub:      hub,
		interval: interval,
		deadline: deadline,
		logger:   logger,
		now:      time.Now,
	}
}

// Run はコンテキストが打ち切られるまで走査を繰り返します。
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep は実行中ジョブを1回走査し、タイムアウトしたジョブの件数を返します。
func (m *Monitor) Sweep(ctx context.Context) int {
	list, err := m.store.List(ctx, jobs.Filter{Status: jobs.StatusInProgress}, sweepBatchSize, 0)
	if err != nil {
		m.logger.Printf("stuck-job sweep failed: %v", err)
		return 0
	}

	now := m.now()
	timedOut := 0
	for _, job := range list {
		if job.UpdatedAt.IsZero() {
			continue
		}
		if now.Sub(job.UpdatedAt) <= m.deadline {
			continue
		}

		// 一覧取得から書き込みまでの間にジョブが進行・完了していた場合は
		// ストア側の直列化区間で再検査して巻き戻しを防ぐ
		stillStuck := func(j *jobs.Job) bool {
			return j.Status == jobs.StatusInProgress &&
				!j.UpdatedAt.IsZero() &&
				now.Sub(j.UpdatedAt) > m.deadline
		}
		updated, err := m.store.ApplyUpdateIf(ctx, job.ID, stillStuck, jobs.Update{
			Status: jobs.StatusPtr(jobs.StatusFailed),
			Step:   jobs.StepPtr(jobs.StepTimeout),
			Error:  jobs.StringPtr(timeoutMessage),
		})
		if err != nil {
			if errors.Is(err, jobs.ErrPreconditionFailed) {
				continue
			}
			m.logger.Printf("job=%s failed to mark timeout: %v", job.ID, err)
			continue
		}

		msg := ws.Message{Type: "status_update", Data: ws.EventFromJob(updated)}
		m.hub.Publish(job.ID, msg)
		m.hub.Publish(ws.TopicJobList, msg)

		m.logger.Printf("job=%s timed out (last update %s)", job.ID, job.UpdatedAt.Format(time.RFC3339))
		timedOut++
	}
	return timedOut
}
