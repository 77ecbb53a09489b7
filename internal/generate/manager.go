package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/yourusername/app-forge/internal/jobs"
	"github.com/yourusername/app-forge/internal/ws"
)

// taskTypeGenerate は生成ジョブのタスク種別です。
const taskTypeGenerate = "generate:app"

const (
	queueGenerate   = "generate"
	workerCount     = 4
	taskMaxDuration = 30 * time.Minute
)

// taskPayload はキューに積まれるタスクの中身です。
type taskPayload struct {
	JobID   string  `json:"job_id"`
	Request Request `json:"request"`
}

// Manager はジョブの受付とバックグラウンド実行を仲介します。
// 受付時にジョブレコードを作成してキューに積み、ワーカーがパイプラインを実行します。
type Manager struct {
	store    jobs.Store
	hub      *ws.Hub
	pipeline *Pipeline
	client   *asynq.Client
	server   *asynq.Server
	logger   *log.Logger
}

// NewManager は Manager を作成します。redisURL は redis:// 形式のURIです。
func NewManager(redisURL string, store jobs.Store, hub *ws.Hub, pipeline *Pipeline, logger *log.Logger) (*Manager, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := asynq.NewClient(opt)
	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: workerCount,
		Queues: map[string]int{
			queueGenerate: 1,
		},
		Logger: asynqLogger{logger},
	})

	return &Manager{
		store:    store,
		hub:      hub,
		pipeline: pipeline,
		client:   client,
		server:   server,
		logger:   logger,
	}, nil
}

// Schedule は新規ジョブを作成してキューに積み、作成直後のジョブを返します。
// ジョブ作成イベントは一覧トピックに配信されます。
func (m *Manager) Schedule(ctx context.Context, ownerID string, req Request) (*jobs.Job, error) {
	now := time.Now().UTC()
	job := &jobs.Job{
		ID:        uuid.NewString(),
		Prompt:    req.Prompt,
		Status:    jobs.StatusPending,
		Step:      jobs.StepInitializing,
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := m.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	payload, err := json.Marshal(taskPayload{JobID: job.ID, Request: req})
	if err != nil {
		return nil, fmt.Errorf("failed to encode task payload: %w", err)
	}

	task := asynq.NewTask(taskTypeGenerate, payload)
	if _, err := m.client.EnqueueContext(ctx, task,
		asynq.Queue(queueGenerate),
		asynq.MaxRetry(0),
		asynq.Timeout(taskMaxDuration),
	); err != nil {
		// キュー投入に失敗したジョブは即座に失敗として確定させます。
		m.markEnqueueFailed(ctx, job.ID)
		return nil, fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}

	m.hub.Publish(ws.TopicJobList, ws.Message{Type: "job_created", Data: ws.EventFromJob(job)})
	m.logger.Printf("job=%s scheduled", job.ID)
	return job, nil
}

func (m *Manager) markEnqueueFailed(ctx context.Context, jobID string) {
	_, err := m.store.ApplyUpdate(ctx, jobID, jobs.Update{
		Status: jobs.StatusPtr(jobs.StatusFailed),
		Step:   jobs.StepPtr(jobs.StepError),
		Error:  jobs.StringPtr("Failed to start generation. Please try again."),
	})
	if err != nil {
		m.logger.Printf("job=%s failed to mark enqueue failure: %v", jobID, err)
	}
}

// StartWorkers はワーカーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(taskTypeGenerate, m.handleGenerateTask)
	return m.server.Start(mux)
}

// Shutdown はワーカーと接続を停止します。実行中のタスクの完了を待ちます。
func (m *Manager) Shutdown() {
	m.server.Shutdown()
	if err := m.client.Close(); err != nil {
		m.logger.Printf("failed to close task client: %v", err)
	}
}

func (m *Manager) handleGenerateTask(ctx context.Context, task *asynq.Task) error {
	var payload taskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid task payload: %w", err)
	}
	return m.pipeline.Run(ctx, payload.JobID, payload.Request)
}

// asynqLogger は asynq のログを標準ロガーに流します。
type asynqLogger struct {
	l *log.Logger
}

func (a asynqLogger) Debug(args ...interface{}) { a.l.Println(append([]interface{}{"asynq debug:"}, args...)...) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Println(append([]interface{}{"asynq info:"}, args...)...) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Println(append([]interface{}{"asynq warn:"}, args...)...) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Println(append([]interface{}{"asynq error:"}, args...)...) }
func (a asynqLogger) Fatal(args ...interface{}) { a.l.Println(append([]interface{}{"asynq fatal:"}, args...)...) }
