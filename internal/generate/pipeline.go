package generate

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/yourusername/app-forge/internal/agents"
	"github.com/yourusername/app-forge/internal/jobs"
	"github.com/yourusername/app-forge/internal/telemetry"
	"github.com/yourusername/app-forge/internal/ws"
)

// ジョブ失敗時にフロントエンドへ表示される固定メッセージです。
const (
	msgQualityStandards = "Generation did not meet quality standards"
	msgNoEntryPoint     = "The generated project has no recognizable entry point. Please retry, or refine your prompt to describe the app more concretely."
)

// designRunner は設計フェーズのサブパイプラインです。
type designRunner interface {
	Run(ctx context.Context, jobID, prompt string, attachments []agents.Attachment, maxIterations, threshold int) (*DesignResult, error)
}

// Packager は成果物のアーカイブ化を担当します。
type Packager interface {
	Package(ctx context.Context, files agents.FileSet, jobID string) (downloadURL string, err error)
}

// Publisher は成果物の外部リポジトリへの公開を担当します。公開は任意機能です。
type Publisher interface {
	Publish(ctx context.Context, jobID, prompt string, files agents.FileSet) (*PublishResult, error)
}

// PublishResult は公開フェーズの出力です。
type PublishResult struct {
	RepoURL       string
	DeploymentURL string
}

// runRecorder は生成ランの記録先です。
type runRecorder interface {
	LogRun(record telemetry.RunRecord) error
}

// Pipeline は1件のジョブを設計→コーディング→検証→パッケージング→公開の順に
// 進めます。各フェーズ境界でジョブ状態を更新し、購読者に配信します。
type Pipeline struct {
	store     jobs.Store
	hub       *ws.Hub
	design    designRunner
	generator CodeGenerator
	packager  Packager
	publisher Publisher // nil の場合、公開フェーズはスキップされます
	recorder  runRecorder
	logger    *log.Logger
}

// NewPipeline は Pipeline を作成します。publisher と recorder は nil を許容します。
func NewPipeline(store jobs.Store, hub *ws.Hub, design *IterationController, packager Packager, publisher Publisher, recorder runRecorder, logger *log.Logger) *Pipeline {
	return &Pipeline{
		store:     store,
		hub:       hub,
		design:    design,
		generator: design.generator,
		packager:  packager,
		publisher: publisher,
		recorder:  recorder,
		logger:    logger,
	}
}

// Request はパイプライン実行1回分の入力です。
type Request struct {
	Prompt          string              `json:"prompt"`
	Attachments     []agents.Attachment `json:"attachments,omitempty"`
	ReviewThreshold int                 `json:"review_threshold,omitempty"`
	MaxIterations   int                 `json:"max_iterations,omitempty"`
}

// Run はジョブを最後まで（成功・失敗いずれかの終端まで）進めます。
// 戻り値のエラーはワーカー層のリトライ判断用であり、ジョブ状態は常にここで確定します。
func (p *Pipeline) Run(ctx context.Context, jobID string, req Request) error {
	job, err := p.store.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if job == nil {
		return fmt.Errorf("job %s not found", jobID)
	}
	if job.Status.Terminal() {
		p.logger.Printf("job=%s already %s, skipping", jobID, job.Status)
		return nil
	}

	started := time.Now()

	// design: 仕様抽出 → UX設計 → 生成/レビューのイテレーション。
	if err := p.transition(ctx, jobID, jobs.StepDesign); err != nil {
		return err
	}
	result, err := p.design.Run(ctx, jobID, req.Prompt, req.Attachments, req.MaxIterations, req.ReviewThreshold)
	if err != nil {
		p.logger.Printf("job=%s design failed: %v", jobID, err)
		return p.fail(ctx, jobID, jobs.StepDesign, "Generation failed. Please try again.")
	}

	p.record(jobID, req.Prompt, result, started)

	if !result.Approved {
		p.logger.Printf("job=%s rejected after %d iterations: %s", jobID, result.Iterations, result.Reason)
		return p.fail(ctx, jobID, jobs.StepReviewing, msgQualityStandards)
	}

	// coding: 生成物に支援ファイルを合流させます。生成ファイルが優先されます。
	if err := p.transition(ctx, jobID, jobs.StepCoding); err != nil {
		return err
	}
	files := agents.Merge(p.generator.SupportingFiles(result.Spec), result.Files)

	// validating: エントリーポイントの存在を検証します。
	if err := p.transition(ctx, jobID, jobs.StepValidating); err != nil {
		return err
	}
	entry, err := ResolveEntryPoint(files)
	if err != nil {
		if nested := FindNestedEntryPoint(files); nested != "" {
			p.logger.Printf("job=%s entry point only found nested at %s", jobID, nested)
		}
		return p.fail(ctx, jobID, jobs.StepValidating, msgNoEntryPoint)
	}
	p.logger.Printf("job=%s entry point %s kind=%s", jobID, entry.Path, entry.Kind)

	// packaging: ZIP化してダウンロードURLを確定させます。
	// 以降のフェーズが失敗しても download_url は保持されます。
	if err := p.transition(ctx, jobID, jobs.StepPackaging); err != nil {
		return err
	}
	downloadURL, err := p.packager.Package(ctx, files, jobID)
	if err != nil {
		p.logger.Printf("job=%s packaging failed: %v", jobID, err)
		return p.fail(ctx, jobID, jobs.StepPackaging, "Failed to package the generated app. Please try again.")
	}
	if err := p.update(ctx, jobID, jobs.Update{DownloadURL: jobs.StringPtr(downloadURL)}); err != nil {
		return err
	}

	// deploying: 外部公開はベストエフォート。失敗はログのみで成功扱いのまま進みます。
	if p.publisher != nil {
		if err := p.transition(ctx, jobID, jobs.StepDeploying); err != nil {
			return err
		}
		pub, err := p.publisher.Publish(ctx, jobID, req.Prompt, files)
		if err != nil {
			p.logger.Printf("job=%s publishing failed (non-fatal): %v", jobID, err)
		} else {
			update := jobs.Update{ExternalRepoURL: jobs.StringPtr(pub.RepoURL)}
			if pub.DeploymentURL != "" {
				update.DeploymentURL = jobs.StringPtr(pub.DeploymentURL)
			}
			if err := p.update(ctx, jobID, update); err != nil {
				return err
			}
		}
	}

	if err := p.update(ctx, jobID, jobs.Update{
		Status: jobs.StatusPtr(jobs.StatusComplete),
		Step:   jobs.StepPtr(jobs.StepComplete),
	}); err != nil {
		return err
	}
	p.logger.Printf("job=%s completed in %.1fs", jobID, time.Since(started).Seconds())
	return nil
}

// transition はジョブを in_progress のまま次のステップへ進めて配信します。
func (p *Pipeline) transition(ctx context.Context, jobID string, step jobs.Step) error {
	return p.update(ctx, jobID, jobs.Update{
		Status: jobs.StatusPtr(jobs.StatusInProgress),
		Step:   jobs.StepPtr(step),
	})
}

// fail はジョブを失敗させ、失敗時点のステップとメッセージを記録します。
// 成功済みフェーズのフィールド（download_url など）は上書きしません。
func (p *Pipeline) fail(ctx context.Context, jobID string, step jobs.Step, msg string) error {
	return p.update(ctx, jobID, jobs.Update{
		Status: jobs.StatusPtr(jobs.StatusFailed),
		Step:   jobs.StepPtr(step),
		Error:  jobs.StringPtr(msg),
	})
}

// update は部分更新を適用し、更新後のスナップショットをジョブ個別トピックと
// ジョブ一覧トピックの両方に配信します。
func (p *Pipeline) update(ctx context.Context, jobID string, update jobs.Update) error {
	job, err := p.store.ApplyUpdate(ctx, jobID, update)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", jobID, err)
	}

	msg := ws.Message{Type: "status_update", Data: ws.EventFromJob(job)}
	p.hub.Publish(jobID, msg)
	p.hub.Publish(ws.TopicJobList, msg)
	return nil
}

// record は設計フェーズの結果をテレメトリに残します。失敗してもログのみです。
func (p *Pipeline) record(jobID, prompt string, result *DesignResult, started time.Time) {
	if p.recorder == nil {
		return
	}
	rec := telemetry.RunRecord{
		JobID:           jobID,
		PromptPreview:   prompt,
		Approved:        result.Approved,
		Iterations:      result.Iterations,
		FileCount:       len(result.Files),
		DurationSeconds: time.Since(started).Seconds(),
	}
	if result.Review != nil {
		rec.Score = result.Review.Score
		rec.RequirementsMatch = result.Review.RequirementsMatch
		rec.FunctionalCompleteness = result.Review.FunctionalCompleteness
		rec.UIUXReasonableness = result.Review.UIUXReasonableness
		rec.ReadyForUser = result.Review.ReadyForUser
		rec.RedFlagCount = len(result.Review.ObviousRedFlags)
	}
	if result.Spec != nil {
		rec.CoreFeatures = len(result.Spec.CoreFeatures)
	}
	if err := p.recorder.LogRun(rec); err != nil {
		p.logger.Printf("job=%s telemetry write failed: %v", jobID, err)
	}
}
