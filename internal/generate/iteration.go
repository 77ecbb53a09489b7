package generate

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/yourusername/app-forge/internal/agents"
)

// 設計フェーズの既定パラメータ。リクエストごとに上書きできます。
const (
	DefaultMaxIterations   = 3
	DefaultReviewThreshold = 80
)

// ReasonMaxIterations は上限まで回しても承認されなかった場合の結果タグです。
const ReasonMaxIterations = "max iterations reached"

// briefTopN は修復ブリーフに取り込む各カテゴリの上限件数です。
const briefTopN = 5

// SpecExtractor はプロンプトから構造化仕様を抽出します。
type SpecExtractor interface {
	ExtractSpec(ctx context.Context, prompt string, attachments []agents.Attachment) (*agents.AppSpec, error)
}

// UXPlanner は仕様からUX設計を導出します。
type UXPlanner interface {
	PlanUX(ctx context.Context, spec *agents.AppSpec) (*agents.UXPlan, error)
}

// CodeGenerator はプロジェクトのファイル一式を生成します。
type CodeGenerator interface {
	GenerateCode(ctx context.Context, spec *agents.AppSpec, plan *agents.UXPlan, previous agents.FileSet, repairBrief string) (agents.FileSet, error)
	SupportingFiles(spec *agents.AppSpec) agents.FileSet
}

// Reviewer は生成結果を採点します。
type Reviewer interface {
	Review(ctx context.Context, spec *agents.AppSpec, files agents.FileSet, plan *agents.UXPlan, iteration int) (*agents.ReviewResult, error)
}

// IterationRecord は1回のイテレーション試行の記録です。
type IterationRecord struct {
	Index  int
	Files  agents.FileSet
	Review *agents.ReviewResult
}

// DesignResult は設計フェーズ全体の結果です。
// 承認されなかった場合も最後のイテレーションのコードとレビューを保持します。
type DesignResult struct {
	Approved   bool
	Spec       *agents.AppSpec
	Plan       *agents.UXPlan
	Files      agents.FileSet
	Review     *agents.ReviewResult
	Iterations int
	Reason     string // 不承認時のみ設定
}

// IterationController は生成→レビューのループを上限回数まで実行します。
// コラボレーター呼び出しのエラーは低スコアに潰さず、そのまま伝播させます。
type IterationController struct {
	extractor SpecExtractor
	planner   UXPlanner
	generator CodeGenerator
	reviewer  Reviewer
	logger    *log.Logger
}

// NewIterationController は IterationController を作成します。
func NewIterationController(extractor SpecExtractor, planner UXPlanner, generator CodeGenerator, reviewer Reviewer, logger *log.Logger) *IterationController {
	return &IterationController{
		extractor: extractor,
		planner:   planner,
		generator: generator,
		reviewer:  reviewer,
		logger:    logger,
	}
}

// Run は設計フェーズのサブパイプラインを実行します。
func (c *IterationController) Run(ctx context.Context, jobID, prompt string, attachments []agents.Attachment, maxIterations, threshold int) (*DesignResult, error) {
	if maxIterations < 1 {
		maxIterations = DefaultMaxIterations
	}
	// 閾値0は「スコアを問わない」という正当な指定。範囲外のみ既定値に落とす。
	if threshold < 0 || threshold > 100 {
		threshold = DefaultReviewThreshold
	}

	spec, err := c.extractor.ExtractSpec(ctx, prompt, attachments)
	if err != nil {
		return nil, err
	}

	plan, err := c.planner.PlanUX(ctx, spec)
	if err != nil {
		return nil, err
	}

	var (
		records     []IterationRecord
		previous    agents.FileSet
		repairBrief string
	)

	for i := 0; i < maxIterations; i++ {
		files, err := c.generator.GenerateCode(ctx, spec, plan, previous, repairBrief)
		if err != nil {
			return nil, err
		}

		review, err := c.reviewer.Review(ctx, spec, files, plan, i)
		if err != nil {
			return nil, err
		}
		review.Evaluate(threshold)

		records = append(records, IterationRecord{Index: i, Files: files, Review: review})
		c.logger.Printf("job=%s iteration=%d score=%d ready=%t red_flags=%d approved=%t",
			jobID, i, review.Score, review.ReadyForUser, len(review.ObviousRedFlags), review.Approved)

		if review.Approved {
			return &DesignResult{
				Approved:   true,
				Spec:       spec,
				Plan:       plan,
				Files:      files,
				Review:     review,
				Iterations: i + 1,
			}, nil
		}

		if i < maxIterations-1 {
			repairBrief = buildRepairBrief(review)
			previous = files
		}
	}

	last := records[len(records)-1]
	return &DesignResult{
		Approved:   false,
		Spec:       spec,
		Plan:       plan,
		Files:      last.Files,
		Review:     last.Review,
		Iterations: maxIterations,
		Reason:     ReasonMaxIterations,
	}, nil
}

// buildRepairBrief はレビュー結果から次イテレーションへの修復ブリーフを合成します。
// 見出し付きで red flags → 欠落機能 → 改善提案 → 自由記述ノート の順に並べ、
// 各カテゴリは先頭5件までに制限します。
func buildRepairBrief(review *agents.ReviewResult) string {
	var sb strings.Builder

	writeSection(&sb, "Obvious red flags:", topN(review.ObviousRedFlags, briefTopN))
	writeSection(&sb, "Missing core features:", topN(review.MissingCoreFeatures, briefTopN))
	writeSection(&sb, "Suggested improvements:", topN(review.SuggestedImprovements, briefTopN))

	if review.Notes != "" {
		fmt.Fprintf(&sb, "Reviewer notes:\n%s\n", review.Notes)
	}

	return strings.TrimRight(sb.String(), "\n")
}

func writeSection(sb *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	sb.WriteString(heading)
	sb.WriteString("\n")
	for _, item := range items {
		fmt.Fprintf(sb, "- %s\n", item)
	}
	sb.WriteString("\n")
}

func topN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}
