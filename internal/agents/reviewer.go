package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const reviewerSystemPrompt = `You are a strict application reviewer. Score the generated project against the spec and UX plan.
Rate three dimensions from 0 to 10: requirements_match, functional_completeness, ui_ux_reasonableness.
Set ready_for_user to true ONLY if all three scores are 8 or higher and obvious_red_flags is empty.
Return ONLY a JSON object with keys: requirements_match, functional_completeness, ui_ux_reasonableness,
ready_for_user, obvious_red_flags (array), missing_core_features (array),
suggested_improvements (array), notes.`

// Reviewer は生成結果を仕様・UX設計に照らして採点するコラボレーターです。
type Reviewer struct {
	client *Client
}

// NewReviewer は Reviewer を作成します。
func NewReviewer(client *Client) *Reviewer {
	return &Reviewer{client: client}
}

// Review は生成されたファイル一式のレビュー結果を返します。
// 返り値の Approved は未確定で、承認判定は閾値を知る呼び出し側が Evaluate で行います。
func (r *Reviewer) Review(ctx context.Context, spec *AppSpec, files FileSet, plan *UXPlan, iteration int) (*ReviewResult, error) {
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return nil, collabErr("reviewer", "failed to encode the specification", err)
	}
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return nil, collabErr("reviewer", "failed to encode the UX plan", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Review iteration %d.\n\nSpec:\n%s\n\nUX plan:\n%s\n\nProject files:\n", iteration, specJSON, planJSON)
	for _, path := range files.Paths() {
		fmt.Fprintf(&sb, "--- %s ---\n%s\n", path, files[path])
	}

	content, err := r.client.completeJSON(ctx, reviewerSystemPrompt, textPrompt(sb.String()), 0.2, 2000)
	if err != nil {
		return nil, collabErr("reviewer", "failed to review the generated project", err)
	}

	var result ReviewResult
	if err := json.Unmarshal([]byte(stripCodeFences(content)), &result); err != nil {
		return nil, collabErr("reviewer", "review response was not valid JSON", err)
	}
	result.ComputeScore()
	return &result, nil
}
