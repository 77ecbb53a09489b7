// Package agents は生成・レビューを担う外部コラボレーターのクライアント実装を提供します。
// プロンプト構築と応答の解析はこのパッケージに閉じ、呼び出し側は型付きの結果のみを扱います。
package agents

import (
	"encoding/base64"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// FileSet は相対パスからテキスト内容へのマッピングです。
type FileSet map[string]string

// Merge は src のファイルを dst に上書きマージした新しい FileSet を返します。
// パス衝突は後勝ちです。
func Merge(dst, src FileSet) FileSet {
	out := make(FileSet, len(dst)+len(src))
	for path, content := range dst {
		out[path] = content
	}
	for path, content := range src {
		out[path] = content
	}
	return out
}

// Paths はパス一覧を辞書順で返します。
func (fs FileSet) Paths() []string {
	paths := make([]string, 0, len(fs))
	for path := range fs {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// AppSpec はプロンプトから抽出された構造化仕様です。
type AppSpec struct {
	Goal         string                       `json:"goal"`
	Stack        string                       `json:"stack"`
	Files        []string                     `json:"files"`
	CoreFeatures []string                     `json:"features"`
	Requirements map[string]string            `json:"requirements"`
	DataModel    map[string]map[string]string `json:"data_model"`
	UXDetails    map[string][]string          `json:"ux_details"`
	ScopeNotes   string                       `json:"scope_notes,omitempty"`
}

// UXPlan は仕様から導出されたUX設計です。
type UXPlan struct {
	Layout      string   `json:"layout"`
	Components  []string `json:"components"`
	Styling     string   `json:"styling"`
	EmptyStates []string `json:"empty_states"`
	Flow        string   `json:"flow"`
}

// ReviewResult は1イテレーションのレビュー結果です。作成後は変更しません。
type ReviewResult struct {
	RequirementsMatch      float64  `json:"requirements_match"`
	FunctionalCompleteness float64  `json:"functional_completeness"`
	UIUXReasonableness     float64  `json:"ui_ux_reasonableness"`
	Score                  int      `json:"score"`
	ReadyForUser           bool     `json:"ready_for_user"`
	ObviousRedFlags        []string `json:"obvious_red_flags"`
	MissingCoreFeatures    []string `json:"missing_core_features"`
	SuggestedImprovements  []string `json:"suggested_improvements"`
	Notes                  string   `json:"notes"`
	Approved               bool     `json:"approved"`
}

// 重み付けスコアの係数。3つのサブスコア（0-10）を0-100のスコアに変換します。
const (
	weightRequirements = 0.4
	weightCompleteness = 0.4
	weightUIUX         = 0.2
)

// ComputeScore はサブスコアから総合スコア（0-100）を導出します。
func (r *ReviewResult) ComputeScore() {
	weighted := weightRequirements*r.RequirementsMatch +
		weightCompleteness*r.FunctionalCompleteness +
		weightUIUX*r.UIUXReasonableness
	r.Score = int(math.Round(weighted * 10))
}

// Evaluate は承認判定を確定させます。スコアが閾値以上、かつ ready_for_user、
// かつ red flag が1件もない場合のみ承認されます。
func (r *ReviewResult) Evaluate(threshold int) bool {
	r.Approved = r.Score >= threshold && r.ReadyForUser && len(r.ObviousRedFlags) == 0
	return r.Approved
}

// Attachment は正規化済みの添付ファイルです。
// リクエスト境界で一度だけ正規化し、以降は表現による分岐を行いません。
type Attachment struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Content string `json:"content"` // base64 または data URL
}

// NormalizeAttachment は入力の添付を検証し、欠けたメタデータを補完します。
// Type が未指定の場合は内容から推定します。
func NormalizeAttachment(att Attachment) (Attachment, error) {
	if att.Content == "" {
		return Attachment{}, fmt.Errorf("attachment %q has no content", att.Name)
	}
	if att.Name == "" {
		att.Name = "attachment"
	}
	if att.Type == "" {
		att.Type = sniffType(att.Content)
	}
	return att, nil
}

// IsImage は画像添付かどうかを返します。
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(a.Type, "image/")
}

// DataURL は添付を data URL 形式で返します。
func (a Attachment) DataURL() string {
	if strings.HasPrefix(a.Content, "data:") {
		return a.Content
	}
	return fmt.Sprintf("data:%s;base64,%s", a.Type, a.Content)
}

func sniffType(content string) string {
	if strings.HasPrefix(content, "data:") {
		rest := strings.TrimPrefix(content, "data:")
		if i := strings.IndexAny(rest, ";,"); i > 0 {
			return rest[:i]
		}
	}
	raw, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		raw = []byte(content)
	}
	return mimetype.Detect(raw).String()
}
