// Package telemetry は生成ランの記録をJSON Lines形式で追記します。
// 分析用途のログであり、失敗してもジョブの進行には影響しません。
package telemetry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const promptPreviewMax = 200

// RunRecord は1回の生成ランの要約です。
type RunRecord struct {
	JobID                  string    `json:"job_id"`
	PromptPreview          string    `json:"prompt_preview"`
	Approved               bool      `json:"approved"`
	Iterations             int       `json:"iterations"`
	Score                  int       `json:"score,omitempty"`
	RequirementsMatch      float64   `json:"requirements_match,omitempty"`
	FunctionalCompleteness float64   `json:"functional_completeness,omitempty"`
	UIUXReasonableness     float64   `json:"ui_ux_reasonableness,omitempty"`
	ReadyForUser           bool      `json:"ready_for_user"`
	RedFlagCount           int       `json:"red_flag_count"`
	FileCount              int       `json:"file_count"`
	CoreFeatures           int       `json:"core_features"`
	DurationSeconds        float64   `json:"duration_seconds"`
	RecordedAt             time.Time `json:"recorded_at"`
}

// Recorder は RunRecord をファイルに追記します。並行呼び出しに対して安全です。
type Recorder struct {
	mu   sync.Mutex
	path string
}

// NewRecorder は Recorder を作成し、出力先のディレクトリを用意します。
func NewRecorder(path string) (*Recorder, error) {
	if path == "" {
		path = filepath.Join("logs", "generation_runs.jsonl")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &Recorder{path: path}, nil
}

// LogRun はレコードを1行のJSONとして追記します。
func (r *Recorder) LogRun(record RunRecord) error {
	record.PromptPreview = truncatePrompt(record.PromptPreview)
	if record.RecordedAt.IsZero() {
		record.RecordedAt = time.Now().UTC()
	}

	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(append(data, '\n'))
	return err
}

func truncatePrompt(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	// rune 境界で切り詰め、プレビューがマルチバイト文字の途中で切れないようにする
	if runes := []rune(s); len(runes) > promptPreviewMax {
		return string(runes[:promptPreviewMax])
	}
	return s
}
