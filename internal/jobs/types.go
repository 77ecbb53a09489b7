// Package jobs は生成ジョブの状態管理機能を提供します。
package jobs

import "time"

// Status はジョブの実行状態を表します。
// pending → in_progress → (complete | failed) の順にのみ遷移します。
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// Terminal は終端状態（complete / failed）かどうかを返します。
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Step は生成処理の現在ステップを表します。
type Step string

const (
	StepInitializing Step = "initializing"
	StepDesign       Step = "design"
	StepCoding       Step = "coding"
	StepValidating   Step = "validating"
	StepPackaging    Step = "packaging"
	StepDeploying    Step = "deploying"
	StepComplete     Step = "complete"
	StepReviewing    Step = "reviewing"
	StepTimeout      Step = "timeout"
	StepError        Step = "error"
)

// Job はジョブの現在状態を表します。
// prompt と created_at は作成後不変、それ以外は ApplyUpdate 経由でのみ変更されます。
type Job struct {
	ID              string    `json:"id"`
	Prompt          string    `json:"prompt"`
	Status          Status    `json:"status"`
	Step            Step      `json:"step"`
	DownloadURL     string    `json:"download_url,omitempty"`
	ExternalRepoURL string    `json:"external_repo_url,omitempty"`
	DeploymentURL   string    `json:"deployment_url,omitempty"`
	Error           string    `json:"error,omitempty"`
	OwnerID         string    `json:"owner_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Update はジョブへの部分更新を表します。
// nil のフィールドは変更されず、既存値が保持されます。
type Update struct {
	Status          *Status
	Step            *Step
	DownloadURL     *string
	ExternalRepoURL *string
	DeploymentURL   *string
	Error           *string
}

// StatusPtr / StepPtr / StringPtr は Update フィールド用のヘルパーです。
func StatusPtr(s Status) *Status { return &s }
func StepPtr(s Step) *Step       { return &s }
func StringPtr(s string) *string { return &s }

// apply は部分更新をジョブに反映します。updated_at の更新は呼び出し側で行います。
func (u Update) apply(job *Job) {
	if u.Status != nil {
		job.Status = *u.Status
	}
	if u.Step != nil {
		job.Step = *u.Step
	}
	if u.DownloadURL != nil {
		job.DownloadURL = *u.DownloadURL
	}
	if u.ExternalRepoURL != nil {
		job.ExternalRepoURL = *u.ExternalRepoURL
	}
	if u.DeploymentURL != nil {
		job.DeploymentURL = *u.DeploymentURL
	}
	if u.Error != nil {
		job.Error = *u.Error
	}
}

// Filter はジョブ一覧の絞り込み条件です。ゼロ値のフィールドは無視されます。
type Filter struct {
	OwnerID string // 所有者で絞り込み
	Status  Status // ステータスで絞り込み
	Search  string // プロンプトの部分一致検索
}
