package agents

import "fmt"

// CollaboratorError は外部コラボレーター呼び出しの失敗を表します。
// 各外部呼び出しはこの型を唯一の境界として返し、呼び出し側でフォールバックはしません。
type CollaboratorError struct {
	Collaborator string // spec_extractor, ux_planner, code_generator, reviewer
	Message      string // ユーザー向けに出せる短い説明
	Err          error  // 元の原因（ログ用）
}

func (e *CollaboratorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Collaborator, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Collaborator, e.Message)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

func collabErr(collaborator, message string, err error) error {
	return &CollaboratorError{Collaborator: collaborator, Message: message, Err: err}
}
