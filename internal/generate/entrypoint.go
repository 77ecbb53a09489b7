// Package generate は生成ジョブのオーケストレーション（フェーズパイプライン、
// イテレーション制御、エントリーポイント検証、ジョブ投入）を提供します。
package generate

import (
	"errors"
	"path"
	"strings"

	"github.com/yourusername/app-forge/internal/agents"
)

// ProjectKind は生成プロジェクトの分類です。
type ProjectKind string

const (
	KindStatic  ProjectKind = "static"
	KindPython  ProjectKind = "python"
	KindNode    ProjectKind = "node"
	KindUnknown ProjectKind = "unknown"
)

// ErrNoEntryPoint はルート直下に実行可能なエントリーポイントが無い場合のエラーです。
var ErrNoEntryPoint = errors.New("no root-level entry point found")

// entryPointPriority は許可されるエントリーポイントの優先順です。
// 複数存在する場合は先頭に近いものが選ばれます。
var entryPointPriority = []string{"app.py", "main.py", "index.js", "index.html"}

// EntryPoint は解決済みのエントリーポイントです。
type EntryPoint struct {
	Path string
	Kind ProjectKind
}

// Static は実行検証を行わない静的サイトかどうかを返します。
func (e EntryPoint) Static() bool {
	return e.Kind == KindStatic
}

// ResolveEntryPoint はファイル一式からエントリーポイントを解決します。
// 生成プロジェクトはフラットルートが要件のため、ルート直下のみを候補とします。
// ネスト配置のエントリーポイントは検証を通しません（診断は FindNestedEntryPoint で）。
func ResolveEntryPoint(files agents.FileSet) (*EntryPoint, error) {
	for _, candidate := range entryPointPriority {
		if _, ok := files[candidate]; ok {
			return &EntryPoint{Path: candidate, Kind: classify(candidate)}, nil
		}
	}
	return nil, ErrNoEntryPoint
}

// FindNestedEntryPoint はサブディレクトリも含めてエントリーポイント名を探します。
// 診断ログ専用で、これが見つかってもバリデーションは失敗のままです。
func FindNestedEntryPoint(files agents.FileSet) string {
	for filePath := range files {
		base := filePath
		if i := strings.LastIndexAny(base, `/\`); i >= 0 {
			base = base[i+1:]
		}
		for _, candidate := range entryPointPriority {
			if base == candidate {
				return filePath
			}
		}
	}
	return ""
}

func classify(entryPath string) ProjectKind {
	switch path.Ext(entryPath) {
	case ".html":
		return KindStatic
	case ".py":
		return KindPython
	case ".js":
		return KindNode
	default:
		return KindUnknown
	}
}
