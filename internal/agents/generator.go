package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const generatorSystemPrompt = `You are an expert software developer. Generate a complete, working application.
The project root MUST contain a file named app.py, main.py, index.js, or index.html which acts as the
entry point for running the app. Use index.html for static websites. Generate complete, runnable code.
Return ONLY a JSON object of the shape {"files": [{"path": "...", "content": "..."}]}.`

// generatedFile はコード生成応答の1ファイル分です。
type generatedFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// CodeGenerator は仕様とUX設計からプロジェクトのファイル一式を生成するコラボレーターです。
type CodeGenerator struct {
	client *Client
}

// NewCodeGenerator は CodeGenerator を作成します。
func NewCodeGenerator(client *Client) *CodeGenerator {
	return &CodeGenerator{client: client}
}

// GenerateCode はファイル一式を生成します。
// previous と repairBrief は2回目以降のイテレーションでのみ渡されます。
func (g *CodeGenerator) GenerateCode(ctx context.Context, spec *AppSpec, plan *UXPlan, previous FileSet, repairBrief string) (FileSet, error) {
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return nil, collabErr("code_generator", "failed to encode the specification", err)
	}
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return nil, collabErr("code_generator", "failed to encode the UX plan", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Generate the application for this spec:\n\n%s\n\nUX plan:\n\n%s\n", specJSON, planJSON)
	if len(previous) > 0 {
		sb.WriteString("\nPrevious attempt (revise rather than starting over):\n")
		for _, path := range previous.Paths() {
			fmt.Fprintf(&sb, "--- %s ---\n%s\n", path, previous[path])
		}
	}
	if repairBrief != "" {
		fmt.Fprintf(&sb, "\nAddress this review feedback:\n\n%s\n", repairBrief)
	}

	content, err := g.client.completeJSON(ctx, generatorSystemPrompt, textPrompt(sb.String()), 0.7, 8000)
	if err != nil {
		return nil, collabErr("code_generator", "failed to generate project files", err)
	}

	var resp struct {
		Files []generatedFile `json:"files"`
	}
	if err := json.Unmarshal([]byte(stripCodeFences(content)), &resp); err != nil {
		return nil, collabErr("code_generator", "code generation response was not valid JSON", err)
	}
	if len(resp.Files) == 0 {
		return nil, collabErr("code_generator", "code generation returned no files", nil)
	}

	files := make(FileSet, len(resp.Files))
	for _, f := range resp.Files {
		if f.Path == "" {
			continue
		}
		files[f.Path] = f.Content
	}
	return files, nil
}

// SupportingFiles はAPIを呼ばずに生成できる補助ファイル（README等）を返します。
// コーディングフェーズで生成ファイルにマージされます（後勝ち）。
func (g *CodeGenerator) SupportingFiles(spec *AppSpec) FileSet {
	goal := "Generated application"
	if spec != nil && spec.Goal != "" {
		goal = spec.Goal
	}
	return FileSet{
		"README.md":  fmt.Sprintf("# %s\n\nThis app was generated by App Forge.\n", goal),
		".gitignore": "__pycache__/\n*.pyc\nnode_modules/\n.env\n",
	}
}
