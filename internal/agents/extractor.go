package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
)

const extractorSystemPrompt = `You are an expert software architect. Expand the user's app brief into a concrete structured spec.
Choose "static_html" as the stack for simple one-page apps unless the brief clearly asks for a framework.
Generated projects must be flat-rooted: the file list must contain a root-level entry point
(app.py, main.py, index.js, or index.html). Scope ambitious requests down to a realistic MVP.
Return ONLY a JSON object with keys: goal, stack, files, features, requirements (object),
data_model (object of objects), ux_details (object of string arrays), scope_notes.`

// SpecExtractor はプロンプトから構造化仕様を抽出するコラボレーターです。
type SpecExtractor struct {
	client *Client
}

// NewSpecExtractor は SpecExtractor を作成します。
func NewSpecExtractor(client *Client) *SpecExtractor {
	return &SpecExtractor{client: client}
}

// ExtractSpec はプロンプト（および任意の添付）から AppSpec を抽出します。
func (e *SpecExtractor) ExtractSpec(ctx context.Context, prompt string, attachments []Attachment) (*AppSpec, error) {
	var sb strings.Builder
	sb.WriteString("Expand this app brief into a structured spec:\n\n")
	sb.WriteString(prompt)

	parts := textParts(&sb, attachments)

	content, err := e.client.completeJSON(ctx, extractorSystemPrompt, parts, 0.3, 2000)
	if err != nil {
		return nil, collabErr("spec_extractor", "failed to extract the specification", err)
	}

	var spec AppSpec
	if err := json.Unmarshal([]byte(stripCodeFences(content)), &spec); err != nil {
		return nil, collabErr("spec_extractor", "specification response was not valid JSON", err)
	}

	// 最低限の骨格は保証する
	if spec.Goal == "" {
		spec.Goal = truncate(prompt, 200)
	}
	if len(spec.CoreFeatures) == 0 {
		spec.CoreFeatures = []string{"Basic functionality"}
	}
	return &spec, nil
}

// textParts は本文と添付をユーザーメッセージに組み立てます。
// 画像添付は data URL として渡し、それ以外は名前と種別のみを列挙します。
func textParts(body *strings.Builder, attachments []Attachment) []openai.ChatCompletionContentPartUnionParam {
	if len(attachments) > 0 {
		fmt.Fprintf(body, "\n\nUser provided %d attachment(s):\n", len(attachments))
		for _, att := range attachments {
			fmt.Fprintf(body, "- %s (%s)\n", att.Name, att.Type)
		}
	}

	parts := textPrompt(body.String())
	for _, att := range attachments {
		if att.IsImage() {
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: att.DataURL(),
			}))
		}
	}
	return parts
}

// truncate は文字数（rune 数）で切り詰めます。バイト位置で切ると
// マルチバイト文字が壊れるため、rune 境界で切ります。
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
