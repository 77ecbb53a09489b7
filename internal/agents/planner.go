package agents

import (
	"context"
	"encoding/json"
	"fmt"
)

const plannerSystemPrompt = `You are a UX designer. Derive a concrete UX plan from the given app spec.
Be specific about layout, components, empty states, and the primary user flow.
Return ONLY a JSON object with keys: layout, components (array), styling, empty_states (array), flow.`

// UXPlanner は仕様からUX設計を導出するコラボレーターです。
type UXPlanner struct {
	client *Client
}

// NewUXPlanner は UXPlanner を作成します。
func NewUXPlanner(client *Client) *UXPlanner {
	return &UXPlanner{client: client}
}

// PlanUX は AppSpec から UXPlan を導出します。
func (p *UXPlanner) PlanUX(ctx context.Context, spec *AppSpec) (*UXPlan, error) {
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return nil, collabErr("ux_planner", "failed to encode the specification", err)
	}

	user := fmt.Sprintf("Derive a UX plan for this app spec:\n\n%s", specJSON)
	content, err := p.client.completeJSON(ctx, plannerSystemPrompt, textPrompt(user), 0.5, 1500)
	if err != nil {
		return nil, collabErr("ux_planner", "failed to derive the UX plan", err)
	}

	var plan UXPlan
	if err := json.Unmarshal([]byte(stripCodeFences(content)), &plan); err != nil {
		return nil, collabErr("ux_planner", "UX plan response was not valid JSON", err)
	}
	return &plan, nil
}
