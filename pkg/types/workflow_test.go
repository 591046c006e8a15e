package types

import (
	"testing"
)

func intPtr(v int) *int { return &v }

// ==================== ValidateConfig Tests ====================

func TestValidateConfig_StartOptional(t *testing.T) {
	n := Node{ID: "s", Type: NodeStart}
	if err := n.ValidateConfig(); err != nil {
		t.Errorf("Bare start node must be valid, got %v", err)
	}
}

func TestValidateConfig_CloseRequiresPackage(t *testing.T) {
	n := Node{ID: "c", Type: NodeClose}
	if err := n.ValidateConfig(); err == nil {
		t.Error("Close without package must be invalid")
	}

	n.Config.Close = &CloseConfig{Package: "com.example.app"}
	if err := n.ValidateConfig(); err != nil {
		t.Errorf("Close with package must be valid, got %v", err)
	}
}

func TestValidateConfig_ClickTarget(t *testing.T) {
	n := Node{ID: "c", Type: NodeClick, Config: NodeConfig{Click: &ClickConfig{}}}
	if err := n.ValidateConfig(); err == nil {
		t.Error("Click without target must be invalid")
	}

	n.Config.Click.X = intPtr(10)
	if err := n.ValidateConfig(); err == nil {
		t.Error("Click with only X must be invalid")
	}

	n.Config.Click.Y = intPtr(20)
	if err := n.ValidateConfig(); err != nil {
		t.Errorf("Click with x/y must be valid, got %v", err)
	}

	n.Config.Click = &ClickConfig{Selector: &ElementSelector{Type: "text", Value: "OK"}}
	if err := n.ValidateConfig(); err != nil {
		t.Errorf("Click with selector must be valid, got %v", err)
	}
}

func TestValidateConfig_InputRequiresText(t *testing.T) {
	n := Node{ID: "i", Type: NodeInput, Config: NodeConfig{Input: &InputConfig{
		X: intPtr(1), Y: intPtr(2),
	}}}
	if err := n.ValidateConfig(); err == nil {
		t.Error("Input without text must be invalid")
	}

	n.Config.Input.Text = "hello"
	if err := n.ValidateConfig(); err != nil {
		t.Errorf("Input with text and target must be valid, got %v", err)
	}
}

func TestValidateConfig_ScrollDirection(t *testing.T) {
	n := Node{ID: "sc", Type: NodeScroll, Config: NodeConfig{Scroll: &ScrollConfig{Direction: "sideways"}}}
	if err := n.ValidateConfig(); err == nil {
		t.Error("Unknown scroll direction must be invalid")
	}

	for _, dir := range []string{"up", "down", "left", "right"} {
		n.Config.Scroll.Direction = dir
		if err := n.ValidateConfig(); err != nil {
			t.Errorf("Direction %q must be valid, got %v", dir, err)
		}
	}
}

func TestValidateConfig_Wait(t *testing.T) {
	n := Node{ID: "w", Type: NodeWait, Config: NodeConfig{Wait: &WaitConfig{}}}
	if err := n.ValidateConfig(); err == nil {
		t.Error("Wait without duration must be invalid")
	}

	n.Config.Wait.Duration = 500
	if err := n.ValidateConfig(); err != nil {
		t.Errorf("Fixed wait must be valid, got %v", err)
	}

	n.Config.Wait.WaitType = "arise"
	if err := n.ValidateConfig(); err == nil {
		t.Error("Arise wait without selector must be invalid")
	}

	n.Config.Wait.Selector = &ElementSelector{Type: "text", Value: "Done"}
	if err := n.ValidateConfig(); err != nil {
		t.Errorf("Arise wait with selector must be valid, got %v", err)
	}

	n.Config.Wait.WaitType = "forever"
	if err := n.ValidateConfig(); err == nil {
		t.Error("Unknown wait type must be invalid")
	}
}

func TestValidateConfig_Condition(t *testing.T) {
	n := Node{ID: "c", Type: NodeCondition, Config: NodeConfig{Condition: &ConditionConfig{}}}
	if err := n.ValidateConfig(); err == nil {
		t.Error("Condition without selector or template must be invalid")
	}

	n.Config.Condition.Template = "/tmp/button.png"
	if err := n.ValidateConfig(); err != nil {
		t.Errorf("Template condition must be valid, got %v", err)
	}

	n.Config.Condition = &ConditionConfig{
		Selector: &ElementSelector{Type: "text", Value: "x"},
		Operator: "equals",
	}
	if err := n.ValidateConfig(); err == nil {
		t.Error("Value operator without value must be invalid")
	}

	n.Config.Condition.Value = "y"
	if err := n.ValidateConfig(); err != nil {
		t.Errorf("Equals condition with value must be valid, got %v", err)
	}

	n.Config.Condition.Operator = "exists"
	n.Config.Condition.Value = ""
	if err := n.ValidateConfig(); err != nil {
		t.Errorf("Exists condition must be valid without a value, got %v", err)
	}

	n.Config.Condition.Operator = "sometimes"
	if err := n.ValidateConfig(); err == nil {
		t.Error("Unknown operator must be invalid")
	}
}

func TestValidateConfig_Loop(t *testing.T) {
	n := Node{ID: "l", Type: NodeLoop, Config: NodeConfig{Loop: &LoopConfig{Type: "count"}}}
	if err := n.ValidateConfig(); err == nil {
		t.Error("Count loop without count must be invalid")
	}

	n.Config.Loop.Count = 3
	if err := n.ValidateConfig(); err != nil {
		t.Errorf("Count loop must be valid, got %v", err)
	}

	n.Config.Loop = &LoopConfig{Type: "condition"}
	if err := n.ValidateConfig(); err == nil {
		t.Error("Condition loop without expression must be invalid")
	}

	n.Config.Loop = &LoopConfig{Type: "foreach", ForEach: "items"}
	if err := n.ValidateConfig(); err != nil {
		t.Errorf("Foreach loop must be valid, got %v", err)
	}

	n.Config.Loop = &LoopConfig{Type: "while"}
	if err := n.ValidateConfig(); err == nil {
		t.Error("Unknown loop type must be invalid")
	}
}

func TestValidateConfig_UnknownKind(t *testing.T) {
	n := Node{ID: "x", Type: NodeKind("teleport")}
	if err := n.ValidateConfig(); err == nil {
		t.Error("Unknown node kind must be invalid")
	}
}

// ==================== Serialization Tests ====================

func TestWorkflowRoundTrip(t *testing.T) {
	w := Workflow{
		ID:   "wf-1",
		Name: "Login flow",
		Nodes: []Node{
			{ID: "s", Type: NodeStart, Config: NodeConfig{Start: &StartConfig{Package: "com.app"}}},
			{ID: "c", Type: NodeClick, Config: NodeConfig{
				Click:      &ClickConfig{Selector: &ElementSelector{Type: "id", Value: "login"}},
				RetryCount: 2,
				WaitTime:   500,
			}},
		},
		Edges: []Edge{{ID: "e1", Source: "s", Target: "c"}},
	}

	data, err := SerializeWorkflow(w)
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	got, err := ParseWorkflow(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got.ID != "wf-1" || got.Name != "Login flow" {
		t.Errorf("Metadata mismatch: %+v", got)
	}
	if len(got.Nodes) != 2 || len(got.Edges) != 1 {
		t.Fatalf("Graph shape mismatch: %d nodes, %d edges", len(got.Nodes), len(got.Edges))
	}
	click := got.Nodes[1]
	if click.Config.Click == nil || click.Config.Click.Selector.Value != "login" {
		t.Error("Click config lost in round trip")
	}
	if click.Config.RetryCount != 2 || click.Config.WaitTime != 500 {
		t.Error("Retry policy lost in round trip")
	}
}

func TestParseWorkflow_Invalid(t *testing.T) {
	if _, err := ParseWorkflow([]byte("not json")); err == nil {
		t.Error("Expected parse error")
	}
}

func TestParseExecutionContext_InitializesMaps(t *testing.T) {
	ctx, err := ParseExecutionContext([]byte(`{"isRunning": false, "currentNodeId": ""}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if ctx.NodeStatuses == nil {
		t.Error("NodeStatuses must be initialized")
	}
	if ctx.Variables == nil {
		t.Error("Variables must be initialized")
	}
}

func TestIsBranching(t *testing.T) {
	if !(Node{Type: NodeCondition}).IsBranching() {
		t.Error("Condition nodes branch")
	}
	if !(Node{Type: NodeLoop}).IsBranching() {
		t.Error("Loop nodes branch")
	}
	if (Node{Type: NodeClick}).IsBranching() {
		t.Error("Click nodes do not branch")
	}
}
