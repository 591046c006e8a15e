package main

import (
	"encoding/xml"
	"testing"
)

// Sample uiautomator XML fragment for testing
const testHierarchyXML = `<hierarchy rotation="0">
  <node text="" resource-id="" class="android.widget.FrameLayout" package="com.app"
        content-desc="" checked="false" enabled="true" focused="false" selected="false"
        bounds="[0,0][1080,1920]">
    <node text="Login" resource-id="com.app:id/login_button" class="android.widget.Button"
          package="com.app" content-desc="Log in to your account" checked="false"
          enabled="true" focused="false" selected="false" bounds="[100,200][300,260]" />
    <node text="Password" resource-id="com.app:id/password" class="android.widget.EditText"
          package="com.app" content-desc="" checked="false" enabled="false" focused="false"
          selected="false" bounds="[100,300][980,380]" />
    <node text="Login" resource-id="com.app:id/login_link" class="android.widget.TextView"
          package="com.app" content-desc="" checked="false" enabled="true" focused="false"
          selected="false" bounds="[100,400][300,440]" />
  </node>
</hierarchy>`

func parseTestHierarchy(t *testing.T) *UINode {
	t.Helper()
	var h UIHierarchy
	if err := xml.Unmarshal([]byte(testHierarchyXML), &h); err != nil {
		t.Fatalf("Failed to parse hierarchy XML: %v", err)
	}
	if len(h.Nodes) != 1 {
		t.Fatalf("Expected 1 root node, got %d", len(h.Nodes))
	}
	return &h.Nodes[0]
}

// ==================== XML Parsing Tests ====================

func TestUIHierarchyParsing(t *testing.T) {
	root := parseTestHierarchy(t)

	if root.Class != "android.widget.FrameLayout" {
		t.Errorf("Class: expected FrameLayout, got %q", root.Class)
	}
	if len(root.Nodes) != 3 {
		t.Fatalf("Expected 3 children, got %d", len(root.Nodes))
	}

	button := root.Nodes[0]
	if button.Text != "Login" {
		t.Errorf("Text: expected 'Login', got %q", button.Text)
	}
	if button.ResourceID != "com.app:id/login_button" {
		t.Errorf("ResourceID: expected login_button id, got %q", button.ResourceID)
	}
	if button.ContentDesc != "Log in to your account" {
		t.Errorf("ContentDesc mismatch: %q", button.ContentDesc)
	}
	if button.Bounds != "[100,200][300,260]" {
		t.Errorf("Bounds mismatch: %q", button.Bounds)
	}
}

// ==================== Bounds Tests ====================

func TestParseBounds(t *testing.T) {
	b, err := ParseBounds("[100,200][300,400]")
	if err != nil {
		t.Fatalf("ParseBounds failed: %v", err)
	}
	if b.X1 != 100 || b.Y1 != 200 || b.X2 != 300 || b.Y2 != 400 {
		t.Errorf("Unexpected bounds: %+v", b)
	}

	cx, cy := b.Center()
	if cx != 200 || cy != 300 {
		t.Errorf("Expected center (200,300), got (%d,%d)", cx, cy)
	}
}

func TestParseBounds_Invalid(t *testing.T) {
	if _, err := ParseBounds("not bounds"); err == nil {
		t.Error("Expected error for malformed bounds")
	}
	if _, err := ParseBounds(""); err == nil {
		t.Error("Expected error for empty bounds")
	}
}

func TestParseBounds_Negative(t *testing.T) {
	b, err := ParseBounds("[-10,-20][30,40]")
	if err != nil {
		t.Fatalf("ParseBounds failed on negative coordinates: %v", err)
	}
	if b.X1 != -10 || b.Y1 != -20 {
		t.Errorf("Unexpected bounds: %+v", b)
	}
}

// ==================== Selector Tests ====================

func TestFindElementBySelector_Text(t *testing.T) {
	root := parseTestHierarchy(t)

	n := FindElementBySelector(root, &ElementSelector{Type: "text", Value: "Login"})
	if n == nil {
		t.Fatal("Expected a match for text=Login")
	}
	if n.ResourceID != "com.app:id/login_button" {
		t.Errorf("Expected the first match in document order, got %q", n.ResourceID)
	}
}

func TestFindElementBySelector_Index(t *testing.T) {
	root := parseTestHierarchy(t)

	n := FindElementBySelector(root, &ElementSelector{Type: "text", Value: "Login", Index: 1})
	if n == nil {
		t.Fatal("Expected a second match for text=Login")
	}
	if n.ResourceID != "com.app:id/login_link" {
		t.Errorf("Expected the second match, got %q", n.ResourceID)
	}

	if FindElementBySelector(root, &ElementSelector{Type: "text", Value: "Login", Index: 5}) != nil {
		t.Error("Out-of-range index must return nil")
	}
}

func TestFindElementBySelector_IDSuffix(t *testing.T) {
	root := parseTestHierarchy(t)

	// Short id resolves against the resource-id suffix
	n := FindElementBySelector(root, &ElementSelector{Type: "id", Value: "password"})
	if n == nil {
		t.Fatal("Expected a match for id=password")
	}
	if n.Class != "android.widget.EditText" {
		t.Errorf("Unexpected match: %q", n.Class)
	}
}

func TestFindElementBySelector_Contains(t *testing.T) {
	root := parseTestHierarchy(t)

	n := FindElementBySelector(root, &ElementSelector{Type: "contains", Value: "account"})
	if n == nil {
		t.Fatal("Expected content-desc substring match")
	}
	if n.ResourceID != "com.app:id/login_button" {
		t.Errorf("Unexpected match: %q", n.ResourceID)
	}
}

func TestFindElementBySelector_NoMatch(t *testing.T) {
	root := parseTestHierarchy(t)

	if FindElementBySelector(root, &ElementSelector{Type: "text", Value: "Nope"}) != nil {
		t.Error("Expected nil for absent element")
	}
	if FindElementBySelector(root, &ElementSelector{Type: "text", Value: ""}) != nil {
		t.Error("Expected nil for empty selector value")
	}
	if FindElementBySelector(nil, &ElementSelector{Type: "text", Value: "x"}) != nil {
		t.Error("Expected nil for nil root")
	}
}

// ==================== Attribute Tests ====================

func TestNodeAttribute(t *testing.T) {
	n := &UINode{
		Text:        "hello",
		ResourceID:  "com.app:id/x",
		Class:       "android.widget.TextView",
		ContentDesc: "desc",
		Enabled:     "true",
		Bounds:      "[0,0][10,10]",
	}

	cases := []struct {
		attr string
		want string
	}{
		{"", "hello"},
		{"text", "hello"},
		{"resource-id", "com.app:id/x"},
		{"class", "android.widget.TextView"},
		{"content-desc", "desc"},
		{"enabled", "true"},
		{"bounds", "[0,0][10,10]"},
		{"unknown", ""},
	}
	for _, c := range cases {
		if got := NodeAttribute(n, c.attr); got != c.want {
			t.Errorf("NodeAttribute(%q) = %q, want %q", c.attr, got, c.want)
		}
	}
}
