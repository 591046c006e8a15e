package main

import (
	"context"
	"encoding/xml"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ========================================
// UI hierarchy dump and element lookup
// ========================================
// Element targeting for click/input/condition/wait nodes works on the
// uiautomator dump of the current screen. Dumps are flaky and expensive, so
// the adapter throttles and retries them.

// UINode is one element in a parsed uiautomator dump.
type UINode struct {
	XMLName     xml.Name `xml:"node" json:"-"`
	Text        string   `xml:"text,attr" json:"text"`
	ResourceID  string   `xml:"resource-id,attr" json:"resourceId"`
	Class       string   `xml:"class,attr" json:"class"`
	Package     string   `xml:"package,attr" json:"package"`
	ContentDesc string   `xml:"content-desc,attr" json:"contentDesc"`
	Checked     string   `xml:"checked,attr" json:"checked"`
	Enabled     string   `xml:"enabled,attr" json:"enabled"`
	Focused     string   `xml:"focused,attr" json:"focused"`
	Selected    string   `xml:"selected,attr" json:"selected"`
	Bounds      string   `xml:"bounds,attr" json:"bounds"`
	Nodes       []UINode `xml:"node" json:"nodes"`
}

type UIHierarchy struct {
	XMLName xml.Name `xml:"hierarchy"`
	Nodes   []UINode `xml:"node"`
}

// UIHierarchyResult contains the parsed tree plus the raw XML for the
// inspector panel.
type UIHierarchyResult struct {
	Root   *UINode `json:"root"`
	RawXML string  `json:"rawXml"`
}

// BoundsRect represents parsed bounds coordinates.
type BoundsRect struct {
	X1, Y1, X2, Y2 int
}

var boundsPattern = regexp.MustCompile(`\[(-?\d+),(-?\d+)\]\[(-?\d+),(-?\d+)\]`)

// ParseBounds parses an Android bounds string "[x1,y1][x2,y2]".
func ParseBounds(bounds string) (*BoundsRect, error) {
	m := boundsPattern.FindStringSubmatch(bounds)
	if len(m) != 5 {
		return nil, fmt.Errorf("invalid bounds format: %s", bounds)
	}
	x1, _ := strconv.Atoi(m[1])
	y1, _ := strconv.Atoi(m[2])
	x2, _ := strconv.Atoi(m[3])
	y2, _ := strconv.Atoi(m[4])
	return &BoundsRect{X1: x1, Y1: y1, X2: x2, Y2: y2}, nil
}

// Center returns the center point of the bounds.
func (b *BoundsRect) Center() (int, int) {
	return b.X1 + (b.X2-b.X1)/2, b.Y1 + (b.Y2-b.Y1)/2
}

// Empty reports whether the bounds cover no area.
func (b *BoundsRect) Empty() bool {
	return b.X2 <= b.X1 || b.Y2 <= b.Y1
}

// GetUIHierarchy dumps and parses the UI hierarchy. Dumps fail sporadically
// on busy devices; up to three attempts are made.
func (a *App) GetUIHierarchy(ctx context.Context, deviceId string) (*UIHierarchyResult, error) {
	const dumpFile = "/data/local/tmp/scout_view.xml"
	var xmlContent string
	var err error

	for attempt := 0; attempt < 3; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt > 0 {
			_, _ = a.RunAdbCommandWithContext(ctx, deviceId, "shell pkill uiautomator")
			time.Sleep(500 * time.Millisecond)
		}
		// Dump and read in one adb round trip; cat only runs when the
		// dump succeeded.
		cmd := fmt.Sprintf("shell uiautomator dump %s && cat %s", dumpFile, dumpFile)
		xmlContent, err = a.RunAdbCommandWithContext(ctx, deviceId, cmd)
		if err == nil && strings.Contains(xmlContent, "<?xml") {
			break
		}
		LogDebug("automation").Int("attempt", attempt+1).Err(err).Msg("UI dump retry")
	}
	if err != nil || !strings.Contains(xmlContent, "<?xml") {
		return nil, fmt.Errorf("failed to dump UI hierarchy: %v", err)
	}

	// Strip any shell noise around the document.
	if i := strings.Index(xmlContent, "<?xml"); i > 0 {
		xmlContent = xmlContent[i:]
	}
	if i := strings.LastIndex(xmlContent, ">"); i != -1 && i < len(xmlContent)-1 {
		xmlContent = xmlContent[:i+1]
	}
	rawXML := xmlContent

	// uiautomator emits bare ampersands sometimes; normalize entities
	// before parsing.
	xmlContent = strings.ReplaceAll(xmlContent, "&", "&amp;")
	for _, ent := range []string{"amp", "lt", "gt", "quot", "apos", "#"} {
		xmlContent = strings.ReplaceAll(xmlContent, "&amp;"+ent, "&"+ent)
	}

	var h UIHierarchy
	if err := xml.Unmarshal([]byte(xmlContent), &h); err != nil {
		return nil, fmt.Errorf("failed to parse UI XML: %w", err)
	}
	if len(h.Nodes) == 0 {
		return nil, fmt.Errorf("UI hierarchy is empty")
	}

	root := &h.Nodes[0]
	if len(h.Nodes) > 1 {
		root = &UINode{
			Class:  "android.view.View",
			Bounds: "[0,0][0,0]",
			Nodes:  h.Nodes,
		}
	}
	return &UIHierarchyResult{Root: root, RawXML: rawXML}, nil
}

// ========================================
// Element lookup
// ========================================

// FindElementBySelector returns the selector's Index-th match in the tree,
// or nil when absent.
func FindElementBySelector(root *UINode, selector *ElementSelector) *UINode {
	if root == nil || selector == nil || selector.Value == "" {
		return nil
	}
	matches := collectMatches(root, selectorPredicate(selector), selector.Index+1)
	if selector.Index < len(matches) {
		return matches[selector.Index]
	}
	return nil
}

func selectorPredicate(selector *ElementSelector) func(*UINode) bool {
	val := selector.Value
	switch selector.Type {
	case "text":
		return func(n *UINode) bool { return n.Text == val }
	case "id":
		return func(n *UINode) bool {
			return n.ResourceID == val || strings.HasSuffix(n.ResourceID, ":id/"+val)
		}
	case "class":
		return func(n *UINode) bool { return n.Class == val }
	case "description":
		return func(n *UINode) bool { return n.ContentDesc == val }
	case "contains":
		return func(n *UINode) bool {
			return strings.Contains(n.Text, val) || strings.Contains(n.ContentDesc, val)
		}
	case "bounds":
		return func(n *UINode) bool { return n.Bounds == val }
	default:
		return func(*UINode) bool { return false }
	}
}

// collectMatches walks the tree depth-first collecting up to limit matches
// (limit <= 0 collects all).
func collectMatches(node *UINode, pred func(*UINode) bool, limit int) []*UINode {
	var out []*UINode
	var walk func(n *UINode)
	walk = func(n *UINode) {
		if limit > 0 && len(out) >= limit {
			return
		}
		if pred(n) {
			out = append(out, n)
		}
		for i := range n.Nodes {
			walk(&n.Nodes[i])
		}
	}
	walk(node)
	return out
}

// NodeAttribute reads a named attribute off a UI node. Attribute names match
// the uiautomator dump: text, resource-id, class, content-desc, checked,
// enabled, focused, selected, bounds.
func NodeAttribute(node *UINode, attr string) string {
	switch attr {
	case "", "text":
		return node.Text
	case "resource-id", "id":
		return node.ResourceID
	case "class":
		return node.Class
	case "content-desc", "description":
		return node.ContentDesc
	case "checked":
		return node.Checked
	case "enabled":
		return node.Enabled
	case "focused":
		return node.Focused
	case "selected":
		return node.Selected
	case "bounds":
		return node.Bounds
	default:
		return ""
	}
}
