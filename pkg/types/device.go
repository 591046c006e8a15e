package types

// Device represents a connected Android device.
type Device struct {
	ID         string `json:"id"`
	Serial     string `json:"serial"`
	State      string `json:"state"`
	Model      string `json:"model"`
	Brand      string `json:"brand"`
	Type       string `json:"type"` // "wired" or "wireless"
	LastActive int64  `json:"lastActive"`
}

// TemplateMatchResult is the outcome of matching an image template against a
// screenshot.
type TemplateMatchResult struct {
	Found      bool    `json:"found"`
	Confidence float64 `json:"confidence"`
	X          int     `json:"x,omitempty"`
	Y          int     `json:"y,omitempty"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	CenterX    int     `json:"centerX,omitempty"`
	CenterY    int     `json:"centerY,omitempty"`
}
