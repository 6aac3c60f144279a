package model

// Fragment is a positioned run of text on a page. Coordinates are in page
// units with y growing downwards.
type Fragment struct {
	Text string  `json:"text"`
	X0   float64 `json:"x0"`
	Y0   float64 `json:"y0"`
	X1   float64 `json:"x1"`
	Y1   float64 `json:"y1"`
}

// Valid reports whether the fragment has a non-degenerate bounding box.
func (f Fragment) Valid() bool {
	return f.X1 > f.X0 && f.Y1 > f.Y0
}

// CenterX returns the horizontal center of the fragment.
func (f Fragment) CenterX() float64 {
	return (f.X0 + f.X1) / 2
}

// RawPage is one page as delivered by a document reader, before layout
// analysis.
type RawPage struct {
	Number    int        `json:"number"`
	Width     float64    `json:"width"`
	Height    float64    `json:"height"`
	Fragments []Fragment `json:"fragments"`
}

// Page is a page after layout analysis, with text in reading order.
type Page struct {
	Number     int       `json:"number"`
	Text       string    `json:"text"`
	Columns    int       `json:"columns"`
	Boundaries []float64 `json:"boundaries,omitempty"`
}

// NormalizationMode names the view a NormalizedText was derived for.
type NormalizationMode string

const (
	ModeSearch NormalizationMode = "search"
	ModeLLM    NormalizationMode = "llm-readable"
)

// NormalizedText is a derived view of raw document text.
type NormalizedText struct {
	Text string
	Mode NormalizationMode
}

// Mention is a located occurrence of an entity name. Start and End are byte
// offsets into the searched text; RuneStart and RuneEnd are character offsets.
type Mention struct {
	Start     int    `json:"start"`
	End       int    `json:"end"`
	RuneStart int    `json:"rune_start"`
	RuneEnd   int    `json:"rune_end"`
	Text      string `json:"text"`
}
