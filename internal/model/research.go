// Package model defines the records passed between pipeline stages.
package model

import "strconv"

// Source is a search hit: a candidate URL with its title and snippet.
// URL may be empty for sources that did not come from the web.
type Source struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// Locator returns the source URL.
func (s Source) Locator() string { return s.URL }

// Body returns the text used for quality gates and ranking.
func (s Source) Body() string { return s.Snippet }

// Document is extracted full text. Content is non-empty once a document
// enters the pipeline.
type Document struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Locator returns the document URL.
func (d Document) Locator() string { return d.URL }

// Body returns the extracted text.
func (d Document) Body() string { return d.Content }

// Passage is a chunk of indexed text returned by a similarity query.
type Passage struct {
	Content string  `json:"content"`
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Score   float64 `json:"score"`
}

// FlowID identifies one of the fixed pipeline shapes.
type FlowID int

const (
	// FlowRetrieveSynthesize is retrieve > acquire > index > synthesize.
	FlowRetrieveSynthesize FlowID = 1
	// FlowRetrieveEvaluate adds the evaluation step before indexing.
	FlowRetrieveEvaluate FlowID = 2
	// FlowDocument ingests an uploaded document.
	FlowDocument FlowID = 3
)

// DefaultFlow is used whenever the planner cannot decide.
const DefaultFlow = FlowRetrieveEvaluate

func (f FlowID) String() string { return strconv.Itoa(int(f)) }

// Known reports whether f is one of the defined flows.
func (f FlowID) Known() bool {
	return f >= FlowRetrieveSynthesize && f <= FlowDocument
}

// Decision is the planner's choice for a single request.
type Decision struct {
	Flow   FlowID `json:"flow"`
	Reason string `json:"reason"`
}
