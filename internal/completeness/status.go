package completeness

// Status is the stream state attached to a fenced code block.
type Status string

const (
	StatusLoading Status = "loading"
	StatusDone    Status = "done"
)

// FenceStatus derives the stream state of a code block.
//
// Indented code has no closing marker and is always done. A fence whose
// closing marker has arrived is done. Otherwise the content heuristic decides,
// using the diagram heuristic when diagram is set.
func FenceStatus(value string, diagram, closed, indented bool) Status {
	if indented || closed {
		return StatusDone
	}
	if LikelyComplete(value, diagram) {
		return StatusDone
	}
	return StatusLoading
}
