// Package events defines the run event model and its server-sent wire form.
//
// ════════════════════════════════════════════════════════════════
// Run Stream Protocol
// ════════════════════════════════════════════════════════════════
//
// A run produces an ordered sequence of events, serialised one per
// SSE frame as "data: <compact-json>\n\n". The transport must never
// reorder; consumers rely on arrival order.
//
// Content lifecycle for one generated block:
//
//	content      {content: "delta"}   (repeated while the LLM streams)
//	break        {content: ""}        (block fully streamed)
//
// Audio lifecycle for one generated block, when TTS is enabled:
//
//	new_slide      (optional, marks a visual boundary between parts)
//	audio_segment  {position, segment_index, audio_data, ...}
//	audio_complete {position, audio_url, ...}
//
// For a single block, audio_segment events for the same position carry
// strictly increasing segment_index values, and audio_complete events
// arrive in strictly increasing position order.
//
// An interaction event suspends the run until learner input arrives; a
// variable_update confirms an accepted answer; outline_item_update
// reports progress transitions of outline nodes.
//
// The stream always terminates: either with done, or with an error
// frame followed by done. No failure may leave the stream dangling.
//
// ════════════════════════════════════════════════════════════════
package events

// Run event types, in the order a client typically sees them.
const (
	TypeContent           = "content"
	TypeBreak             = "break"
	TypeInteraction       = "interaction"
	TypeVariableUpdate    = "variable_update"
	TypeOutlineItemUpdate = "outline_item_update"
	TypeNewSlide          = "new_slide"
	TypeAudioSegment      = "audio_segment"
	TypeAudioComplete     = "audio_complete"
	TypeError             = "error"
	TypeDone              = "done"
)

// RunEvent is one frame of a run stream. Content is a string for content,
// break, interaction, error and done events, and a structured payload for
// the rest (see payloads.go).
type RunEvent struct {
	OutlineBID        string `json:"outline_bid"`
	GeneratedBlockBID string `json:"generated_block_bid"`
	Type              string `json:"type"`
	Content           any    `json:"content"`
}
