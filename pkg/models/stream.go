package models

// StreamParams are the knobs the load generator sends to a streaming
// target. Zero values are omitted on the wire, which tells the target to
// fall back to its own configured defaults.
type StreamParams struct {
	Frames            int  `json:"frames,omitempty"`
	InterFrameDelayMs int  `json:"delay_ms,omitempty"`
	BytesPerFrame     int  `json:"bytes_per_frame,omitempty"`
	CPUSpinMs         int  `json:"cpu_spin_ms,omitempty"`
	Fanout            int  `json:"fanout,omitempty"`
	FanoutDelayMs     int  `json:"fanout_delay_ms,omitempty"`
	Compression       bool `json:"compression,omitempty"`
}

// ChatChunk is the frame payload of the streaming protocol, shaped like a
// chat-completion delta so real and synthetic targets parse identically.
type ChatChunk struct {
	Choices []ChunkChoice `json:"choices"`
}

// ChunkChoice carries one delta within a chunk
type ChunkChoice struct {
	Delta ChunkDelta `json:"delta"`
}

// ChunkDelta is the incremental content of a frame
type ChunkDelta struct {
	Content string `json:"content"`
}

// Content returns the first choice's delta content, or "" when absent
func (c *ChatChunk) Content() string {
	if len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].Delta.Content
}
