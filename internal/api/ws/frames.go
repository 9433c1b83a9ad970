package ws

// Inbound frame types.
const (
	FrameMessage = "message"
	FrameStop    = "stop"
)

// InboundFrame is one client-to-server websocket frame. Frames that do not
// parse as JSON are treated as bare message text.
type InboundFrame struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// OutboundFrame is one server-to-client websocket frame. Kind is
// "assistant" for generated replies and "system" for service notices.
type OutboundFrame struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}
