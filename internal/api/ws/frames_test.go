package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeFrame(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
		want InboundFrame
	}{
		{"message frame", `{"type":"message","text":"hello"}`, InboundFrame{Type: FrameMessage, Text: "hello"}},
		{"stop frame", `{"type":"stop"}`, InboundFrame{Type: FrameStop}},
		{"bare text", "just asking", InboundFrame{Type: FrameMessage, Text: "just asking"}},
		{"bare text trailing newline", "line\n", InboundFrame{Type: FrameMessage, Text: "line"}},
		{"bare stop literal", "STOP", InboundFrame{Type: FrameStop}},
		{"lowercase stop is a message", "stop", InboundFrame{Type: FrameMessage, Text: "stop"}},
		{"json without type treated as text", `{"text":"x"}`, InboundFrame{Type: FrameMessage, Text: `{"text":"x"}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, decodeFrame([]byte(tt.data)))
		})
	}
}
