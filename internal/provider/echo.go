package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// EchoTransport is the development transport: every request acknowledges
// the latest user message and immediately completes the task. It lets the
// server and host channels run end to end without provider credentials.
type EchoTransport struct{}

// OpenStream implements Transport.
func (EchoTransport) OpenStream(ctx context.Context, req *Request) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var lastUser string
	for _, msg := range req.Messages {
		if msg.Role == "user" {
			lastUser = msg.Content
		}
	}

	result := fmt.Sprintf("Echo transport: acknowledged %q. No model is configured.", truncateText(lastUser, 120))
	args, _ := json.Marshal(map[string]string{"result": result})

	return &echoStream{events: []StreamEvent{
		TextDelta{Text: "No model configured; completing immediately.\n"},
		ToolCallEnd{CallID: "echo-1", Name: CompletionToolName, Args: args},
		StreamEnd{Reason: FinishToolUse},
	}}, nil
}

type echoStream struct {
	events []StreamEvent
	next   int
}

func (s *echoStream) Recv() (StreamEvent, error) {
	if s.next >= len(s.events) {
		return nil, io.EOF
	}
	ev := s.events[s.next]
	s.next++
	return ev, nil
}

func (s *echoStream) Close() error { return nil }

func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
