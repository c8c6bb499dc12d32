package genloop

import "strings"

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatFormatter renders a single new message as the text to append to the
// model input. addAssistant opens the assistant turn after it.
type ChatFormatter interface {
	Format(msg ChatMessage, addAssistant bool) string
}

// ChatML is the <|im_start|>role ... <|im_end|> format.
type ChatML struct{}

func (ChatML) Format(msg ChatMessage, addAssistant bool) string {
	var b strings.Builder
	b.WriteString("<|im_start|>")
	b.WriteString(msg.Role)
	b.WriteByte('\n')
	b.WriteString(msg.Content)
	b.WriteString("<|im_end|>\n")
	if addAssistant {
		b.WriteString("<|im_start|>assistant\n")
	}
	return b.String()
}

// chatHistory formats turns as they are added. Earlier turns already live
// in the model state, so only the new message is rendered.
type chatHistory struct {
	f ChatFormatter
}

// add returns the formatted text of one message. User turns open the
// assistant turn.
func (h *chatHistory) add(role, content string) string {
	return h.f.Format(ChatMessage{Role: role, Content: content}, role == "user")
}
