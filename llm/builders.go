package llm

// TextBlock creates a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// FileBlock creates a content block from a local file path.
// The file is read when the request payload is built.
func FileBlock(path string) ContentBlock {
	return ContentBlock{Type: "file", Path: path}
}

// ImageBlock creates an inline image content block from base64-encoded data.
func ImageBlock(format, base64Data string) ContentBlock {
	return ContentBlock{Type: "image", Format: format, Data: base64Data}
}

// DocumentBlock creates an inline document content block from base64-encoded data.
func DocumentBlock(name, format, base64Data string) ContentBlock {
	return ContentBlock{Type: "document", Name: name, Format: format, Data: base64Data}
}

// UserMessage creates a user message with the given content blocks.
func UserMessage(blocks ...ContentBlock) Message {
	return Message{Role: "user", Content: blocks}
}

// AssistantMessage creates an assistant message with the given content blocks.
func AssistantMessage(blocks ...ContentBlock) Message {
	return Message{Role: "assistant", Content: blocks}
}
