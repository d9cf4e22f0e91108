package llms

// Part type discriminators for the serialized message form.
const (
	PartTypeText         = "text"
	PartTypeToolCall     = "tool_call"
	PartTypeToolResponse = "tool_response"
)

// PartModel is the serializable form of a ContentPart.
type PartModel struct {
	Type         string            `json:"type"`
	Text         string            `json:"text,omitempty"`
	ToolCall     *ToolCall         `json:"tool_call,omitempty"`
	ToolResponse *ToolCallResponse `json:"tool_response,omitempty"`
}

// MessageModel is the serializable form of a Message,
// used by stores to persist chat history.
type MessageModel struct {
	Role  Role        `json:"role"`
	Parts []PartModel `json:"parts"`
}

// ConvertMessageToModel converts a Message to its serializable form.
// Unknown part types are skipped.
func ConvertMessageToModel(msg Message) MessageModel {
	model := MessageModel{
		Role:  msg.Role,
		Parts: make([]PartModel, 0, len(msg.Parts)),
	}
	for _, part := range msg.Parts {
		switch p := part.(type) {
		case TextContent:
			model.Parts = append(model.Parts, PartModel{Type: PartTypeText, Text: p.Text})
		case ToolCall:
			tc := p
			model.Parts = append(model.Parts, PartModel{Type: PartTypeToolCall, ToolCall: &tc})
		case ToolCallResponse:
			tr := p
			model.Parts = append(model.Parts, PartModel{Type: PartTypeToolResponse, ToolResponse: &tr})
		}
	}
	return model
}

// ToMessage converts the serializable form back to a Message.
func (m MessageModel) ToMessage() Message {
	msg := Message{
		Role:  m.Role,
		Parts: make([]ContentPart, 0, len(m.Parts)),
	}
	for _, part := range m.Parts {
		switch part.Type {
		case PartTypeText:
			msg.Parts = append(msg.Parts, TextContent{Text: part.Text})
		case PartTypeToolCall:
			if part.ToolCall != nil {
				msg.Parts = append(msg.Parts, *part.ToolCall)
			}
		case PartTypeToolResponse:
			if part.ToolResponse != nil {
				msg.Parts = append(msg.Parts, *part.ToolResponse)
			}
		}
	}
	return msg
}

// ConvertMessagesToModels converts messages to their serializable form.
func ConvertMessagesToModels(msgs []Message) []MessageModel {
	models := make([]MessageModel, 0, len(msgs))
	for _, msg := range msgs {
		models = append(models, ConvertMessageToModel(msg))
	}
	return models
}

// ToMessages converts serialized models back to messages.
func ToMessages(models []MessageModel) []Message {
	msgs := make([]Message, 0, len(models))
	for _, model := range models {
		msgs = append(msgs, model.ToMessage())
	}
	return msgs
}
