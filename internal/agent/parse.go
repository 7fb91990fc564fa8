package agent

import (
	"encoding/json"
	"fmt"
)

// ParseMessage decodes one stream-json line from the CLI into a typed
// message. Unknown message types are reported as errors so the caller can
// decide whether to skip or abort.
func ParseMessage(raw []byte) (Message, error) {
	var envelope struct {
		Type    string          `json:"type"`
		Subtype string          `json:"subtype"`
		Message json.RawMessage `json:"message"`

		// Result fields live on the envelope itself.
		Usage        *Usage  `json:"usage"`
		NumTurns     int     `json:"num_turns"`
		DurationMs   int     `json:"duration_ms"`
		IsError      bool    `json:"is_error"`
		Result       string  `json:"result"`
		TotalCostUSD float64 `json:"total_cost_usd"`

		Data map[string]any `json:"data"`
	}

	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	switch envelope.Type {
	case "assistant":
		return parseAssistant(envelope.Message)

	case "user":
		var body struct {
			Content any `json:"content"`
		}
		if len(envelope.Message) > 0 {
			if err := json.Unmarshal(envelope.Message, &body); err != nil {
				return nil, fmt.Errorf("failed to parse user message: %w", err)
			}
		}
		return UserMessage{Content: body.Content}, nil

	case "system":
		return SystemMessage{Subtype: envelope.Subtype, Data: envelope.Data}, nil

	case "result":
		msg := ResultMessage{
			Subtype:      envelope.Subtype,
			NumTurns:     envelope.NumTurns,
			DurationMs:   envelope.DurationMs,
			IsError:      envelope.IsError,
			Result:       envelope.Result,
			TotalCostUSD: envelope.TotalCostUSD,
		}
		if envelope.Usage != nil {
			msg.Usage = *envelope.Usage
		}
		return msg, nil

	default:
		return nil, fmt.Errorf("unknown message type: %q", envelope.Type)
	}
}

func parseAssistant(raw json.RawMessage) (Message, error) {
	var body struct {
		Model   string            `json:"model"`
		Content []json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("failed to parse assistant message: %w", err)
	}

	msg := AssistantMessage{Model: body.Model}
	for _, rawBlock := range body.Content {
		block, err := parseContentBlock(rawBlock)
		if err != nil {
			return nil, err
		}
		msg.Content = append(msg.Content, block)
	}
	return msg, nil
}

func parseContentBlock(raw json.RawMessage) (ContentBlock, error) {
	var block struct {
		Type      string         `json:"type"`
		Text      string         `json:"text"`
		Thinking  string         `json:"thinking"`
		Signature string         `json:"signature"`
		ID        string         `json:"id"`
		Name      string         `json:"name"`
		Input     map[string]any `json:"input"`
		ToolUseID string         `json:"tool_use_id"`
		Content   any            `json:"content"`
		IsError   bool           `json:"is_error"`
	}
	if err := json.Unmarshal(raw, &block); err != nil {
		return nil, fmt.Errorf("failed to parse content block: %w", err)
	}

	switch block.Type {
	case "text":
		return TextBlock{Text: block.Text}, nil
	case "thinking":
		return ThinkingBlock{Thinking: block.Thinking, Signature: block.Signature}, nil
	case "tool_use":
		return ToolUseBlock{ID: block.ID, Name: block.Name, Input: block.Input}, nil
	case "tool_result":
		return ToolResultBlock{ToolUseID: block.ToolUseID, Content: block.Content, IsError: block.IsError}, nil
	default:
		return nil, fmt.Errorf("unknown content block type: %q", block.Type)
	}
}
