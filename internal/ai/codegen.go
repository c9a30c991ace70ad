package ai

import (
	"context"
	"encoding/json"
	"fmt"
)

// ToolSpec names the single code-emitting tool offered to the model for one
// agent task. The argument schema always requires a `code` string.
type ToolSpec struct {
	Name        string
	Description string
}

func (s ToolSpec) tool() Tool {
	params, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"code": map[string]any{
				"type":        "string",
				"description": "Python code to execute",
			},
		},
		"required": []string{"code"},
	})
	return Tool{
		Type: "function",
		Function: ToolFunction{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  params,
		},
	}
}

// CodeRequest asks the model for analysis code via the tool-call protocol.
type CodeRequest struct {
	Model     string
	Prompt    string
	Tool      ToolSpec
	MaxTokens int
}

// GenerateCode issues one model call and extracts the `code` argument from
// the returned tool invocation. All failure modes come back as tagged errors;
// this function never retries, retry policy is owned by the agent runner.
func (c *Client) GenerateCode(ctx context.Context, req CodeRequest) (string, error) {
	resp, err := c.Generate(ctx, GenerateRequest{
		Model:      req.Model,
		Messages:   []Message{{Role: "user", Content: req.Prompt}},
		MaxTokens:  req.MaxTokens,
		Tools:      []Tool{req.Tool.tool()},
		ToolChoice: "auto",
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", &NoToolCallError{Model: req.Model}
	}
	msg := resp.Choices[0].Message
	var call *ToolCall
	for i := range msg.ToolCalls {
		if msg.ToolCalls[i].Function.Name == req.Tool.Name {
			call = &msg.ToolCalls[i]
			break
		}
	}
	if call == nil {
		return "", &NoToolCallError{Model: req.Model}
	}
	var args struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		return "", &MalformedToolArgsError{Tool: req.Tool.Name, Err: err}
	}
	if args.Code == "" {
		return "", &MalformedToolArgsError{Tool: req.Tool.Name, Err: fmt.Errorf("missing required `code` argument")}
	}
	return args.Code, nil
}

// TextRequest asks the synthesis model for a plain markdown response.
type TextRequest struct {
	Model     string
	Prompt    string
	MaxTokens int
}

// GenerateText issues one plain-text call (no tool protocol) and returns the
// assistant message content.
func (c *Client) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	resp, err := c.Generate(ctx, GenerateRequest{
		Model:     req.Model,
		Messages:  []Message{{Role: "user", Content: req.Prompt}},
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", &EmptyResponseError{Model: req.Model}
	}
	return resp.Choices[0].Message.Content, nil
}
