// Package agent implements the conversational safety assistant: a chat
// model with function-calling access to the assessment tools. Each turn
// redacts personal data from the conversation, lets the model call tools
// for a bounded number of rounds, and returns the final text answer.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/guchanghao1/zhianjian-system/internal/domain"
	"github.com/guchanghao1/zhianjian-system/internal/sanitize"
	"github.com/guchanghao1/zhianjian-system/internal/tools"
)

const systemPrompt = `你是一个专业的施工现场安全管理助手，专门负责回答建筑施工安全相关问题，协助进行安全隐患识别和评估。

【功能要求说明】
1. 你可以使用以下工具来帮助用户：
   - analyze_image_tool：分析施工现场图片，识别安全隐患。输入应为图片文件路径。
   - retrieve_knowledge_tool：从知识库中检索相关的建筑施工安全知识。输入为查询关键词。
   - generate_report_tool：生成安全评估报告。输入应为JSON格式的分析结果，或使用默认示例数据。
   - export_pdf_tool：导出PDF报告。输入为报告标题，将生成示例PDF报告。

【任务边界定义】
- 你的工作范围仅限建筑施工安全领域
- 不提供医疗、法律、金融等其他专业领域的建议
- 不处理与建筑施工安全无关的问题

【使用限制条件】
1. 对于 analyze_image_tool：
   - 仅支持 JPG、JPEG、PNG 格式的图片
   - 图片大小不应超过 10MB
   - 输入必须是有效的文件路径
2. 对于 retrieve_knowledge_tool：
   - 仅支持中文查询
   - 查询关键词应与建筑施工安全相关
3. 对于 generate_report_tool：
   - 输入必须是有效的 JSON 格式，包含 "hazards" 字段
   - 如果不提供输入，将使用默认示例数据
4. 对于 export_pdf_tool：
   - 报告标题长度不超过 100 个字符

【工具调用决策逻辑】
- 当用户询问施工安全相关知识时，优先使用 retrieve_knowledge_tool
- 当用户提供图片或要求分析图片时，使用 analyze_image_tool
- 当用户要求生成报告时，使用 generate_report_tool
- 当用户要求导出 PDF 时，使用 export_pdf_tool
- 可以根据需要组合使用多个工具，例如：先分析图片，再检索知识，最后生成报告

【错误处理指引】
- 如果无法理解用户的问题，请明确询问用户需要什么帮助
- 如果工具调用失败，应向用户说明失败原因，并提供替代建议
- 如果超出你的能力范围，应诚实地告知用户
- 所有错误响应应包含错误码（如 [1001]）和清晰的错误描述

【响应要求】
- 回答应专业、准确、简洁
- 使用中文进行交流
- 对于安全隐患，应明确指出风险等级和整改建议
- 输出格式要求：
  - 使用自然语言分段，避免使用 ### 等markdown标题符号
  - 使用数字编号列出要点，保持层次结构清晰
  - 避免显示任何markdown格式符号
  - 保持行间距适中，内容对齐整齐
  - 开头有简短引言，结尾有总结或后续建议
- 若无法回答则回复：抱歉，无法回答这个问题，请重新提问。`

// DefaultMaxToolRounds bounds how many consecutive rounds of tool calls a
// single turn may trigger.
const DefaultMaxToolRounds = 6

// ErrToolLoopExceeded is returned when the model keeps requesting tools
// past the round limit.
var ErrToolLoopExceeded = errors.New("tool call round limit exceeded")

// Agent produces one complete assistant answer for a conversation.
type Agent interface {
	Invoke(ctx context.Context, messages []domain.ConversationMessage) (string, error)
}

// ChatCompleter is the raw chat completion surface the agent drives.
// *openai.Client satisfies it.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ToolAgent is the production Agent: a function-calling chat model over
// the assessment toolbox.
type ToolAgent struct {
	client        ChatCompleter
	model         string
	defs          []tools.Definition
	logger        *slog.Logger
	maxToolRounds int
}

// New creates a ToolAgent. maxToolRounds <= 0 falls back to
// DefaultMaxToolRounds.
func New(client ChatCompleter, model string, defs []tools.Definition, logger *slog.Logger, maxToolRounds int) *ToolAgent {
	if maxToolRounds <= 0 {
		maxToolRounds = DefaultMaxToolRounds
	}
	return &ToolAgent{
		client:        client,
		model:         model,
		defs:          defs,
		logger:        logger,
		maxToolRounds: maxToolRounds,
	}
}

// Invoke runs one agent turn. Conversation content is redacted before it
// reaches the model; tool outputs pass through unredacted since they never
// carry user-entered contact data.
func (a *ToolAgent) Invoke(ctx context.Context, messages []domain.ConversationMessage) (string, error) {
	chat := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	chat = append(chat, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, m := range messages {
		chat = append(chat, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: sanitize.Redact(m.Content),
		})
	}

	toolSpecs := a.toolSpecs()

	for round := 0; round <= a.maxToolRounds; round++ {
		resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       a.model,
			Messages:    chat,
			Tools:       toolSpecs,
			Temperature: 0.3,
		})
		if err != nil {
			return "", fmt.Errorf("agent completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("agent completion: empty response")
		}

		msg := resp.Choices[0].Message
		if len(msg.ToolCalls) == 0 {
			return msg.Content, nil
		}

		chat = append(chat, msg)
		for _, call := range msg.ToolCalls {
			result := a.runTool(ctx, call)
			chat = append(chat, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    result,
				ToolCallID: call.ID,
			})
		}
	}

	return "", ErrToolLoopExceeded
}

// runTool dispatches one model-requested tool call. Unknown tools and
// malformed arguments produce coded error strings for the model to relay.
func (a *ToolAgent) runTool(ctx context.Context, call openai.ToolCall) string {
	for _, def := range a.defs {
		if def.Name != call.Function.Name {
			continue
		}

		input := parseToolInput(call.Function.Arguments)
		a.logger.Debug("Tool call", "tool", def.Name, "input", input)
		return def.Run(ctx, input)
	}

	a.logger.Warn("Unknown tool requested", "tool", call.Function.Name)
	return fmt.Sprintf("[1001] 未知工具: %s", call.Function.Name)
}

// toolSpecs converts the toolbox definitions into function specs. Every
// tool takes a single string parameter named input.
func (a *ToolAgent) toolSpecs() []openai.Tool {
	specs := make([]openai.Tool, 0, len(a.defs))
	for _, def := range a.defs {
		specs = append(specs, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"input": map[string]any{
							"type":        "string",
							"description": "工具输入",
						},
					},
					"required": []string{"input"},
				},
			},
		})
	}
	return specs
}

// parseToolInput extracts the input argument from the serialized tool call
// arguments. Arguments that are not the expected JSON object fall back to
// the raw string.
func parseToolInput(arguments string) string {
	var args struct {
		Input string `json:"input"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return arguments
	}
	return args.Input
}
