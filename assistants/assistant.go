package assistants

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/agentloop/chatmodel"
	"github.com/effective-security/agentloop/encoding"
	"github.com/effective-security/agentloop/pkg/llms"
	"github.com/effective-security/agentloop/pkg/llmutils"
	"github.com/effective-security/agentloop/pkg/metricskey"
	"github.com/effective-security/agentloop/pkg/schema"
	"github.com/effective-security/agentloop/tools"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

// ErrMaxIterationsExceeded is returned when the tool-calling loop reaches
// its iteration bound. No further model call is issued once the bound is hit.
var ErrMaxIterationsExceeded = errors.New("max tool call iterations exceeded")

// CallInput is the input of one assistant run.
type CallInput struct {
	// Input is the user message.
	Input string
	// Messages are extra messages appended after the user input.
	Messages []llms.Message
	// Options override the assistant config for this call only.
	Options []Option
}

// Assistant runs a bounded tool-calling conversation loop over an LLM
// and parses the final answer into O.
type Assistant[O chatmodel.ContentProvider] struct {
	LLM          llms.Model
	OutputParser chatmodel.OutputParser[O]

	registry *tools.Registry

	cfg          *Config
	name         string
	description  string
	systemPrompt string
	runMessages  []llms.Message
}

var (
	_ IAssistant  = (*Assistant[chatmodel.OutputResult])(nil)
	_ HasCallback = (*Assistant[chatmodel.OutputResult])(nil)
)

// NewAssistant initializes the Assistant with a model and a system prompt.
func NewAssistant[O chatmodel.ContentProvider](
	llmModel llms.Model,
	systemPrompt string,
	options ...Option) *Assistant[O] {
	ret := &Assistant[O]{
		cfg:          NewConfig(options...),
		LLM:          llmModel,
		systemPrompt: systemPrompt,
		name:         "Generic Assistant",
		description:  "An AI assistant that can perform various tasks.",
	}

	var output O
	parser, err := encoding.NewTypedOutputParser(output, ret.cfg.Mode)
	if err != nil {
		// an unsupported mode falls back to plain text until
		// WithOutputParser supplies the parser
		logger.KV(xlog.ERROR,
			"status", "failed_to_create_output_parser",
			"mode", ret.cfg.Mode,
			"err", err.Error(),
		)
		parser, _ = encoding.NewTypedOutputParser(output, encoding.ModePlainText)
	}
	ret.OutputParser = parser

	prov := llmModel.GetProviderType()
	strict := ret.cfg.Mode == encoding.ModeJSONSchemaStrict
	jsonSchema := (ret.cfg.Mode == encoding.ModeJSONSchema || strict) &&
		prov.Supports(llms.CapabilityJSONSchema)
	if jsonSchema {
		rf, err := schema.NewResponseFormat(reflect.TypeOf(output), strict)
		if err != nil {
			logger.KV(xlog.ERROR,
				"status", "failed_to_create_response_format",
				"err", err.Error(),
			)
		}
		ret.cfg.ResponseFormat = rf
	}

	return ret
}

// WithOutputParser replaces the output parser.
func (a *Assistant[O]) WithOutputParser(outputParser chatmodel.OutputParser[O]) *Assistant[O] {
	a.OutputParser = outputParser
	return a
}

// WithName sets the name of the Assistant, when used in a prompt of other Assistants or LLMs.
func (a *Assistant[O]) WithName(name string) *Assistant[O] {
	a.name = name
	return a
}

// WithDescription sets the description of the Assistant, to be used in the prompt of other Assistants or LLMs.
func (a *Assistant[O]) WithDescription(description string) *Assistant[O] {
	a.description = description
	return a
}

// WithTools binds the tool registry used by the loop.
func (a *Assistant[O]) WithTools(registry *tools.Registry) *Assistant[O] {
	a.registry = registry
	return a
}

// Name returns the name of the Assistant.
func (a *Assistant[O]) Name() string {
	return a.name
}

// Description returns the description of the Assistant.
// Should not exceed LLM model limit.
func (a *Assistant[O]) Description() string {
	return a.description
}

// GetCallback returns the configured callback handler.
func (a *Assistant[O]) GetCallback() Callback {
	return a.cfg.CallbackHandler
}

// GetCallConfig returns the per-call config with the options applied.
func (a *Assistant[O]) GetCallConfig(opts ...Option) *Config {
	return a.cfg.Apply(opts...)
}

// LastRunMessages returns the messages produced by the last run,
// including the partial trace when the run failed.
func (a *Assistant[O]) LastRunMessages() []llms.Message {
	return a.runMessages
}

// GetSystemPrompt generates the system prompt for the Assistant,
// substituting the {{ name }} placeholders from the prompt input.
// When the provider has no native response format support, the output
// schema instructions are appended to the prompt.
func (a *Assistant[O]) GetSystemPrompt(cfg *Config) string {
	systemPrompt := strings.TrimRight(a.systemPrompt, "\n")
	for key, val := range cfg.PromptInput {
		value := fmt.Sprintf("%v", val)
		systemPrompt = strings.ReplaceAll(systemPrompt, "{{ "+key+" }}", value)
		systemPrompt = strings.ReplaceAll(systemPrompt, "{{"+key+"}}", value)
	}
	if cfg.ResponseFormat == nil && cfg.Mode != encoding.ModePlainText {
		outputSchema := strings.TrimRight(a.OutputParser.GetFormatInstructions(), "\n")
		if outputSchema != "" {
			systemPrompt = fmt.Sprintf("%s\n\n# OUTPUT SCHEMA\n%s", systemPrompt, outputSchema)
		}
	}
	return systemPrompt
}

// Call executes the assistant and parses the final answer.
func (a *Assistant[O]) Call(ctx context.Context, input *CallInput) (*llms.ContentResponse, error) {
	var output O
	return a.Run(ctx, input, &output)
}

// Run executes the assistant. When optionalOutputType is nil the final
// answer is returned as-is without parsing.
func (a *Assistant[O]) Run(ctx context.Context, input *CallInput, optionalOutputType *O) (*llms.ContentResponse, error) {
	started := time.Now()
	defer metricskey.PerfAssistantCall.MeasureSince(started, a.Name())

	// reset the run messages
	a.runMessages = nil
	// create a per call config
	cfg := a.GetCallConfig(input.Options...)

	callback := cfg.CallbackHandler
	if callback != nil {
		callback.OnAssistantStart(ctx, a, input.Input)
	}

	resp, messages, err := a.run(ctx, cfg, input, optionalOutputType)
	if err != nil {
		metricskey.StatsAssistantCallsFailed.IncrCounter(1, a.Name())
		if callback != nil {
			callback.OnAssistantError(ctx, a, input.Input, err, messages)
		}
		return nil, err
	}
	metricskey.StatsAssistantCallsSucceeded.IncrCounter(1, a.Name())
	if callback != nil {
		callback.OnAssistantEnd(ctx, a, input.Input, resp, messages)
	}
	return resp, nil
}

// run executes the main loop of the Assistant.
func (a *Assistant[O]) run(ctx context.Context, cfg *Config, input *CallInput, optionalOutputType *O) (*llms.ContentResponse, []llms.Message, error) {
	_, chatID, err := chatmodel.GetTenantAndChatID(ctx)
	if err != nil {
		return nil, nil, errors.WithStack(chatmodel.ErrInvalidChatContext)
	}

	assistantName := a.Name()

	messageHistory := []llms.Message{
		llms.MessageFromTextParts(llms.RoleSystem, a.GetSystemPrompt(cfg)),
	}
	if cfg.Store != nil {
		prevMessages, err := cfg.Store.Messages(ctx)
		if err != nil {
			return nil, nil, errors.WithMessage(err, "failed to load message history")
		}
		logger.ContextKV(ctx, xlog.DEBUG,
			"assistant", assistantName,
			"chat_id", chatID,
			"message_history", len(prevMessages))
		messageHistory = append(messageHistory, prevMessages...)
	}

	if input.Input != "" {
		userMessage := llms.MessageFromTextParts(llms.RoleHuman, input.Input)
		a.runMessages = append(a.runMessages, userMessage)
		messageHistory = append(messageHistory, userMessage)
	}
	if len(input.Messages) > 0 {
		messageHistory = append(messageHistory, input.Messages...)
	}

	var toolDefs []llms.Tool
	if a.registry != nil && a.registry.Len() > 0 {
		if !a.LLM.GetProviderType().Supports(llms.CapabilityFunctionCalling) {
			return nil, messageHistory, errors.Newf("assistant %s: the LLM does not support function calling", assistantName)
		}
		toolDefs = a.registry.Definitions()
	}
	callOpts := cfg.GetCallOptions(toolDefs)

	maxMessages := values.NumbersCoalesce(cfg.MaxMessages, DefaultMaxMessages)
	bytesLimit := uint64(values.NumbersCoalesce(cfg.MaxLength, DefaultMaxContentSize))
	toolsLimit := values.NumbersCoalesce(cfg.MaxToolCalls, DefaultMaxToolCalls)

	var resp *llms.ContentResponse
	totalToolExecuted := 0
	consecutiveNotFound := 0
	for {
		if len(messageHistory) >= maxMessages {
			return nil, messageHistory, errors.Newf("assistant %s: the messages count exceeded limit", assistantName)
		}
		if size := llmutils.CountMessagesContentSize(messageHistory); size > bytesLimit {
			return nil, messageHistory, errors.Newf("assistant %s: the content size exceeded limit", assistantName)
		}

		resp, err = a.generate(ctx, cfg, messageHistory, callOpts)
		if err != nil {
			return nil, messageHistory, err
		}

		// An empty response is a final empty answer, not a retry.
		if len(resp.Choices) == 0 {
			logger.ContextKV(ctx, xlog.WARNING,
				"assistant", assistantName,
				"status", "empty_response",
				"input", slices.StringUpto(input.Input, 64),
			)
			break
		}

		toolCalls := collectToolCalls(resp)
		if len(toolCalls) == 0 || a.registry == nil {
			break
		}

		assistantResponse := llms.MessageFromToolCalls(llms.RoleAI, toolCalls...)
		messageHistory = append(messageHistory, assistantResponse)
		if !cfg.SkipMessageHistory {
			a.runMessages = append(a.runMessages, assistantResponse)
		}

		results := a.registry.ExecuteCalls(ctx, toolCalls)
		notFound := 0
		for _, res := range results {
			if errors.Is(res.Err, tools.ErrToolNotFound) {
				notFound++
				if cfg.CallbackHandler != nil {
					cfg.CallbackHandler.OnToolNotFound(ctx, a, res.Name)
				}
			}
			toolResponse := llms.MessageFromToolResponse(llms.RoleTool, res.ToolResponse())
			messageHistory = append(messageHistory, toolResponse)
			if !cfg.SkipMessageHistory {
				a.runMessages = append(a.runMessages, toolResponse)
			}
		}

		if notFound > 0 {
			consecutiveNotFound += notFound
			if consecutiveNotFound > DefaultMaxNotFound {
				return nil, messageHistory, errors.Newf("assistant %s: the number of not found tools is exceeded", assistantName)
			}
		} else {
			consecutiveNotFound = 0
		}

		totalToolExecuted += len(toolCalls)
		if totalToolExecuted >= toolsLimit {
			return nil, messageHistory, errors.WithMessagef(ErrMaxIterationsExceeded, "assistant %s: executed %d tool calls", assistantName, totalToolExecuted)
		}
	}

	result := joinChoices(resp.Choices)

	if optionalOutputType != nil && len(resp.Choices) > 0 {
		finalOutput, perr := a.OutputParser.Parse(result)
		if perr != nil {
			metricskey.StatsAssistantLLMParseErrors.IncrCounter(1, assistantName)
			logger.ContextKV(ctx, xlog.DEBUG,
				"assistant", assistantName,
				"status", "failed_to_parse_llm_response",
				"err", perr.Error(),
				"output_parser", a.OutputParser.Type(),
				"result", result,
			)
			if cfg.CallbackHandler != nil {
				cfg.CallbackHandler.OnAssistantLLMParseError(ctx, a, input.Input, result, perr)
			}
			if !errors.Is(perr, chatmodel.ErrFailedUnmarshalOutput) {
				return nil, messageHistory, perr
			}

			// one re-generation round trip, then fail with the parse error
			resp, result, finalOutput, err = a.reprompt(ctx, cfg, messageHistory, callOpts, result, perr)
			if err != nil {
				return nil, messageHistory, err
			}
		}
		*optionalOutputType = *finalOutput

		if prov, ok := (any)(finalOutput).(chatmodel.ContentProvider); ok {
			result = prov.GetContent()
		}
	}

	messageHistory = append(messageHistory, llms.MessageFromTextParts(llms.RoleAI, result))
	a.runMessages = append(a.runMessages, llms.MessageFromTextParts(llms.RoleAI, result))

	if cfg.Store != nil && !cfg.SkipMessageHistory {
		if err := cfg.Store.Add(ctx, a.runMessages...); err != nil {
			logger.ContextKV(ctx, xlog.WARNING,
				"assistant", assistantName,
				"chat_id", chatID,
				"status", "failed_to_store_messages",
				"err", err.Error(),
			)
		}
	}

	return resp, messageHistory, nil
}

// generate performs one model call with callbacks and metrics.
func (a *Assistant[O]) generate(ctx context.Context, cfg *Config, messageHistory []llms.Message, callOpts []llms.CallOption) (*llms.ContentResponse, error) {
	assistantName := a.Name()
	modelName := a.LLM.GetName()

	if cfg.CallbackHandler != nil {
		cfg.CallbackHandler.OnAssistantLLMCallStart(ctx, a, a.LLM, messageHistory)
	}

	bytesSent := llmutils.CountMessagesContentSize(messageHistory)
	metricskey.StatsLLMMessagesSent.IncrCounter(float64(len(messageHistory)), assistantName, modelName)
	metricskey.StatsLLMBytesSent.IncrCounter(float64(bytesSent), assistantName, modelName)

	resp, err := a.LLM.GenerateContent(ctx, messageHistory, callOpts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to generate content from LLM")
	}

	if cfg.CallbackHandler != nil {
		cfg.CallbackHandler.OnAssistantLLMCallEnd(ctx, a, a.LLM, resp)
	}

	bytesReceived := llmutils.CountResponseContentSize(resp)
	metricskey.StatsLLMBytesReceived.IncrCounter(float64(bytesReceived), assistantName, modelName)

	tokensIn, tokensOut, _ := llmutils.CountTokens(resp)
	metricskey.StatsLLMInputTokens.IncrCounter(float64(tokensIn), assistantName, modelName)
	metricskey.StatsLLMOutputTokens.IncrCounter(float64(tokensOut), assistantName, modelName)

	return resp, nil
}

// reprompt asks the model once to re-generate an answer matching the
// output schema. A second parse failure returns the parse error.
func (a *Assistant[O]) reprompt(ctx context.Context, cfg *Config, messageHistory []llms.Message, callOpts []llms.CallOption, badResult string, parseErr error) (*llms.ContentResponse, string, *O, error) {
	instructions := strings.TrimRight(a.OutputParser.GetFormatInstructions(), "\n")
	regen := fmt.Sprintf("The previous response could not be parsed: %s.\nRespond again with only valid JSON matching the schema.", parseErr.Error())
	if instructions != "" {
		regen = fmt.Sprintf("%s\n%s", regen, instructions)
	}

	messageHistory = append(messageHistory,
		llms.MessageFromTextParts(llms.RoleAI, badResult),
		llms.MessageFromTextParts(llms.RoleHuman, regen),
	)

	resp, err := a.generate(ctx, cfg, messageHistory, callOpts)
	if err != nil {
		return nil, "", nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, "", nil, parseErr
	}

	result := joinChoices(resp.Choices)
	finalOutput, perr := a.OutputParser.Parse(result)
	if perr != nil {
		metricskey.StatsAssistantLLMParseErrors.IncrCounter(1, a.Name())
		if cfg.CallbackHandler != nil {
			cfg.CallbackHandler.OnAssistantLLMParseError(ctx, a, badResult, result, perr)
		}
		return nil, "", nil, perr
	}
	return resp, result, finalOutput, nil
}

// collectToolCalls gathers the tool calls from all choices,
// assigning ids and types when the model omitted them.
func collectToolCalls(resp *llms.ContentResponse) []llms.ToolCall {
	var toolCalls []llms.ToolCall
	for _, choice := range resp.Choices {
		for i, toolCall := range choice.ToolCalls {
			if toolCall.FunctionCall == nil {
				continue
			}
			if toolCall.ID == "" {
				toolCall.ID = fmt.Sprintf("%s_%d", toolCall.FunctionCall.Name, i)
			}
			toolCall.Type = values.StringsCoalesce(toolCall.Type, "function")
			toolCalls = append(toolCalls, toolCall)
		}
	}
	return toolCalls
}

// joinChoices combines the content of all choices into one result.
func joinChoices(choices []*llms.ContentChoice) string {
	if len(choices) == 0 {
		return ""
	}
	if len(choices) == 1 {
		return choices[0].Content
	}
	var combined strings.Builder
	for i, choice := range choices {
		if i > 0 {
			combined.WriteString("\n\n")
		}
		combined.WriteString(choice.Content)
	}
	return combined.String()
}
