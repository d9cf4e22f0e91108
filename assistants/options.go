package assistants

import (
	"context"

	"github.com/effective-security/agentloop/encoding"
	"github.com/effective-security/agentloop/pkg/llms"
	"github.com/effective-security/agentloop/pkg/schema"
	"github.com/effective-security/agentloop/store"
)

// Defaults for the orchestration limits.
const (
	// DefaultMaxToolCalls bounds the total number of tool executions in one run.
	DefaultMaxToolCalls = 10
	// DefaultMaxMessages bounds the message history sent to the model.
	DefaultMaxMessages = 100
	// DefaultMaxContentSize bounds the total content bytes sent to the model.
	DefaultMaxContentSize = 1 << 20
	// DefaultMaxNotFound bounds the consecutive unknown-tool requests from the model.
	DefaultMaxNotFound = 3
)

// Option is a function that can be used to modify the behavior of the Assistant Config.
type Option func(*Config)

// Config holds per-assistant and per-call settings.
type Config struct {
	// Model is the model to use in an LLM call.
	Model    string
	modelSet bool

	// MaxTokens is the maximum number of tokens to generate in an LLM call.
	MaxTokens    int
	maxTokensSet bool

	// Temperature is the temperature for sampling in an LLM call, between 0 and 1.
	Temperature    float64
	temperatureSet bool

	// StopWords is a list of words to stop on in an LLM call.
	StopWords    []string
	stopWordsSet bool

	// Seed is a seed for deterministic sampling in an LLM call.
	Seed    int
	seedSet bool

	// ToolChoice is the choice of tool to use: "none", "auto" (the default),
	// or a specific tool.
	ToolChoice    any
	toolChoiceSet bool

	JSONMode bool

	// ResponseFormat is the provider-native structured output format.
	ResponseFormat *schema.ResponseFormat

	// CallbackHandler receives the lifecycle events of the run.
	CallbackHandler Callback

	// StreamingFunc is a function to be called for each chunk of a streaming response.
	// Return an error to stop streaming early.
	StreamingFunc func(ctx context.Context, chunk []byte) error

	// Store persists the conversation history between runs.
	Store store.MessageStore

	// PromptInput provides values for the {{ name }} placeholders
	// in the system prompt.
	PromptInput map[string]any

	// Mode selects the output encoding.
	Mode encoding.Mode

	// MaxToolCalls bounds the total number of tool executions in one run.
	MaxToolCalls int
	// MaxMessages bounds the message history sent to the model.
	MaxMessages int
	// MaxLength bounds the total content bytes sent to the model.
	MaxLength int

	// SkipMessageHistory disables adding the run messages to the Store.
	SkipMessageHistory bool
}

// NewConfig returns a Config with the options applied.
func NewConfig(opts ...Option) *Config {
	cfg := &Config{
		Mode:     encoding.ModeDefault,
		JSONMode: true,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Apply returns a copy of the config with the options applied,
// the receiver is not modified.
func (c *Config) Apply(opts ...Option) *Config {
	cfg := *c
	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithMode is an option that allows to specify the encoding mode.
func WithMode(mode encoding.Mode) Option {
	return func(o *Config) {
		o.Mode = mode
		o.JSONMode = mode == encoding.ModeJSON || mode == encoding.ModeJSONSchema || mode == encoding.ModeJSONSchemaStrict
	}
}

// WithStore sets the message history store.
func WithStore(s store.MessageStore) Option {
	return func(o *Config) {
		o.Store = s
	}
}

// WithSkipMessageHistory is an option that allows to skip adding the run messages to the Store.
func WithSkipMessageHistory(skip bool) Option {
	return func(o *Config) {
		o.SkipMessageHistory = skip
	}
}

// WithPromptInput sets the values for the {{ name }} placeholders
// in the system prompt.
func WithPromptInput(input map[string]any) Option {
	return func(o *Config) {
		o.PromptInput = input
	}
}

// WithJSONMode is an option that allows the user to specify whether to use JSON mode.
func WithJSONMode(jsonMode bool) Option {
	return func(o *Config) {
		o.JSONMode = jsonMode
	}
}

// WithModel is an option for LLM.Call.
func WithModel(model string) Option {
	return func(o *Config) {
		o.Model = model
		o.modelSet = true
	}
}

// WithMaxTokens is an option for LLM.Call.
func WithMaxTokens(maxTokens int) Option {
	return func(o *Config) {
		o.MaxTokens = maxTokens
		o.maxTokensSet = true
	}
}

// WithTemperature is an option for LLM.Call.
func WithTemperature(temperature float64) Option {
	return func(o *Config) {
		o.Temperature = temperature
		o.temperatureSet = true
	}
}

// WithStopWords is an option for setting the stop words for LLM.Call.
func WithStopWords(stopWords []string) Option {
	return func(o *Config) {
		o.StopWords = stopWords
		o.stopWordsSet = true
	}
}

// WithSeed will add an option to use deterministic sampling for LLM.Call.
func WithSeed(seed int) Option {
	return func(o *Config) {
		o.Seed = seed
		o.seedSet = true
	}
}

// WithToolChoice is an option for LLM.Call.
func WithToolChoice(choice any) Option {
	return func(o *Config) {
		o.ToolChoice = choice
		o.toolChoiceSet = true
	}
}

// WithStreamingFunc is an option that allows streaming responses.
func WithStreamingFunc(streamingFunc func(ctx context.Context, chunk []byte) error) Option {
	return func(o *Config) {
		o.StreamingFunc = streamingFunc
	}
}

// WithCallback allows setting a custom Callback Handler.
func WithCallback(callbackHandler Callback) Option {
	return func(o *Config) {
		o.CallbackHandler = callbackHandler
	}
}

// WithMaxToolCalls bounds the total number of tool executions in one run.
func WithMaxToolCalls(limit int) Option {
	return func(o *Config) {
		o.MaxToolCalls = limit
	}
}

// WithMaxMessages bounds the message history sent to the model.
func WithMaxMessages(limit int) Option {
	return func(o *Config) {
		o.MaxMessages = limit
	}
}

// WithMaxLength bounds the total content bytes sent to the model.
func WithMaxLength(limit int) Option {
	return func(o *Config) {
		o.MaxLength = limit
	}
}

// GetCallOptions converts the config to the LLM call options.
func (c *Config) GetCallOptions(toolDefs []llms.Tool) []llms.CallOption {
	var callOptions []llms.CallOption
	if c.modelSet {
		callOptions = append(callOptions, llms.WithModel(c.Model))
	}
	if c.maxTokensSet {
		callOptions = append(callOptions, llms.WithMaxTokens(c.MaxTokens))
	}
	if c.temperatureSet {
		callOptions = append(callOptions, llms.WithTemperature(c.Temperature))
	}
	if c.stopWordsSet {
		callOptions = append(callOptions, llms.WithStopWords(c.StopWords))
	}
	if c.seedSet {
		callOptions = append(callOptions, llms.WithSeed(c.Seed))
	}
	if len(toolDefs) > 0 {
		callOptions = append(callOptions, llms.WithTools(toolDefs))
	}
	if c.toolChoiceSet {
		callOptions = append(callOptions, llms.WithToolChoice(c.ToolChoice))
	}
	if c.ResponseFormat != nil {
		callOptions = append(callOptions, llms.WithResponseFormat(c.ResponseFormat))
	} else if c.JSONMode {
		callOptions = append(callOptions, llms.WithJSONMode())
	}
	if c.StreamingFunc != nil {
		callOptions = append(callOptions, llms.WithStreamingFunc(c.StreamingFunc))
	}
	return callOptions
}
