package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/agentloop/chatmodel"
	"github.com/effective-security/agentloop/pkg/llms"
	"github.com/effective-security/agentloop/pkg/metricskey"
	"github.com/effective-security/xlog"
)

// Result is the outcome of executing one tool call.
// A failed execution still produces a Result: Err holds the failure and
// Content carries a message the model can read and react to.
type Result struct {
	CallID  string
	Name    string
	Content string
	Err     error
}

// IsError reports whether the execution failed.
func (r *Result) IsError() bool {
	return r.Err != nil
}

// ToolResponse returns the result as a tool-role response part.
func (r *Result) ToolResponse() llms.ToolCallResponse {
	return llms.ToolCallResponse{
		ToolCallID: r.CallID,
		Name:       r.Name,
		Content:    r.Content,
	}
}

// Execute runs one tool call and normalizes every outcome into a Result.
// Unknown tools, invalid arguments, callback errors and panics are all
// converted into error-typed Results, never propagated to the caller.
func (r *Registry) Execute(ctx context.Context, call llms.ToolCall) *Result {
	name := call.FunctionCall.Name
	args := call.FunctionCall.Arguments

	res := &Result{
		CallID: call.ID,
		Name:   name,
	}

	tool, ok := r.Lookup(name)
	if !ok {
		metricskey.StatsToolCallsNotFound.IncrCounter(1, name)
		available := strings.Join(r.names, ", ")
		logger.ContextKV(ctx, xlog.WARNING,
			"status", "tool_not_found",
			"tool", name,
			"available_tools", available,
		)
		res.Err = errors.WithMessagef(ErrToolNotFound, "tool %s", name)
		res.Content = fmt.Sprintf("Tool `%s` not found. Please check the tool name and try again with exact match. Available tools: %s", name, available)
		return res
	}

	if v := r.validators[strings.ToLower(name)]; v != nil {
		if err := v.ValidateJSON([]byte(args)); err != nil {
			metricskey.StatsToolCallsFailed.IncrCounter(1, name)
			r.notifyError(ctx, tool, args, err)
			res.Err = err
			res.Content = fmt.Sprintf("Invalid arguments for tool `%s`: %s. Check the JSON schema and try again.", name, err.Error())
			return res
		}
	}

	r.notifyStart(ctx, tool, args)

	started := time.Now()
	content, err := r.callTool(ctx, tool, args)
	metricskey.PerfToolCall.MeasureSince(started, name)

	if err != nil {
		metricskey.StatsToolCallsFailed.IncrCounter(1, name)
		r.notifyError(ctx, tool, args, err)
		logger.ContextKV(ctx, xlog.WARNING,
			"status", "tool_call_failed",
			"tool", name,
			"err", err.Error(),
		)

		res.Err = err
		if errors.Is(err, chatmodel.ErrFailedUnmarshalInput) {
			res.Content = fmt.Sprintf("Tool `%s` failed to unmarshal input, check the JSON schema and try again.", name)
		} else {
			res.Content = fmt.Sprintf("Tool call failed: %s", err.Error())
		}
		return res
	}

	metricskey.StatsToolCallsSucceeded.IncrCounter(1, name)
	r.notifyEnd(ctx, tool, args, content)

	res.Content = content
	return res
}

// callTool invokes the tool, converting a panic into an error.
func (r *Registry) callTool(ctx context.Context, tool ITool, args string) (content string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Newf("tool panic: %v", p)
		}
	}()
	return tool.Call(ctx, args)
}

// ExecuteCalls runs the calls concurrently and returns the results
// in the original call order.
func (r *Registry) ExecuteCalls(ctx context.Context, calls []llms.ToolCall) []*Result {
	if len(calls) == 0 {
		return nil
	}

	results := make([]*Result, len(calls))

	var wg sync.WaitGroup
	wg.Add(len(calls))
	for i, call := range calls {
		go func(index int, tc llms.ToolCall) {
			defer wg.Done()
			results[index] = r.Execute(ctx, tc)
		}(i, call)
	}
	wg.Wait()

	return results
}

// Callback notifications are best-effort: panics are swallowed so a
// misbehaving observer cannot affect the tool result.
func (r *Registry) notifyStart(ctx context.Context, tool ITool, input string) {
	if r.callback == nil {
		return
	}
	defer func() { _ = recover() }()
	r.callback.OnToolStart(ctx, tool, input)
}

func (r *Registry) notifyEnd(ctx context.Context, tool ITool, input, output string) {
	if r.callback == nil {
		return
	}
	defer func() { _ = recover() }()
	r.callback.OnToolEnd(ctx, tool, input, output)
}

func (r *Registry) notifyError(ctx context.Context, tool ITool, input string, err error) {
	if r.callback == nil {
		return
	}
	defer func() { _ = recover() }()
	r.callback.OnToolError(ctx, tool, input, err)
}
