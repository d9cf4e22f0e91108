// Package assistants implements the conversation orchestrator: a bounded
// tool-calling loop over an LLM model, with typed structured outputs,
// message history stores and lifecycle callbacks.
package assistants
