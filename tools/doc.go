// Package tools defines the Tool interface for LLM agents, the registry that
// holds them, and the executor that runs tool calls with validation, lifecycle
// callbacks, and error normalization. Tools enable agents to interact with
// external systems and APIs in a structured, extensible way.
package tools
