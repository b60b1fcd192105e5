// Copyright 2024 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package llm provides the Provider interface and chat schema types that
llm/tools and agent/protocol/mcp build on for native tool-call execution
and MCP tool dispatch. Routing, failover, and credential rotation are
internal/router, internal/rotation and internal/credential's job, not
this package's; llm only supplies the shared vocabulary (ChatRequest,
ChatResponse, StreamChunk, ToolSchema) those two packages' tool-oriented
code is written against.

# Provider Interface

	type Provider interface {
	    Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	    Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)
	    HealthCheck(ctx context.Context) (*HealthStatus, error)
	    Name() string
	    SupportsNativeFunctionCalling() bool
	    ListModels(ctx context.Context) ([]Model, error)
	}

# Error Handling

The package re-exports types.ErrorCode's constants for callers that
predate the types package split:

	const (
	    ErrInvalidRequest      ErrorCode = "INVALID_REQUEST"
	    ErrAuthentication      ErrorCode = "AUTHENTICATION"
	    ErrRateLimit           ErrorCode = "RATE_LIMIT"
	    ErrContextTooLong      ErrorCode = "CONTEXT_TOO_LONG"
	    ErrServiceUnavailable  ErrorCode = "SERVICE_UNAVAILABLE"
	)

Use IsRetryable to check if an error can be retried:

	if llm.IsRetryable(err) {
	    // Implement retry logic
	}
*/
package llm
