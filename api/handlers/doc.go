// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers provides the shared JSON-response envelope and request
validation helpers used by internal/gatewayapi's chat, embeddings, audio,
and model-listing routes.

# 核心类型

  - Response   — 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo  — 结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter — 包装 http.ResponseWriter 以捕获状态码

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON 辅助函数
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码自动映射（4xx/5xx）
*/
package handlers
