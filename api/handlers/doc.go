// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 AgentFlow Gateway HTTP API 的请求处理器实现。

# 概述

handlers 包实现了网关所有 HTTP 端点的请求处理逻辑，包括请求问答、
流式响应、Provider 状态、缓存管理、讨论编排、成本统计以及健康检查。
所有 Handler 均遵循标准 net/http 接口。

# 核心类型

  - AskHandler        — 提交问题、查看回复
  - StreamHandler      — 流式问答、尾部追踪、思维内容检索
  - StatusHandler      — 队列/Provider/健康状态查询与启停
  - CacheHandler       — 缓存统计、详情、清理
  - DiscussionHandler  — 多轮多 Provider 讨论的发起、续轮、查询
  - CostHandler        — 按 Provider / 按天的成本汇总
  - HealthHandler      — 服务健康检查（/health, /healthz, /ready）
  - Response           — 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo          — 结构化错误信息，含 code、message、retryable 标记
  - HealthCheck        — 可插拔健康检查接口（Database、Redis 等）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON 辅助函数
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码自动映射（4xx/5xx）
  - SSE 流式输出：StreamHandler 支持 text/event-stream
  - 可扩展健康检查：RegisterCheck 注册自定义 HealthCheck 实现
*/
package handlers
