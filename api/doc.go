// Package api provides OpenAPI/Swagger documentation for the AgentFlow
// Gateway API.
//
// This package contains the OpenAPI 3.0 specification and related
// documentation for the gateway's HTTP API.
//
// # API Overview
//
// The gateway exposes a RESTful API for:
//   - Asking a question across one or more routed providers, with
//     aggregation, caching, and streaming
//   - Provider status, enable/disable, and queue introspection
//   - Cache inspection and invalidation
//   - Multi-round discussion orchestration between providers
//   - Cost accounting by provider and by day
//   - Health and readiness monitoring and Prometheus metrics
//
// # Authentication
//
// Every endpoint except /health, /healthz, /ready, /readyz, /version and
// /metrics passes two checks in turn, and both must succeed: an X-API-Key
// header matching one of server.api_keys (or an api_key query parameter
// when allow_query_api_key is set), and a bearer JWT:
//
//	X-API-Key: your-api-key
//	Authorization: Bearer <token>
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
//
// # OpenAPI Specification
//
// No generated OpenAPI specification file and no Makefile ship with this
// repository. The health endpoints in api/handlers carry swag annotations;
// a specification can be generated with swag:
//
//	swag init -g cmd/gateway/main.go -o api --parseDependency --parseInternal
package api
