// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types holds the data model shared across the gateway: requests,
responses, cache entries, stream entries, provider health, discussion
sessions, and the structured error taxonomy. It has zero dependencies on
any other internal package so every other package can import it without
risking a cycle.
*/
package types
