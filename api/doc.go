// Package api defines the wire types of the inference gateway HTTP API.
//
// # API Overview
//
// The gateway exposes one streaming chat route in front of an
// OpenAI-compatible upstream:
//   - POST /v1/chat/completions returns text/event-stream
//   - GET /v1/chat/ws carries the same events over a WebSocket
//   - GET /v1/sessions/{request_id} returns a recorded session report
//   - GET /healthz, /ready, /version and /upstream-health for operations
//
// # Event Stream
//
// Every request produces events in this order:
//
//	summary.prompt        (or error with stage prompt_summary)
//	summary.reasoning     (preceded by error with stage reasoning_summary on failure)
//	output.delta          zero or more
//	error                 optional, stage upstream_stream
//	output.done           always last
//
// Each SSE frame is rendered as:
//
//	event: output.delta
//	data: {"text":"...","request_id":"..."}
//
// # Authentication
//
// When API keys are configured, requests must carry the X-API-Key header.
// When JWT is configured, requests must carry a Bearer token instead.
package api
