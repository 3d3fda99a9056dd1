// Package api is tokenrelay's admin HTTP interface.
//
// It registers resource servers, reports token status without exposing
// token material, clears tokens, streams notifications as server-sent
// events and serves health and Prometheus metrics:
//
//	POST   /v1/resources                     register {resource_server, token_endpoint, client_id}
//	GET    /v1/resources                     list registrations with token status
//	DELETE /v1/resources?resource_server=URL clear tokens and registrations
//	DELETE /v1/tokens?resource_server=URL    clear tokens only
//	GET    /v1/events                        notification stream (text/event-stream)
//	GET    /healthz
//	GET    /metrics
package api
