// Package http implements the handlers of the local entitlement API.
// It is a thin layer between HTTP transport and the engine: handlers
// parse and validate requests, delegate to services, and map domain
// errors to RFC 7807 problem responses.
//
// A typical request flows through these layers:
//
//	HTTP Request → Chi Router → Middleware → Handler → Service → Store
//	                                              ↓
//	HTTP Response ← Handler ← Service Response ←─┘
//
// All errors follow RFC 7807 Problem Details:
//
//	{
//	    "type": "NOT_ENTITLED",
//	    "title": "Not entitled",
//	    "status": 403,
//	    "detail": "no capability grants save.modify"
//	}
//
// Admin endpoints additionally pass the admin gate; a request without an
// active override or a valid machine-bound token never reaches the
// handler body.
package http
