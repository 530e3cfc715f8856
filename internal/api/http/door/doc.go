// Package door implements the HTTP ingress of the door monitor on gin.
//
// Routes:
//
//	POST /api/door/state?state=open|closed
//	GET  /api/instances/:id
//	POST /api/instances/:id/terminate?reason=...
//	GET  /health
//	GET  /metrics
package door
