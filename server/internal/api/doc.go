// Package api implements the read-only inspection API of the simulator.
//
// New(deps) returns an http.Handler that serves:
//
//	GET  /api/v1/health             connection, catalog and store counts
//	GET  /api/v1/plugins            catalog with live status and launch hints
//	GET  /api/v1/connections        every open socket and what it registered as
//	GET  /api/v1/keys               active key assignments
//	GET  /api/v1/params             every stored param
//	GET  /api/v1/params/{context}   one param; 400 if malformed, 404 if absent
//	POST /api/v1/refresh            reload the plugin catalog
//
// All responses are JSON, including 404 and 405 errors. Routing uses
// gorilla/mux.
package api
