// Package server wires coven-dm together and runs it.
//
// New opens the SQLite store and builds, in order: the conversation service,
// the idempotency cache, optional Prometheus metrics and the HTTP mux. Run
// listens on server.http_addr, or on a tsnet node when tailscale.enabled is
// set, and blocks until its context is canceled.
//
// Routes:
//
//	GET /health          liveness, always 200
//	GET /health/ready    200 when the database answers a ping, else 503
//	GET <metrics.path>   Prometheus exposition when metrics.enabled
//	/api/...             see package api
package server
