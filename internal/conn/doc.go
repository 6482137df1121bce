// Package conn owns the duplex websocket transport of a flow test session
//
// A Manager acquires a bearer token, dials the session endpoint, keeps the
// link alive with ping/pong, retries abnormal closures a bounded number of
// times, serializes writes, and hands every decoded inbound frame to a single
// registered Handler in arrival order. It knows nothing of message semantics
package conn
