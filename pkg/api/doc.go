// Package api defines the wire protocol and shared data types of a flow test
// session
//
// This package contains the inbound server message union, the outbound
// command set, transcript entries, node and connection status values, the
// read-only session projection, and the error taxonomy shared by the
// connection manager and the session controller
package api
