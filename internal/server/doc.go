// Package server is a simulated flow-execution backend. It accepts session
// connections, answers flow runs with scripted event streams, and is used to
// exercise the client end to end without a real engine
package server
