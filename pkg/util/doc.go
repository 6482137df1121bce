// Package util provides common utility functions and data structures
//
// This package includes a generic set implementation and the state
// transition table used to validate node status changes
package util
