// Package backendtest provides in-memory Origin and Destination fakes that
// record every call for assertions.
package backendtest
