// Package backend defines the Origin and Destination capabilities the
// migration engine drives, plus the factory registry that turns workflow
// file declarations into concrete backends.
//
// Concrete implementations live in subpackages: gitbackend talks to git
// through execshell, folder copies plain directories, and backendtest
// provides recording fakes.
package backend
