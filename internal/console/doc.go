// Package console provides the sinks that present engine progress and
// validation messages to people, plus a bridge that turns shell command
// events into readable console lines.
package console
