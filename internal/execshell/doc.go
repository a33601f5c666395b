// Package execshell runs external tools such as git.
//
// ShellExecutor wraps a CommandRunner with structured logging and lifecycle
// events, OSCommandRunner executes processes through os/exec, and
// CommandMessageFormatter turns command events into readable sentences.
package execshell
