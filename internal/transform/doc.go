// Package transform implements the ordered transformation pipeline applied to
// staged working trees, together with the builtin replace, move, remove,
// append_line, and noop steps.
package transform
