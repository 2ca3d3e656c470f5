// Package csrf implements the double-submit cookie check applied to every
// state-changing HTTP operation.
//
// The token cookie is readable by client script (not httpOnly) and is echoed
// back in the x-csrf-token header. A request is valid only when both values are
// present and equal under constant-time comparison.
package csrf
