// Package pipeline validates and transforms untrusted input before it may
// reach a sandbox.
//
// Validation is a best-effort secondary defense: the isolation boundary, not
// pattern matching, is the primary security control. The pipeline enforces
// the size ceiling, scans for obviously destructive constructs in the target
// shell dialect, and applies per-language handler hooks (preprocessing and
// multiline statement detection). Handlers register and unregister at
// runtime by language name.
package pipeline
