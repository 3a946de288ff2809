// Package runner executes one-shot batch requests in single-use sandboxes.
//
// A run validates input through the pipeline, provisions a hardened sandbox,
// injects the source file by archive transfer, executes the profile's
// compile/run commands as one unit, demultiplexes the combined output stream,
// and enforces the wall-clock timeout. The sandbox is removed on every exit
// path; a failed run never leaves one behind.
package runner
