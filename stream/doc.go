// Package stream provides chunk-safe transcoding of terminal byte streams.
//
// Sandbox output arrives as arbitrarily-split chunks: a multi-byte UTF-8
// character or an ANSI escape sequence may straddle a chunk boundary. The
// Transcoder buffers an unterminated trailing sequence and prepends it to the
// next chunk, so emitted output only ever contains complete units. Malformed
// input is passed through verbatim and counted, never dropped: corrupting a
// live terminal session is worse than forwarding a stray byte.
package stream
