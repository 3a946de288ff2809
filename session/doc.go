// Package session manages long-lived interactive terminal sessions.
//
// Each session owns one PTY-backed sandbox. Keystrokes flow through the
// input pipeline into the PTY; PTY output flows through a per-session
// transcoder and is forwarded as ordered events on a bounded channel,
// preserving the ANSI sequences REPL prompts depend on. Sessions end by
// explicit stop, idle timeout, or sandbox crash; the owning sandbox is
// removed on every path.
package session
