// Package sandbox provisions isolated execution environments on a
// container runtime.
//
// Every sandbox is created with the same hardening profile: no network,
// a non-root identity, all capabilities dropped, no-new-privileges, a
// read-only root filesystem with a small tmpfs scratch area, and
// memory/CPU/process ceilings taken from the language profile. The Runtime
// interface exposes the five control-plane primitives the engine depends on
// (create, inject, start with attached I/O, kill, remove) plus resize and
// wait, so the batch runner and the session manager can be tested against a
// fake without a container daemon.
package sandbox
