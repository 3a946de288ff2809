// Package logger provides structured logging capabilities.
//
// The logger package sets up the engine's logging using zap. Every
// component receives its logger through its constructor; nothing logs
// through a global.
package logger
