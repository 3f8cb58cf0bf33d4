// Package logging provides structured logging for scoped built on Zap.
//
// Loggers are context-aware: correlation fields (session id, stage, request
// id, trace/span ids) attached to a context.Context are appended to every
// entry automatically. Components receive a *Logger and derive named child
// loggers with Named/With.
package logging
