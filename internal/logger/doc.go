// Package logger provides a small wrapper around zap to offer:
//   - a global sugared logger writing console output to stderr,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level configuration and parsing utilities.
//
// Pipeline stages accept a context and extract the logger from it, so the
// run id and target attached at the start of a run appear on every entry.
package logger
