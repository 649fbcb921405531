// Package logx configures the notifier's structured logging.
//
// Logger is a small value type on top of zerolog:
//   - Console output is human readable (short timestamp + file:line caller)
//   - File output is JSON, one event per line
//   - An optional chat sink forwards warnings and errors to an operator chat
package logx
