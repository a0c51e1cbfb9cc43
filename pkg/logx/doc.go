// Package logx configures remindbot's structured logging.
//
// Logger is a small value-type wrapper over zerolog:
//   - Console output stays readable (short timestamp + short caller)
//   - File output is JSON lines
//   - An optional chat sink forwards warnings to an operator chat (min-level + rate limited)
package logx
