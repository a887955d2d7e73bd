// Package logx configures bigben's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional chat sink: WARN+ records forwarded to an operator chat (min-level + rate limiting)
package logx
