// Package logx configures embygram's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional Telegram mirror sink (min-level + rate limiting) so delivery
//     failures surface in the operator chat
package logx
