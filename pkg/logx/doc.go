// Package logx configures sebastian's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller), or JSON when asked
//   - File output JSON-structured
//   - Levels and sinks swappable at runtime through Service.Apply
package logx
