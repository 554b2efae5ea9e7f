// Package logx configures alertd's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Level/outputs hot-swappable on config reload (Service.Apply)
package logx
