// Package logx provides a small structured logging facade over zerolog.
//
// Components receive a Logger tagged via With(); the Service owns the
// sinks (console, file) and can swap level/outputs at runtime with Apply().
package logx
