// Package logx is recurrent's structured logging on top of zerolog.
//
// A Service owns the outputs (console, JSON file, and an optional sink for
// an embedding application) and can be reconfigured on config reload.
// Loggers derived from it pick up the change without being recreated.
package logx
