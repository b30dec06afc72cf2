// Package logx is syndicate's structured logging on top of zerolog.
//
// Components hold a Logger and add their own fixed fields with With. The
// process-wide Service owns the sinks (console, JSON stdout, append-only
// file) and Apply swaps them on config reload without handing out new
// loggers.
package logx
