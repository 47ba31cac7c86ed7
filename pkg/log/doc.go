// Package log provides a structured trace of every operation performed on
// the kmod_fcntl device.
//
// This package defines the Logger interface and Event types. It is separate
// from operational logging (slog): the trace is a complete machine-readable
// record of opens, control commands, mode changes, reads and closes, written
// as a STARTED/FINISHED pair per operation so that a read which never
// returns can be spotted after the fact.
//
// # Basic Usage
//
//	// Console while developing
//	opts = append(opts, chardev.WithTrace(log.NewSlogAdapter(slog.Default())))
//
//	// Binary file for later inspection with kmod-log
//	fl, _ := log.NewFileLogger("/tmp/kmod_fcntl.klog")
//	opts = append(opts, chardev.WithTrace(fl))
//
//	// Both
//	opts = append(opts, chardev.WithTrace(log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()), fl,
//	)))
//
// # File Format
//
// Trace files are a concatenation of CBOR-encoded events with integer keys
// (.klog extension). The kmod-log CLI provides viewing, filtering, statistics
// and export.
package log
