// Package logging provides structured JSON logging for hookline.
//
// It wraps log/slog and tags lines with the queue, workflow, gate, or agent
// they concern so a single hookline.log can be sliced per entity afterwards.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger(".hookline", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.WithQueue("hook_build").Info("item claimed", "item_id", id)
//
// # Rotation
//
// NewLoggerWithRotation writes through a [RotatingWriter]. Rotated files are
// named hookline.log.1 (newest) through hookline.log.N and are gzipped when
// RotationConfig.Compress is set.
//
// # Reading Logs Back
//
//	entries, _ := logging.ReadLogs(".hookline")
//	entries = logging.FilterLogs(entries, logging.LogFilter{WorkflowID: "mol_x", Level: "WARN"})
//	_ = logging.WriteLogs(os.Stdout, entries, "text")
//
// Components accept a nil *Logger and substitute [NopLogger] via [OrNop].
package logging
