package log

import (
	"fmt"

	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/dissector/internal/config"
)

// createFileWriter creates a lumberjack file writer for log rotation.
func createFileWriter(fc config.FileOutputConfig) (*lumberjack.Logger, error) {
	if fc.Path == "" {
		return nil, fmt.Errorf("file output requires 'path' field")
	}
	return NewRotatingWriter(fc.Path, fc.Rotation), nil
}

// NewRotatingWriter returns a size-rotated file writer. The file sink shares it.
func NewRotatingWriter(path string, r config.RotationConfig) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    r.MaxSizeMB,  // megabytes
		MaxBackups: r.MaxBackups, // number of backups
		MaxAge:     r.MaxAgeDays, // days
		Compress:   r.Compress,   // compress the backups
	}
}
