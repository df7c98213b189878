/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package log

import (
	"fmt"

	"github.com/ssgreg/logf"

	"github.com/acronis/go-apigate/config"
)

// Level defines log level.
type Level string

// Supported log levels.
const (
	LevelError Level = "error"
	LevelWarn  Level = "warn"
	LevelInfo  Level = "info"
	LevelDebug Level = "debug"
)

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	switch Level(text) {
	case LevelError, LevelWarn, LevelInfo, LevelDebug:
		*l = Level(text)
		return nil
	}
	return fmt.Errorf("unknown log level %q", string(text))
}

func (l Level) toLogfLevel() logf.Level {
	switch l {
	case LevelError:
		return logf.LevelError
	case LevelWarn:
		return logf.LevelWarn
	case LevelDebug:
		return logf.LevelDebug
	}
	return logf.LevelInfo
}

// Format defines log encoding format.
type Format string

// Supported log formats.
const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Format) UnmarshalText(text []byte) error {
	switch Format(text) {
	case FormatJSON, FormatText:
		*f = Format(text)
		return nil
	}
	return fmt.Errorf("unknown log format %q", string(text))
}

// Output defines where log entries are written.
type Output string

// Supported log outputs.
const (
	OutputStdout Output = "stdout"
	OutputStderr Output = "stderr"
	OutputFile   Output = "file"
)

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Output) UnmarshalText(text []byte) error {
	switch Output(text) {
	case OutputStdout, OutputStderr, OutputFile:
		*o = Output(text)
		return nil
	}
	return fmt.Errorf("unknown log output %q", string(text))
}

// FileRotationConfig contains rotation parameters for the file output.
type FileRotationConfig struct {
	MaxSize    config.ByteSize `mapstructure:"maxSize" yaml:"maxSize" json:"maxSize"`
	MaxBackups int             `mapstructure:"maxBackups" yaml:"maxBackups" json:"maxBackups"`
	Compress   bool            `mapstructure:"compress" yaml:"compress" json:"compress"`
}

// FileOutputConfig contains parameters for the file output.
type FileOutputConfig struct {
	Path     string             `mapstructure:"path" yaml:"path" json:"path"`
	Rotation FileRotationConfig `mapstructure:"rotation" yaml:"rotation" json:"rotation"`
}

// Config represents a set of configuration parameters for logging.
type Config struct {
	Level   Level            `mapstructure:"level" yaml:"level" json:"level"`
	Format  Format           `mapstructure:"format" yaml:"format" json:"format"`
	Output  Output           `mapstructure:"output" yaml:"output" json:"output"`
	NoColor bool             `mapstructure:"nocolor" yaml:"nocolor" json:"nocolor"`
	File    FileOutputConfig `mapstructure:"file" yaml:"file" json:"file"`
}

// NewDefaultConfig creates a new Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: FormatJSON,
		Output: OutputStdout,
		File: FileOutputConfig{
			Rotation: FileRotationConfig{
				MaxSize:    config.ByteSize(250 * 1024 * 1024),
				MaxBackups: 10,
			},
		},
	}
}
