package logger

import (
	"io"
	"log/slog"
)

// Format selects the record encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

type config struct {
	level  slog.Level
	output io.Writer
	format Format
}

// Option configures a logger created by New.
type Option func(*config)

func WithLevel(level slog.Level) Option {
	return func(c *config) {
		c.level = level
	}
}

// WithOutput sets the destination. Pass an io.MultiWriter to log to several sinks.
func WithOutput(w io.Writer) Option {
	return func(c *config) {
		c.output = w
	}
}

func WithFormat(format Format) Option {
	return func(c *config) {
		c.format = format
	}
}
