// Package log wraps zerolog with a global logger and per-component
// child loggers used across Drover.
package log
