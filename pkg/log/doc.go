// Package log provides the global zerolog-based logger and helpers for
// creating component-scoped child loggers.
package log
