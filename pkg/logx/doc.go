// Package logx is taskd's structured logger: a small value-type wrapper over
// zerolog with short callers on the console, JSON in files and level changes
// that apply to already-derived loggers.
package logx
