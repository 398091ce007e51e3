// Package trigger computes fire times for scheduled jobs.
//
// It is pure computation: given a trigger spec and the last fire time it
// returns the next fire time, or ErrExhausted when no further fire exists.
// Calendar expressions are evaluated through the Evaluator capability; the
// default implementation is backed by robfig/cron.
package trigger
