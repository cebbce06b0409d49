// Package ui renders terminal output for the exporter CLI with [lipgloss] styles.
//
// Output is plain text with optional color:
//  1. [TaskTable] : the registered tasks, one row per descriptor
//  2. [ProgressLine] : a single progress event from a running export
//  3. [Summary] : produced and failed counts plus upload targets of finished exports
//
// Progress events are consumed from the channel handed to the pipeline, so rendering never blocks an export.
package ui
