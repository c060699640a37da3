// Package watcher polls the arbiter for its current decision and prints
// every change of winner. It backs "flagctl watch".
package watcher
