// Package flag contains the core domain types for flag arbitration.
//
// It defines Flag (a named upper/lower state variable), Action (opaque display
// metadata attached to a flag), WinnerView and Decision (the outcome handed to
// the control client) with Clone helpers to avoid leaking internal references.
package flag
