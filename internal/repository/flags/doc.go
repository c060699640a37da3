// Package flags implements persistence for flag records.
//
// Two backends satisfy the Repository interface the flag store depends on:
// FileRepository keeps a single JSON document (protojson over structpb) and
// SQLiteRepository keeps one row per flag. Both always record priority
// (explicit null when automatic), state, tier and the last state change time.
package flags
