// Package flagstore owns the current flag records.
//
// Store is the single writer: every state transition, priority edit and
// registration happens under its lock and is followed, still under the lock,
// by a call to the Listener with a consistent view of the active upper flags.
// A flag's timestamp only moves forward; it is never compared with other
// flags while stamping. Changes are persisted through a flags.Repository.
package flagstore
