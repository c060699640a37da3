// Package arbiter selects the single winning upper flag and hands the result
// to the control client.
//
// The Controller is the only holder of the control Client and the only caller
// of decide. The flag store calls OnFlagChanged with its write lock held; the
// controller snapshots the active upper flags, decides, and queues the decision.
// A separate loop (Run) delivers queued decisions to the client in order,
// outside the store's critical section.
package arbiter
