// Package scheduler runs events at absolute points in time.
//
// Any part of the bot can say "run event E at time T" and the scheduler
// guarantees E fires at or after T, even when the process restarts in between,
// as long as the entry reached a durable Backend.
//
// The service owns a single wait loop:
//   - fetch the earliest pending Entry from the Backend (block on a data signal when empty)
//   - sleep until it is due, in chunks of at most Config.MaxSleep
//   - dispatch it to the registered callbacks, then delete it from the Backend
//
// Entries due within Config.ShortTask of their creation never touch the Backend;
// a detached timer dispatches them directly.
//
// Inserting an entry that is due before the one the loop is sleeping on wakes the
// loop, so ordering by due time holds across concurrent producers.
package scheduler
