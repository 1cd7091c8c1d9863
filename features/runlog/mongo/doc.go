// Package mongo provides MongoDB-backed storage for analysis run logs.
//
// Use clients/mongo to build the low-level client and pass it to NewStore to
// obtain a runlog.Store. Wrapping the store in runlog.NewSink records every
// event the controller mirrors, so a run can later be replayed in order.
package mongo
