// Package mongo provides a MongoDB-backed session.Store for the analysis
// controller. Build the low-level client via features/session/mongo/clients/mongo
// and pass it to NewStore; the store then records every session and analysis
// run the controller issues.
package mongo
