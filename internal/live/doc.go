// Package live wires the push connection, event dispatchers and
// reconciliation engines into per-auction watch sessions.
//
// A Watcher owns one Session per watched auction. Sessions are resynced
// over REST after every reconnect (pushes sent during the outage are lost)
// and on a periodic schedule, which also marks auctions whose end time
// has passed.
package live
