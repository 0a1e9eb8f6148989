// Package auction implements the Bid Reconciliation Engine.
//
// An Engine holds the bid ledger and summary for one auction. The current
// price is derived from the ledger after every mutation: the highest price
// among non-canceled bids, or 0 when there are none. Push events adjust the
// view immediately and trigger a full ledger refetch; whichever refetch
// completes last wins.
package auction
