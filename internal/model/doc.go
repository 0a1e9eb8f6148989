// Package model defines the auction data types shared across the live sync core.
//
// Conventions:
//   - Prices: positive int64 in the currency's minor unit (0 is the "no active bids" sentinel)
//   - Timestamps: time.Time, zero value when the server omitted one
//   - IDs: opaque strings as issued by the backend
package model
