// Package api is the REST client for the auction backend.
//
// Endpoints used (relative to the configured base URL):
//
//	GET    /api/auctions/{id}
//	GET    /api/auctions/{id}/bids?page=N&size=M
//	POST   /api/auctions/{id}/bids
//	DELETE /api/auctions/{id}/bids/{bidId}
//	POST   /api/auctions/{id}/end
//	DELETE /api/auctions/{id}
//
// Only GETs are retried. Mutations return the first failure as an
// *APIError whose Category maps to a user-facing message.
package api
