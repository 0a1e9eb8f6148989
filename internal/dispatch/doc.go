// Package dispatch implements the Event Dispatcher component.
//
// A Dispatcher turns raw topic payloads for one auction into typed model
// events and forwards them to a Sink (normally an auction.Engine). Payloads
// that do not parse, or lack a required field, are logged and dropped
// without touching the sink.
//
// Price fields are not uniform on the wire. ExtractFinalPrice and
// extractBidPrice each try one ordered list of field paths; see
// finalPriceFields for the accepted names.
package dispatch
