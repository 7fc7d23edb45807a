// Package gateway is the HTTP boundary of the dispatcher.
//
// One inbound call maps to POST /{module}/{operation}. The passthrough
// policy decides per path whether the call invokes the module operation
// directly or is forced through the rule engine. Engine-routed calls
// allocate a correlation id (the flow token), journal a gateway.request
// fact carrying the path and body fields, and block until a rule chain
// invokes gateway.respond with that id - or until nothing does, which
// surfaces as a timeout error and means the request shape matched no
// rule variant.
//
// The gateway is itself a registered module: request and respond are
// ordinary mutators, so rules bind the correlation id from the request
// fact's output and thread it to respond like any other value. The
// engine never treats responses specially; exactly-one-respond is the
// rule author's invariant, enforced by the static variant analysis and
// merely observed here (duplicates are logged and dropped at the
// boundary).
package gateway
