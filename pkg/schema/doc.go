// Package schema defines the wire contracts of the gateway: the typed
// command variants clients submit, the result payloads the gateway
// returns, the error taxonomy, and the frame codec that binds them to
// JSON. Every frame on the transport is one UTF-8 JSON object; requests
// are decoded into a typed Command, replies are built from a typed
// result embedded in a common response envelope.
package schema
