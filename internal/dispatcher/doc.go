// Package dispatcher routes inbound connection frames to typed
// handlers through an ordered pipeline: route lookup, per
// (connection, request type) rate limiting, an authentication check
// for handlers that require it, handler invocation, and
// error-to-wire-code mapping. A handler's Resource/Action descriptor
// is not checked against any permission model. It implements
// connection.Dispatcher.
package dispatcher
