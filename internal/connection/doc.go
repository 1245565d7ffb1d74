// Package connection owns every live client stream: assigning a
// connection id on open, routing inbound frames to the dispatcher,
// and delivering outbound pushes with bounded backpressure and
// client-detection probing. It implements subscription.Pusher so the
// subscription engine can deliver batched change events without
// knowing anything about the transport.
package connection
