// Package link is a headless plugin client for the simulator.
//
// Link dials the simulator WebSocket, sends a connected message for the
// configured identity (a main service, or an action instance when key and
// action id are set) and then reads until the socket fails. Every inbound
// message is handed to an observer as an Event; acknowledgements are marked
// with Ack. With answer_run enabled each run is answered with a state update
// that flips the pressed key between its first two states.
//
// Run reconnects with truncated exponential backoff (backoff_initial up to
// backoff_max, ±25% jitter), resetting after every successful dial.
package link
