// Package ws implements the routing hub between the virtual deck and plugin
// connections.
//
// Every socket is served by Hub.ServeHTTP. A request path ending in
// "deckClient" is the virtual deck; any other socket is a plugin whose role
// is learned from its first connected message: a four-segment uuid is a main
// service, a longer one an action instance addressed by its context
// (uuid___key___actionid).
//
// Hub.Run is the only goroutine that touches the registry, the session store
// and the simulator settings on behalf of the protocol. Socket goroutines
// decode nothing; they post raw frames as events.
//
// Routing summary:
//
//	plugin connected        register; main: push connectedMain to the deck;
//	                        action: add+paramfromapp, or paramfromapp on resume
//	plugin state            deck (verbatim) + ack to sender
//	plugin paramfromplugin  store, ack, forward to the other side
//	plugin openurl          deck (verbatim)
//	deck add/run            main service, with the stored param
//	deck setactive/clear    main service (verbatim)
//	deck refreshList        catalog refresh
//	deck activeKeys         replace key assignments
//	deck config             merge settings; language change reloads the catalog
//
// Messages already carrying "code" are acknowledgements echoed back by
// plugins and are ignored. Messages without a live target are dropped.
package ws
