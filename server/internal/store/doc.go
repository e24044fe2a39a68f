// Package store holds the simulator's session state in memory: the last
// configuration payload relayed for each action context and the current key
// assignment map. State lives for the lifetime of the process.
package store
