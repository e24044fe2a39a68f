// Package registry tracks which connection currently speaks for each main
// service, each action instance and the virtual deck.
package registry
