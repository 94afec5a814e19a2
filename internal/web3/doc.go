// Package web3 houses blockchain connectivity for the transfer service: the
// go-ethereum client that reads balances and submits token, native and bridge
// transactions on one chain, and the provider registry that exposes one such
// client per configured chain to the transfer orchestrator.
package web3
