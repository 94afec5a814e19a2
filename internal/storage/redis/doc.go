// Package redis wires the transfer service to Redis: a shared client
// constructor and a SET NX PX based submission lock used when several service
// instances share one signing account.
package redis
