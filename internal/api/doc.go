// Package api exposes the transfer service over HTTP: transfer submission,
// intent submission, journal queries, the chain table, health and metrics.
package api
