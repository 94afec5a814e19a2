// Package chain holds the process-wide chain table: for every supported
// network its RPC endpoint, native currency, token and bridge-router
// deployments and the bridge destination selector. The table is loaded once
// from chains.yaml and is read-only afterwards; its order is the order in
// which fallback sources are scanned.
package chain
