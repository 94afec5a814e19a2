package web3

// ChainSnapshot summarizes a chain head as seen by the signing account's node
// connection, for status reporting.
type ChainSnapshot struct {
	Chain       string `json:"chain"`
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	Account     string `json:"account"`
}
