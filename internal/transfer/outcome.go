package transfer

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Method 标识成功转账所走的路径。
type Method string

const (
	MethodDirect Method = "direct"
	MethodBridge Method = "bridge"
)

// Outcome 是一次成功转账的结果。扫描耗尽与链调用失败以错误码
// NO_ELIGIBLE_SOURCE、CHAIN_CALL_FAILED 的形式返回。
type Outcome struct {
	Method Method
	// SourceChain 是实际出资的链：直连时为目标链，桥接时为扫描命中的链。
	SourceChain      string
	DestinationChain string
	TxHash           string
	MessageID        string
	Fee              *big.Int
	Asset            Asset
	Units            *big.Int
}

// BridgeRoute 描述一次桥接消息的目的地与金额。
type BridgeRoute struct {
	DestinationSelector uint64
	Recipient           common.Address
	Amount              *big.Int
}

// BridgeReceipt 是桥接提交的回执。
type BridgeReceipt struct {
	TxHash    string
	MessageID string
}
