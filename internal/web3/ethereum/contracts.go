package ethereum

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const erc20ABIJSON = `[
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"transfer","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable",
	 "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"allowance","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]}
]`

const evm2AnyMessageComponents = `{"name":"message","type":"tuple","components":[
	{"name":"receiver","type":"bytes"},
	{"name":"data","type":"bytes"},
	{"name":"tokenAmounts","type":"tuple[]","components":[
		{"name":"token","type":"address"},
		{"name":"amount","type":"uint256"}]},
	{"name":"feeToken","type":"address"},
	{"name":"extraArgs","type":"bytes"}]}`

const routerABIJSON = `[
	{"type":"function","name":"getFee","stateMutability":"view",
	 "inputs":[{"name":"destinationChainSelector","type":"uint64"},` + evm2AnyMessageComponents + `],
	 "outputs":[{"name":"fee","type":"uint256"}]},
	{"type":"function","name":"ccipSend","stateMutability":"payable",
	 "inputs":[{"name":"destinationChainSelector","type":"uint64"},` + evm2AnyMessageComponents + `],
	 "outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"isChainSupported","stateMutability":"view",
	 "inputs":[{"name":"chainSelector","type":"uint64"}],
	 "outputs":[{"name":"supported","type":"bool"}]}
]`

// evmExtraArgsV1Tag 是 CCIP EVMExtraArgsV1 的类型前缀 bytes4(keccak256("CCIP EVMExtraArgsV1"))。
var evmExtraArgsV1Tag = []byte{0x97, 0xa6, 0x57, 0xc9}

var (
	erc20ABI  = mustParseABI(erc20ABIJSON)
	routerABI = mustParseABI(routerABIJSON)

	addressArgs = abi.Arguments{{Type: mustNewType("address")}}
	uint256Args = abi.Arguments{{Type: mustNewType("uint256")}}
)

// evmTokenAmount 对应 Client.EVMTokenAmount。
type evmTokenAmount struct {
	Token  common.Address
	Amount *big.Int
}

// evm2AnyMessage 对应 Client.EVM2AnyMessage。
type evm2AnyMessage struct {
	Receiver     []byte
	Data         []byte
	TokenAmounts []evmTokenAmount
	FeeToken     common.Address
	ExtraArgs    []byte
}

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}

func mustNewType(name string) abi.Type {
	typ, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(fmt.Sprintf("abi type %s: %v", name, err))
	}
	return typ
}

// newTokenTransferMessage 构造只转移代币、不携带数据、以原生币支付手续费的消息。
func newTokenTransferMessage(token, recipient common.Address, amount *big.Int) (evm2AnyMessage, error) {
	receiver, err := addressArgs.Pack(recipient)
	if err != nil {
		return evm2AnyMessage{}, fmt.Errorf("编码接收地址失败: %w", err)
	}
	extra, err := encodeExtraArgsV1(big.NewInt(0))
	if err != nil {
		return evm2AnyMessage{}, err
	}
	return evm2AnyMessage{
		Receiver:     receiver,
		Data:         []byte{},
		TokenAmounts: []evmTokenAmount{{Token: token, Amount: new(big.Int).Set(amount)}},
		FeeToken:     common.Address{},
		ExtraArgs:    extra,
	}, nil
}

func encodeExtraArgsV1(gasLimit *big.Int) ([]byte, error) {
	encoded, err := uint256Args.Pack(gasLimit)
	if err != nil {
		return nil, fmt.Errorf("编码 extraArgs 失败: %w", err)
	}
	return append(append([]byte{}, evmExtraArgsV1Tag...), encoded...), nil
}

func unpackBigInt(contract abi.ABI, method string, output []byte) (*big.Int, error) {
	values, err := contract.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("解析 %s 返回值失败: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%s 返回值数量异常: %d", method, len(values))
	}
	value, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s 返回值类型异常: %T", method, values[0])
	}
	return value, nil
}

func unpackBytes32(contract abi.ABI, method string, output []byte) (common.Hash, error) {
	values, err := contract.Unpack(method, output)
	if err != nil {
		return common.Hash{}, fmt.Errorf("解析 %s 返回值失败: %w", method, err)
	}
	if len(values) != 1 {
		return common.Hash{}, fmt.Errorf("%s 返回值数量异常: %d", method, len(values))
	}
	value, ok := values[0].([32]byte)
	if !ok {
		return common.Hash{}, fmt.Errorf("%s 返回值类型异常: %T", method, values[0])
	}
	return common.Hash(value), nil
}
