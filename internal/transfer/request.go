package transfer

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"crosschain-transfer/internal/chain"
)

var (
	amountPattern  = regexp.MustCompile(`^[0-9]*\.?[0-9]+$`)
	addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
)

// Request 是一次转账请求，JSON 字段名沿用对外接口的约定。
type Request struct {
	Token            string `json:"token"`
	ChainDestination string `json:"chain_destination"`
	Recipient        string `json:"recipient"`
	Amount           string `json:"amount"`
}

// Normalize 去除各字段两端空白，代币符号统一为大写，流水与事件都使用规范化后的值。
func (r Request) Normalize() Request {
	return Request{
		Token:            strings.ToUpper(strings.TrimSpace(r.Token)),
		ChainDestination: strings.TrimSpace(r.ChainDestination),
		Recipient:        strings.TrimSpace(r.Recipient),
		Amount:           strings.TrimSpace(r.Amount),
	}
}

// Validate 检查与链表无关的字段格式。
func (r Request) Validate() error {
	if r.ChainDestination == "" {
		return validationError("chain_destination is required")
	}
	if !addressPattern.MatchString(r.Recipient) {
		return validationError("recipient must be a 0x-prefixed 20-byte hex address")
	}
	if !amountPattern.MatchString(r.Amount) {
		return validationError("amount must be a positive decimal number")
	}
	return nil
}

// RecipientAddress 返回解析后的收款地址，调用前应先 Validate。
func (r Request) RecipientAddress() common.Address {
	return common.HexToAddress(r.Recipient)
}

// ToUnits 将十进制金额按精度换算为最小单位，向零截断。结果必须至少为 1。
func ToUnits(amount string, decimals int32) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if !amountPattern.MatchString(amount) {
		return nil, validationError("amount must be a positive decimal number")
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, validationError(fmt.Sprintf("amount %q is not a decimal number", amount))
	}
	units := d.Shift(decimals).Truncate(0).BigInt()
	if units.Sign() <= 0 {
		return nil, validationError(fmt.Sprintf("amount %s is below the smallest unit", amount))
	}
	return units, nil
}

// FormatUnits 将最小单位换算回十进制字符串，用于日志和响应。
func FormatUnits(units *big.Int, decimals int32) string {
	if units == nil {
		return ""
	}
	return decimal.NewFromBigInt(units, -decimals).String()
}

// AssetKind 区分代币与原生币两种能力集合。
type AssetKind string

const (
	AssetToken  AssetKind = "token"
	AssetNative AssetKind = "native"
)

// Asset 描述一次请求所转移的资产。
type Asset struct {
	Kind     AssetKind
	Symbol   string
	Decimals int32
}

// Bridgeable 表示资产是否可以通过跨链桥从其他链补足。
func (a Asset) Bridgeable() bool {
	return a.Kind == AssetToken
}

// ResolveAsset 根据请求的代币符号和目标链确定资产类型，空符号默认为代币。
func ResolveAsset(symbol string, dest chain.Entry) (Asset, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	switch {
	case symbol == "" || symbol == dest.TokenSymbol:
		return Asset{Kind: AssetToken, Symbol: dest.TokenSymbol, Decimals: dest.TokenDecimals}, nil
	case symbol == dest.NativeSymbol:
		return Asset{Kind: AssetNative, Symbol: dest.NativeSymbol, Decimals: dest.NativeDecimals}, nil
	default:
		return Asset{}, validationError(fmt.Sprintf("token %s is not supported on %s", symbol, dest.ID))
	}
}
