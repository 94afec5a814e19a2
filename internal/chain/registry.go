package chain

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	xerrors "crosschain-transfer/internal/errors"
)

const (
	defaultTokenSymbol    = "USDC"
	defaultTokenDecimals  = 6
	defaultNativeDecimals = 18
	maxDecimals           = 36
)

// CodeUnknownChain 表示请求的链不在注册表中。
const CodeUnknownChain xerrors.Code = "UNKNOWN_CHAIN"

func init() {
	xerrors.Register(CodeUnknownChain, xerrors.Attributes{
		Message:    "unknown chain",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: 400,
	})
}

var hexAddressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Entry 描述注册表中的一条链配置，加载后不可变。
type Entry struct {
	ID             string
	DisplayName    string
	EVMChainID     uint64
	RPCURL         string
	NativeSymbol   string
	NativeDecimals int32
	TokenSymbol    string
	TokenDecimals  int32
	TokenAddress   common.Address
	RouterAddress  common.Address
	// Selector 是桥接协议（CCIP）使用的目标链标识。
	Selector uint64
}

// Registry 是按配置顺序排列的只读链表，供所有请求共享。
type Registry struct {
	entries []Entry
	index   map[string]int
}

// Definitions 对应 chains.yaml 的结构。列表顺序即回退扫描顺序。
type Definitions struct {
	Token  TokenDefinition   `yaml:"token"`
	Chains []EntryDefinition `yaml:"chains"`
}

// TokenDefinition 描述所有链共享的默认代币。
type TokenDefinition struct {
	Symbol   string `yaml:"symbol"`
	Decimals *int32 `yaml:"decimals"`
}

// EntryDefinition 是单条链在 YAML 中的原始形式。
type EntryDefinition struct {
	ID             string `yaml:"id"`
	Name           string `yaml:"name"`
	ChainID        uint64 `yaml:"chain_id"`
	RPCURL         string `yaml:"rpc_url"`
	NativeSymbol   string `yaml:"native_symbol"`
	NativeDecimals *int32 `yaml:"native_decimals"`
	TokenSymbol    string `yaml:"token_symbol"`
	TokenDecimals  *int32 `yaml:"token_decimals"`
	TokenAddress   string `yaml:"token_address"`
	RouterAddress  string `yaml:"router_address"`
	ChainSelector  string `yaml:"chain_selector"`
}

// LoadFile 读取并校验 YAML 链配置。
func LoadFile(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "链配置路径为空")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取链配置失败: %w", err)
	}
	return Parse(content)
}

// Parse 解析 YAML 内容并构造注册表。
func Parse(content []byte) (*Registry, error) {
	var defs Definitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return nil, fmt.Errorf("解析链配置失败: %w", err)
	}
	return New(defs)
}

// New 根据定义构造注册表，链 ID 在规范化（去空白、小写）后必须唯一。
func New(defs Definitions) (*Registry, error) {
	if len(defs.Chains) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置任何链")
	}

	tokenSymbol := strings.ToUpper(strings.TrimSpace(defs.Token.Symbol))
	if tokenSymbol == "" {
		tokenSymbol = defaultTokenSymbol
	}
	tokenDecimals := int32(defaultTokenDecimals)
	if defs.Token.Decimals != nil {
		tokenDecimals = *defs.Token.Decimals
	}

	reg := &Registry{
		entries: make([]Entry, 0, len(defs.Chains)),
		index:   make(map[string]int, len(defs.Chains)),
	}
	for i, def := range defs.Chains {
		entry, err := buildEntry(def, tokenSymbol, tokenDecimals)
		if err != nil {
			return nil, fmt.Errorf("第 %d 条链配置无效: %w", i+1, err)
		}
		key := normalize(entry.ID)
		if _, exists := reg.index[key]; exists {
			return nil, xerrors.New(xerrors.CodeConflict, fmt.Sprintf("链 %s 重复配置", entry.ID))
		}
		reg.index[key] = len(reg.entries)
		reg.entries = append(reg.entries, entry)
	}
	return reg, nil
}

func buildEntry(def EntryDefinition, tokenSymbol string, tokenDecimals int32) (Entry, error) {
	id := strings.TrimSpace(def.ID)
	if id == "" {
		return Entry{}, xerrors.New(xerrors.CodeInvalidArgument, "链 ID 不能为空")
	}
	rpcURL := strings.TrimSpace(def.RPCURL)
	if rpcURL == "" {
		return Entry{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("链 %s 缺少 rpc_url", id))
	}

	tokenAddr, err := parseAddress(def.TokenAddress)
	if err != nil {
		return Entry{}, fmt.Errorf("链 %s 的 token_address: %w", id, err)
	}
	routerAddr, err := parseAddress(def.RouterAddress)
	if err != nil {
		return Entry{}, fmt.Errorf("链 %s 的 router_address: %w", id, err)
	}
	selector, err := strconv.ParseUint(strings.TrimSpace(def.ChainSelector), 10, 64)
	if err != nil {
		return Entry{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("链 %s 的 chain_selector 无效", id))
	}

	entry := Entry{
		ID:             id,
		DisplayName:    strings.TrimSpace(def.Name),
		EVMChainID:     def.ChainID,
		RPCURL:         rpcURL,
		NativeSymbol:   strings.ToUpper(strings.TrimSpace(def.NativeSymbol)),
		NativeDecimals: defaultNativeDecimals,
		TokenSymbol:    tokenSymbol,
		TokenDecimals:  tokenDecimals,
		TokenAddress:   tokenAddr,
		RouterAddress:  routerAddr,
		Selector:       selector,
	}
	if entry.DisplayName == "" {
		entry.DisplayName = id
	}
	if entry.NativeSymbol == "" {
		entry.NativeSymbol = "ETH"
	}
	if def.NativeDecimals != nil {
		entry.NativeDecimals = *def.NativeDecimals
	}
	if symbol := strings.ToUpper(strings.TrimSpace(def.TokenSymbol)); symbol != "" {
		entry.TokenSymbol = symbol
	}
	if def.TokenDecimals != nil {
		entry.TokenDecimals = *def.TokenDecimals
	}
	if entry.TokenDecimals < 0 || entry.TokenDecimals > maxDecimals || entry.NativeDecimals < 0 || entry.NativeDecimals > maxDecimals {
		return Entry{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("链 %s 的精度超出范围", id))
	}
	return entry, nil
}

func parseAddress(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !hexAddressPattern.MatchString(raw) {
		return common.Address{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("地址格式错误: %q", raw))
	}
	return common.HexToAddress(raw), nil
}

func normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Resolve 按不区分大小写的链 ID 查找配置。
func (r *Registry) Resolve(id string) (Entry, error) {
	if r != nil {
		if idx, ok := r.index[normalize(id)]; ok {
			return r.entries[idx], nil
		}
	}
	return Entry{}, xerrors.New(CodeUnknownChain, fmt.Sprintf("Unknown chain: %s", strings.TrimSpace(id)),
		xerrors.WithMetadata("chain_id", strings.TrimSpace(id)))
}

// All 按配置顺序返回所有链。返回的切片是副本，调用方修改不会影响注册表。
func (r *Registry) All() []Entry {
	if r == nil {
		return nil
	}
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// IDs 按配置顺序返回所有链 ID。
func (r *Registry) IDs() []string {
	if r == nil {
		return nil
	}
	ids := make([]string, len(r.entries))
	for i, entry := range r.entries {
		ids[i] = entry.ID
	}
	return ids
}

// Len 返回注册的链数量。
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}
