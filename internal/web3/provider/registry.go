package provider

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"crosschain-transfer/internal/chain"
	"crosschain-transfer/internal/lock"
	"crosschain-transfer/internal/transfer"
	"crosschain-transfer/internal/web3"
	"crosschain-transfer/internal/web3/ethereum"
)

// ChainClient is the per-chain surface the registry dispatches to.
type ChainClient interface {
	Account() common.Address
	TokenBalance(ctx context.Context) (*big.Int, error)
	NativeBalance(ctx context.Context) (*big.Int, error)
	SendToken(ctx context.Context, to common.Address, amount *big.Int) (common.Hash, error)
	SendNative(ctx context.Context, to common.Address, amount *big.Int) (common.Hash, error)
	ApproveRouter(ctx context.Context, amount *big.Int) (common.Hash, error)
	QuoteBridgeFee(ctx context.Context, destSelector uint64, recipient common.Address, amount *big.Int) (*big.Int, error)
	SubmitBridge(ctx context.Context, destSelector uint64, recipient common.Address, amount, fee *big.Int) (ethereum.BridgeSubmission, error)
	Snapshot(ctx context.Context) (web3.ChainSnapshot, error)
	Close()
}

// Options controls how clients are constructed.
type Options struct {
	// SigningKey is the hex encoded private key, with or without 0x prefix.
	SigningKey     string
	Locker         lock.Locker
	CallTimeout    time.Duration
	WaitReceipts   bool
	ReceiptTimeout time.Duration
	VerifyChainIDs bool
}

// Registry manages one chain client per registry entry keyed by chain id and
// implements transfer.Capabilities.
type Registry struct {
	clients map[string]ChainClient
}

var _ transfer.Capabilities = (*Registry)(nil)

// ParseSigningKey decodes a hex private key.
func ParseSigningKey(raw string) (*ecdsa.PrivateKey, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if raw == "" {
		return nil, errors.New("未配置交易签名私钥")
	}
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		// 不回显私钥内容。
		return nil, errors.New("交易签名私钥格式无效")
	}
	return key, nil
}

// NewRegistry dials every chain of the registry.
func NewRegistry(ctx context.Context, chains *chain.Registry, opts Options) (*Registry, error) {
	if chains == nil || chains.Len() == 0 {
		return nil, errors.New("未配置任何链")
	}
	key, err := ParseSigningKey(opts.SigningKey)
	if err != nil {
		return nil, err
	}
	locker := opts.Locker
	if locker == nil {
		locker = lock.NewLocal()
	}

	clients := make(map[string]ChainClient, chains.Len())
	reg := &Registry{clients: clients}
	for _, entry := range chains.All() {
		client, err := ethereum.NewClient(ctx, ethereum.Config{
			Chain:          entry,
			Signer:         key,
			Locker:         locker,
			CallTimeout:    opts.CallTimeout,
			WaitReceipts:   opts.WaitReceipts,
			ReceiptTimeout: opts.ReceiptTimeout,
		})
		if err != nil {
			reg.Close()
			return nil, fmt.Errorf("初始化链 %s 失败: %w", entry.ID, err)
		}
		if opts.VerifyChainIDs {
			if err := client.VerifyChainID(ctx); err != nil {
				client.Close()
				reg.Close()
				return nil, err
			}
		}
		clients[normalize(entry.ID)] = client
	}
	return reg, nil
}

// NewStaticRegistry wraps pre-built clients, keyed by chain id.
func NewStaticRegistry(clients map[string]ChainClient) *Registry {
	set := make(map[string]ChainClient, len(clients))
	for id, client := range clients {
		if client != nil {
			set[normalize(id)] = client
		}
	}
	return &Registry{clients: set}
}

// Client returns the chain client identified by id.
func (r *Registry) Client(id string) (ChainClient, bool) {
	if r == nil {
		return nil, false
	}
	client, ok := r.clients[normalize(id)]
	return client, ok
}

// Account returns the signing account shared by all clients.
func (r *Registry) Account() common.Address {
	for _, client := range r.clients {
		return client.Account()
	}
	return common.Address{}
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for id, client := range r.clients {
		client.Close()
		delete(r.clients, id)
	}
}

// Snapshot reports the head of one chain.
func (r *Registry) Snapshot(ctx context.Context, chainID string) (web3.ChainSnapshot, error) {
	client, err := r.client(chainID)
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	return client.Snapshot(ctx)
}

// TokenBalance implements transfer.Capabilities.
func (r *Registry) TokenBalance(ctx context.Context, chainID string) (*big.Int, error) {
	client, err := r.client(chainID)
	if err != nil {
		return nil, err
	}
	return client.TokenBalance(ctx)
}

// NativeBalance implements transfer.Capabilities.
func (r *Registry) NativeBalance(ctx context.Context, chainID string) (*big.Int, error) {
	client, err := r.client(chainID)
	if err != nil {
		return nil, err
	}
	return client.NativeBalance(ctx)
}

// SendToken implements transfer.Capabilities.
func (r *Registry) SendToken(ctx context.Context, chainID string, to common.Address, amount *big.Int) (string, error) {
	client, err := r.client(chainID)
	if err != nil {
		return "", err
	}
	return hashString(client.SendToken(ctx, to, amount))
}

// SendNative implements transfer.Capabilities.
func (r *Registry) SendNative(ctx context.Context, chainID string, to common.Address, amount *big.Int) (string, error) {
	client, err := r.client(chainID)
	if err != nil {
		return "", err
	}
	return hashString(client.SendNative(ctx, to, amount))
}

// ApproveRouter implements transfer.Capabilities.
func (r *Registry) ApproveRouter(ctx context.Context, chainID string, amount *big.Int) (string, error) {
	client, err := r.client(chainID)
	if err != nil {
		return "", err
	}
	return hashString(client.ApproveRouter(ctx, amount))
}

// QuoteBridgeFee implements transfer.Capabilities.
func (r *Registry) QuoteBridgeFee(ctx context.Context, chainID string, route transfer.BridgeRoute) (*big.Int, error) {
	client, err := r.client(chainID)
	if err != nil {
		return nil, err
	}
	return client.QuoteBridgeFee(ctx, route.DestinationSelector, route.Recipient, route.Amount)
}

// SubmitBridge implements transfer.Capabilities.
func (r *Registry) SubmitBridge(ctx context.Context, chainID string, route transfer.BridgeRoute, fee *big.Int) (transfer.BridgeReceipt, error) {
	client, err := r.client(chainID)
	if err != nil {
		return transfer.BridgeReceipt{}, err
	}
	sub, err := client.SubmitBridge(ctx, route.DestinationSelector, route.Recipient, route.Amount, fee)
	if err != nil {
		return transfer.BridgeReceipt{}, err
	}
	return transfer.BridgeReceipt{TxHash: sub.TxHash.Hex(), MessageID: sub.MessageID.Hex()}, nil
}

func (r *Registry) client(chainID string) (ChainClient, error) {
	client, ok := r.Client(chainID)
	if !ok {
		return nil, fmt.Errorf("链 %s 未初始化客户端", chainID)
	}
	return client, nil
}

func hashString(hash common.Hash, err error) (string, error) {
	if err != nil {
		return "", err
	}
	return hash.Hex(), nil
}

func normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
