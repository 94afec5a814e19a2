package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"crosschain-transfer/internal/chain"
	xerrors "crosschain-transfer/internal/errors"
	"crosschain-transfer/internal/lock"
	"crosschain-transfer/internal/web3"
)

// Backend 是客户端依赖的节点能力子集，ethclient.Client 与模拟后端均满足。
type Backend interface {
	CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// committer 由模拟后端实现，发送交易后立即出块。
type committer interface {
	Commit() common.Hash
}

// Config describes how to construct a client for one chain.
type Config struct {
	Chain  chain.Entry
	Signer *ecdsa.PrivateKey
	// Locker serializes nonce allocation per chain and account. Defaults to an
	// in-process lock.
	Locker lock.Locker
	// CallTimeout bounds every individual RPC call; zero disables it.
	CallTimeout time.Duration
	// WaitReceipts makes every submitted transaction wait for its receipt.
	WaitReceipts   bool
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
	// GasMarginPercent is added on top of the node's gas estimate.
	GasMarginPercent uint64
}

// Client submits token, native and bridge transactions for a single EVM chain
// on behalf of one signing account.
type Client struct {
	entry   chain.Entry
	backend Backend
	rpc     *gethrpc.Client
	key     *ecdsa.PrivateKey
	from    common.Address
	locker  lock.Locker

	callTimeout    time.Duration
	waitReceipts   bool
	receiptTimeout time.Duration
	pollInterval   time.Duration
	gasMargin      uint64

	mu      sync.Mutex
	chainID *big.Int
}

// NewClient dials the chain's RPC endpoint and verifies the chain id when one
// is configured.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.Chain.RPCURL)
	if rpcURL == "" {
		return nil, fmt.Errorf("链 %s 未配置 RPC 地址", cfg.Chain.ID)
	}
	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接链 %s 节点失败: %w", cfg.Chain.ID, err)
	}
	client, err := NewClientWithBackend(cfg, ethclient.NewClient(rpcClient))
	if err != nil {
		rpcClient.Close()
		return nil, err
	}
	client.rpc = rpcClient
	return client, nil
}

// NewClientWithBackend wraps an existing backend, e.g. a simulated chain.
func NewClientWithBackend(cfg Config, backend Backend) (*Client, error) {
	if backend == nil {
		return nil, errors.New("链访问后端不能为空")
	}
	if cfg.Signer == nil {
		return nil, errors.New("未配置交易签名私钥")
	}
	locker := cfg.Locker
	if locker == nil {
		locker = lock.NewLocal()
	}
	receiptTimeout := cfg.ReceiptTimeout
	if receiptTimeout <= 0 {
		receiptTimeout = 3 * time.Minute
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	gasMargin := cfg.GasMarginPercent
	if gasMargin == 0 {
		gasMargin = 20
	}
	c := &Client{
		entry:          cfg.Chain,
		backend:        backend,
		key:            cfg.Signer,
		from:           crypto.PubkeyToAddress(cfg.Signer.PublicKey),
		locker:         locker,
		callTimeout:    cfg.CallTimeout,
		waitReceipts:   cfg.WaitReceipts,
		receiptTimeout: receiptTimeout,
		pollInterval:   pollInterval,
		gasMargin:      gasMargin,
	}
	if cfg.Chain.EVMChainID != 0 {
		c.chainID = new(big.Int).SetUint64(cfg.Chain.EVMChainID)
	}
	return c, nil
}

// Close releases the RPC connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpc != nil {
		c.rpc.Close()
		c.rpc = nil
	}
}

// Account returns the signing account address.
func (c *Client) Account() common.Address {
	return c.from
}

// Chain returns the registry entry this client serves.
func (c *Client) Chain() chain.Entry {
	return c.entry
}

// VerifyChainID compares the node's chain id with the configured one.
func (c *Client) VerifyChainID(ctx context.Context) error {
	if c.entry.EVMChainID == 0 {
		_, err := c.resolveChainID(ctx)
		return err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	actual, err := c.backend.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("获取链 ID 失败: %w", err)
	}
	if actual.Uint64() != c.entry.EVMChainID {
		return fmt.Errorf("链 %s 的节点返回链 ID %s，配置为 %d", c.entry.ID, actual, c.entry.EVMChainID)
	}
	return nil
}

// Snapshot returns lightweight metadata about the chain head.
func (c *Client) Snapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	id, err := c.resolveChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	header, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取最新区块失败: %w", err)
	}
	return web3.ChainSnapshot{
		Chain:       c.entry.ID,
		ChainID:     toHexBig(id),
		BlockNumber: toHexBig(header.Number),
		Account:     c.from.Hex(),
	}, nil
}

// NativeBalance returns the signing account's native balance.
func (c *Client) NativeBalance(ctx context.Context) (*big.Int, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	balance, err := c.backend.BalanceAt(ctx, c.from, nil)
	if err != nil {
		return nil, fmt.Errorf("查询原生币余额失败: %w", err)
	}
	return balance, nil
}

// TokenBalance returns the signing account's balance of the chain's token.
func (c *Client) TokenBalance(ctx context.Context) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", c.from)
	if err != nil {
		return nil, fmt.Errorf("编码 balanceOf 失败: %w", err)
	}
	out, err := c.call(ctx, c.entry.TokenAddress, nil, data)
	if err != nil {
		return nil, fmt.Errorf("查询代币余额失败: %w", err)
	}
	return unpackBigInt(erc20ABI, "balanceOf", out)
}

// SendNative transfers native currency to the recipient.
func (c *Client) SendNative(ctx context.Context, to common.Address, amount *big.Int) (common.Hash, error) {
	tx, err := c.transact(ctx, to, amount, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("原生币转账失败: %w", err)
	}
	return c.finish(ctx, tx)
}

// SendToken transfers the chain's token to the recipient.
func (c *Client) SendToken(ctx context.Context, to common.Address, amount *big.Int) (common.Hash, error) {
	data, err := erc20ABI.Pack("transfer", to, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("编码 transfer 失败: %w", err)
	}
	tx, err := c.transact(ctx, c.entry.TokenAddress, nil, data)
	if err != nil {
		return common.Hash{}, fmt.Errorf("代币转账失败: %w", err)
	}
	return c.finish(ctx, tx)
}

// ApproveRouter grants the bridge router an allowance of amount and waits for
// the approval to be mined so the following bridge submission can spend it.
func (c *Client) ApproveRouter(ctx context.Context, amount *big.Int) (common.Hash, error) {
	data, err := erc20ABI.Pack("approve", c.entry.RouterAddress, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("编码 approve 失败: %w", err)
	}
	tx, err := c.transact(ctx, c.entry.TokenAddress, nil, data)
	if err != nil {
		return common.Hash{}, fmt.Errorf("授权路由合约失败: %w", err)
	}
	if _, err := c.WaitMined(ctx, tx.Hash()); err != nil {
		return tx.Hash(), fmt.Errorf("等待授权交易确认失败: %w", err)
	}
	return tx.Hash(), nil
}

// QuoteBridgeFee asks the router for the native fee of bridging amount of
// the chain's token to recipient on the destination selector.
func (c *Client) QuoteBridgeFee(ctx context.Context, destSelector uint64, recipient common.Address, amount *big.Int) (*big.Int, error) {
	msg, err := newTokenTransferMessage(c.entry.TokenAddress, recipient, amount)
	if err != nil {
		return nil, err
	}
	data, err := routerABI.Pack("getFee", destSelector, msg)
	if err != nil {
		return nil, fmt.Errorf("编码 getFee 失败: %w", err)
	}
	out, err := c.call(ctx, c.entry.RouterAddress, nil, data)
	if err != nil {
		return nil, fmt.Errorf("查询跨链手续费失败: %w", err)
	}
	return unpackBigInt(routerABI, "getFee", out)
}

// BridgeSubmission is the result of a ccipSend transaction.
type BridgeSubmission struct {
	TxHash    common.Hash
	MessageID common.Hash
}

// SubmitBridge sends ccipSend paying fee in native currency. The message id
// is read by simulating the call under the submission lock right before the
// transaction is signed.
func (c *Client) SubmitBridge(ctx context.Context, destSelector uint64, recipient common.Address, amount, fee *big.Int) (BridgeSubmission, error) {
	msg, err := newTokenTransferMessage(c.entry.TokenAddress, recipient, amount)
	if err != nil {
		return BridgeSubmission{}, err
	}
	data, err := routerABI.Pack("ccipSend", destSelector, msg)
	if err != nil {
		return BridgeSubmission{}, fmt.Errorf("编码 ccipSend 失败: %w", err)
	}

	var messageID common.Hash
	tx, err := c.transactWith(ctx, c.entry.RouterAddress, fee, data, func(ctx context.Context) error {
		out, callErr := c.call(ctx, c.entry.RouterAddress, fee, data)
		if callErr != nil {
			return fmt.Errorf("模拟 ccipSend 失败: %w", callErr)
		}
		messageID, callErr = unpackBytes32(routerABI, "ccipSend", out)
		return callErr
	})
	if err != nil {
		return BridgeSubmission{}, fmt.Errorf("提交跨链转账失败: %w", err)
	}
	hash, err := c.finish(ctx, tx)
	if err != nil {
		return BridgeSubmission{TxHash: hash, MessageID: messageID}, err
	}
	return BridgeSubmission{TxHash: hash, MessageID: messageID}, nil
}

// WaitMined polls for the transaction receipt until it is available, the
// receipt timeout elapses or ctx is cancelled. Reverted transactions are
// reported as errors.
func (c *Client) WaitMined(ctx context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			if receipt.Status == coretypes.ReceiptStatusFailed {
				return receipt, fmt.Errorf("交易 %s 执行失败", hash.Hex())
			}
			return receipt, nil
		}
		if err != nil && !errors.Is(err, gethcore.NotFound) {
			return nil, fmt.Errorf("查询交易回执失败: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), fmt.Sprintf("等待交易 %s 确认超时", hash.Hex()))
		case <-ticker.C:
		}
	}
}

func (c *Client) finish(ctx context.Context, tx *coretypes.Transaction) (common.Hash, error) {
	if !c.waitReceipts {
		return tx.Hash(), nil
	}
	if _, err := c.WaitMined(ctx, tx.Hash()); err != nil {
		return tx.Hash(), err
	}
	return tx.Hash(), nil
}

func (c *Client) call(ctx context.Context, to common.Address, value *big.Int, data []byte) ([]byte, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.backend.CallContract(ctx, gethcore.CallMsg{
		From:  c.from,
		To:    &to,
		Value: value,
		Data:  data,
	}, nil)
}

func (c *Client) transact(ctx context.Context, to common.Address, value *big.Int, data []byte) (*coretypes.Transaction, error) {
	return c.transactWith(ctx, to, value, data, nil)
}

// transactWith builds, signs and sends a dynamic-fee transaction while holding
// the per-chain submission lock. before runs under the lock ahead of nonce
// allocation.
func (c *Client) transactWith(ctx context.Context, to common.Address, value *big.Int, data []byte, before func(context.Context) error) (*coretypes.Transaction, error) {
	if value == nil {
		value = new(big.Int)
	}
	chainID, err := c.resolveChainID(ctx)
	if err != nil {
		return nil, err
	}

	release, err := c.locker.Lock(ctx, c.lockKey())
	if err != nil {
		return nil, err
	}
	defer release()

	if before != nil {
		if err := before(ctx); err != nil {
			return nil, err
		}
	}

	callCtx, cancel := c.withTimeout(ctx)
	defer cancel()

	nonce, err := c.backend.PendingNonceAt(callCtx, c.from)
	if err != nil {
		return nil, fmt.Errorf("获取 nonce 失败: %w", err)
	}
	tipCap, err := c.backend.SuggestGasTipCap(callCtx)
	if err != nil {
		return nil, fmt.Errorf("获取小费建议失败: %w", err)
	}
	head, err := c.backend.HeaderByNumber(callCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("获取最新区块失败: %w", err)
	}
	feeCap := new(big.Int).Set(tipCap)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	gas, err := c.backend.EstimateGas(callCtx, gethcore.CallMsg{
		From:  c.from,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return nil, fmt.Errorf("估算 gas 失败: %w", err)
	}
	gas += gas * c.gasMargin / 100

	tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      data,
	})
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(chainID), c.key)
	if err != nil {
		return nil, fmt.Errorf("交易签名失败: %w", err)
	}
	if err := c.backend.SendTransaction(callCtx, signed); err != nil {
		return nil, fmt.Errorf("发送交易失败: %w", err)
	}
	if sim, ok := c.backend.(committer); ok {
		sim.Commit()
	}
	return signed, nil
}

func (c *Client) resolveChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	cached := c.chainID
	c.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	c.mu.Lock()
	c.chainID = id
	c.mu.Unlock()
	return id, nil
}

func (c *Client) lockKey() string {
	return strings.ToLower(c.entry.ID) + ":" + strings.ToLower(c.from.Hex())
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.callTimeout)
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}
