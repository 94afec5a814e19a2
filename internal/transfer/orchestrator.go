package transfer

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"crosschain-transfer/internal/chain"
	xerrors "crosschain-transfer/internal/errors"
	"crosschain-transfer/internal/observability/metrics"
	"crosschain-transfer/pkg/logger"
)

// 链调用步骤名，用于日志、指标和错误元数据。
const (
	StepTokenBalance  = "token_balance"
	StepNativeBalance = "native_balance"
	StepTokenSend     = "token_transfer"
	StepNativeSend    = "native_transfer"
	StepApprove       = "approve"
	StepQuoteFee      = "quote_fee"
	StepBridgeSubmit  = "bridge_submit"
)

// Capabilities 是编排器消费的链上能力，按链 ID 寻址，签名账户由实现方持有。
type Capabilities interface {
	TokenBalance(ctx context.Context, chainID string) (*big.Int, error)
	NativeBalance(ctx context.Context, chainID string) (*big.Int, error)
	SendToken(ctx context.Context, chainID string, to common.Address, amount *big.Int) (string, error)
	SendNative(ctx context.Context, chainID string, to common.Address, amount *big.Int) (string, error)
	ApproveRouter(ctx context.Context, chainID string, amount *big.Int) (string, error)
	QuoteBridgeFee(ctx context.Context, chainID string, route BridgeRoute) (*big.Int, error)
	SubmitBridge(ctx context.Context, chainID string, route BridgeRoute, fee *big.Int) (BridgeReceipt, error)
}

// Orchestrator 选择出资链并执行直连或跨链转账。请求内严格顺序执行，
// 多个请求可以并发调用同一个实例。
type Orchestrator struct {
	chains *chain.Registry
	caps   Capabilities
	logger *slog.Logger
}

// Option 配置 Orchestrator。
type Option func(*Orchestrator)

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewOrchestrator 创建编排器。
func NewOrchestrator(chains *chain.Registry, caps Capabilities, opts ...Option) (*Orchestrator, error) {
	if chains == nil || chains.Len() == 0 {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "链注册表为空")
	}
	if caps == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "链上能力未配置")
	}
	o := &Orchestrator{chains: chains, caps: caps, logger: logger.Named("transfer")}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o, nil
}

// Chains 返回编排器使用的链注册表。
func (o *Orchestrator) Chains() *chain.Registry {
	return o.chains
}

// Execute 执行一次转账：目标链余额严格大于金额时直连转账，否则按注册表顺序
// 寻找第一条余额充足的链发起跨链转账。任何链调用失败都会中止请求。
func (o *Orchestrator) Execute(ctx context.Context, req Request) (Outcome, error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return Outcome{}, err
	}
	dest, err := o.chains.Resolve(req.ChainDestination)
	if err != nil {
		return Outcome{}, err
	}
	asset, err := ResolveAsset(req.Token, dest)
	if err != nil {
		return Outcome{}, err
	}
	units, err := ToUnits(req.Amount, asset.Decimals)
	if err != nil {
		return Outcome{}, err
	}
	recipient := req.RecipientAddress()

	log := o.logger.With(
		slog.String("destination", dest.ID),
		slog.String("asset", asset.Symbol),
		slog.String("units", units.String()),
	)

	balance, err := o.balance(ctx, asset, dest.ID)
	if err != nil {
		return Outcome{}, err
	}
	balance = orZero(balance)
	log.Info("目标链余额", slog.String("chain", dest.ID), slog.String("balance", balance.String()))

	if balance.Cmp(units) > 0 {
		txHash, err := o.send(ctx, asset, dest.ID, recipient, units)
		if err != nil {
			return Outcome{}, err
		}
		log.Info("直连转账已提交", slog.String("tx_hash", txHash))
		return Outcome{
			Method:           MethodDirect,
			SourceChain:      dest.ID,
			DestinationChain: dest.ID,
			TxHash:           txHash,
			Asset:            asset,
			Units:            units,
		}, nil
	}

	if !asset.Bridgeable() {
		log.Info("原生资产余额不足且无法跨链补足")
		return Outcome{}, noEligibleSource()
	}

	log.Info("目标链余额不足，开始扫描出资链")
	for _, source := range o.chains.All() {
		balance, err := call(ctx, o, source.ID, StepTokenBalance, func(ctx context.Context) (*big.Int, error) {
			return o.caps.TokenBalance(ctx, source.ID)
		})
		if err != nil {
			return Outcome{}, err
		}
		balance = orZero(balance)
		log.Info("出资链余额", slog.String("chain", source.ID), slog.String("balance", balance.String()))

		sourceUnits := units
		if source.TokenDecimals != asset.Decimals {
			converted, convErr := ToUnits(req.Amount, source.TokenDecimals)
			if convErr != nil {
				log.Warn("金额低于出资链最小单位，不能作为出资链",
					slog.String("chain", source.ID),
					slog.String("amount", req.Amount),
					slog.String("min_unit", FormatUnits(big.NewInt(1), source.TokenDecimals)),
				)
				continue
			}
			sourceUnits = converted
		}
		if balance.Cmp(sourceUnits) <= 0 {
			continue
		}
		return o.bridge(ctx, log, source, dest, recipient, sourceUnits, asset)
	}

	log.Info("没有余额充足的出资链")
	return Outcome{}, noEligibleSource()
}

func (o *Orchestrator) bridge(ctx context.Context, log *slog.Logger, source, dest chain.Entry, recipient common.Address, units *big.Int, asset Asset) (Outcome, error) {
	approveTx, err := call(ctx, o, source.ID, StepApprove, func(ctx context.Context) (string, error) {
		return o.caps.ApproveRouter(ctx, source.ID, units)
	})
	if err != nil {
		return Outcome{}, err
	}
	log.Info("路由合约授权完成", slog.String("chain", source.ID), slog.String("tx_hash", approveTx))

	route := BridgeRoute{DestinationSelector: dest.Selector, Recipient: recipient, Amount: units}
	fee, err := call(ctx, o, source.ID, StepQuoteFee, func(ctx context.Context) (*big.Int, error) {
		return o.caps.QuoteBridgeFee(ctx, source.ID, route)
	})
	if err != nil {
		return Outcome{}, err
	}
	log.Info("跨链手续费", slog.String("chain", source.ID), slog.String("fee", fee.String()))

	receipt, err := call(ctx, o, source.ID, StepBridgeSubmit, func(ctx context.Context) (BridgeReceipt, error) {
		return o.caps.SubmitBridge(ctx, source.ID, route, fee)
	})
	if err != nil {
		return Outcome{}, err
	}
	log.Info("跨链转账已提交",
		slog.String("chain", source.ID),
		slog.String("tx_hash", receipt.TxHash),
		slog.String("message_id", receipt.MessageID),
	)
	return Outcome{
		Method:           MethodBridge,
		SourceChain:      source.ID,
		DestinationChain: dest.ID,
		TxHash:           receipt.TxHash,
		MessageID:        receipt.MessageID,
		Fee:              fee,
		Asset:            asset,
		Units:            units,
	}, nil
}

func (o *Orchestrator) balance(ctx context.Context, asset Asset, chainID string) (*big.Int, error) {
	if asset.Kind == AssetNative {
		return call(ctx, o, chainID, StepNativeBalance, func(ctx context.Context) (*big.Int, error) {
			return o.caps.NativeBalance(ctx, chainID)
		})
	}
	return call(ctx, o, chainID, StepTokenBalance, func(ctx context.Context) (*big.Int, error) {
		return o.caps.TokenBalance(ctx, chainID)
	})
}

func (o *Orchestrator) send(ctx context.Context, asset Asset, chainID string, to common.Address, units *big.Int) (string, error) {
	if asset.Kind == AssetNative {
		return call(ctx, o, chainID, StepNativeSend, func(ctx context.Context) (string, error) {
			return o.caps.SendNative(ctx, chainID, to, units)
		})
	}
	return call(ctx, o, chainID, StepTokenSend, func(ctx context.Context) (string, error) {
		return o.caps.SendToken(ctx, chainID, to, units)
	})
}

// call 执行一次能力调用并记录指标；失败时包装为 CHAIN_CALL_FAILED。
func call[T any](ctx context.Context, o *Orchestrator, chainID, step string, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	value, err := fn(ctx)
	metrics.ObserveChainCall(chainID, step, time.Since(start), err)
	if err != nil {
		o.logger.Warn("链调用失败",
			slog.String("chain", chainID),
			slog.String("step", step),
			slog.Any("error", err),
		)
		var zero T
		return zero, chainError(chainID, step, err)
	}
	return value, nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
