package provider

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"crosschain-transfer/internal/transfer"
	"crosschain-transfer/internal/web3"
	"crosschain-transfer/internal/web3/ethereum"
)

type stubClient struct {
	account  common.Address
	balance  *big.Int
	selector uint64
	closed   bool
	err      error
}

func (s *stubClient) Account() common.Address { return s.account }

func (s *stubClient) TokenBalance(context.Context) (*big.Int, error) { return s.balance, s.err }

func (s *stubClient) NativeBalance(context.Context) (*big.Int, error) { return big.NewInt(1), s.err }

func (s *stubClient) SendToken(context.Context, common.Address, *big.Int) (common.Hash, error) {
	return common.HexToHash("0x01"), s.err
}

func (s *stubClient) SendNative(context.Context, common.Address, *big.Int) (common.Hash, error) {
	return common.HexToHash("0x02"), s.err
}

func (s *stubClient) ApproveRouter(context.Context, *big.Int) (common.Hash, error) {
	return common.HexToHash("0x03"), s.err
}

func (s *stubClient) QuoteBridgeFee(_ context.Context, selector uint64, _ common.Address, _ *big.Int) (*big.Int, error) {
	s.selector = selector
	return big.NewInt(99), s.err
}

func (s *stubClient) SubmitBridge(_ context.Context, selector uint64, _ common.Address, _, _ *big.Int) (ethereum.BridgeSubmission, error) {
	s.selector = selector
	return ethereum.BridgeSubmission{TxHash: common.HexToHash("0x04"), MessageID: common.HexToHash("0x05")}, s.err
}

func (s *stubClient) Snapshot(context.Context) (web3.ChainSnapshot, error) {
	return web3.ChainSnapshot{Chain: "stub"}, s.err
}

func (s *stubClient) Close() { s.closed = true }

func TestRegistryDispatchesByChainID(t *testing.T) {
	amoy := &stubClient{account: common.HexToAddress("0xaa"), balance: big.NewInt(10)}
	sepolia := &stubClient{account: common.HexToAddress("0xaa"), balance: big.NewInt(20)}
	reg := NewStaticRegistry(map[string]ChainClient{"polygonAmoy": amoy, "sepolia": sepolia, "nil": nil})
	ctx := context.Background()

	balance, err := reg.TokenBalance(ctx, "POLYGONAMOY")
	if err != nil || balance.Int64() != 10 {
		t.Fatalf("unexpected amoy balance %v %v", balance, err)
	}
	balance, err = reg.TokenBalance(ctx, "sepolia")
	if err != nil || balance.Int64() != 20 {
		t.Fatalf("unexpected sepolia balance %v %v", balance, err)
	}

	hash, err := reg.SendToken(ctx, "sepolia", common.Address{}, big.NewInt(1))
	if err != nil || hash != common.HexToHash("0x01").Hex() {
		t.Fatalf("unexpected send result %s %v", hash, err)
	}

	route := transfer.BridgeRoute{DestinationSelector: 77, Amount: big.NewInt(5)}
	fee, err := reg.QuoteBridgeFee(ctx, "polygonAmoy", route)
	if err != nil || fee.Int64() != 99 || amoy.selector != 77 {
		t.Fatalf("unexpected quote %v %v", fee, err)
	}
	receipt, err := reg.SubmitBridge(ctx, "polygonAmoy", route, fee)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if receipt.TxHash != common.HexToHash("0x04").Hex() || receipt.MessageID != common.HexToHash("0x05").Hex() {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if reg.Account() != common.HexToAddress("0xaa") {
		t.Fatalf("unexpected account %s", reg.Account().Hex())
	}

	if _, err := reg.TokenBalance(ctx, "marsnet"); err == nil {
		t.Fatal("expected error for unknown chain")
	}
	if _, ok := reg.Client("nil"); ok {
		t.Fatal("nil clients must be skipped")
	}

	reg.Close()
	if !amoy.closed || !sepolia.closed {
		t.Fatal("close must release every client")
	}
}

func TestRegistryPropagatesClientErrors(t *testing.T) {
	boom := errors.New("boom")
	reg := NewStaticRegistry(map[string]ChainClient{"a": &stubClient{err: boom}})
	if _, err := reg.ApproveRouter(context.Background(), "a", big.NewInt(1)); !errors.Is(err, boom) {
		t.Fatalf("expected client error, got %v", err)
	}
	if _, err := reg.SubmitBridge(context.Background(), "a", transfer.BridgeRoute{}, big.NewInt(1)); !errors.Is(err, boom) {
		t.Fatalf("expected client error, got %v", err)
	}
}

func TestParseSigningKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	raw := "0x" + common.Bytes2Hex(crypto.FromECDSA(key))
	parsed, err := ParseSigningKey(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if crypto.PubkeyToAddress(parsed.PublicKey) != crypto.PubkeyToAddress(key.PublicKey) {
		t.Fatal("parsed key does not match")
	}
	if _, err := ParseSigningKey(""); err == nil {
		t.Fatal("expected error for empty key")
	}
	_, err = ParseSigningKey("0xnotakey")
	if err == nil {
		t.Fatal("expected error for malformed key")
	}
	if got := err.Error(); got != "交易签名私钥格式无效" {
		t.Fatalf("error must not echo the key: %q", got)
	}
}
