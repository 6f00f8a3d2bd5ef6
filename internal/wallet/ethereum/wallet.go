package ethereum

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"AgentVault/internal/wallet"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/params"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to construct an EVM-backed wallet handle.
type Config struct {
	Name          string
	RPCURL        string
	PrivateKeyHex string
	ChainID       int64
}

// Wallet implements the wallet.Wallet contract on top of an EVM node.
// Balance reads use the latest block; transfers are plain value transactions
// signed with the wallet's own key.
type Wallet struct {
	name      string
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	key       *ecdsa.PrivateKey
	address   common.Address
	chainID   *big.Int
	mu        sync.Mutex
}

const transferGasLimit = 21000

// NewWallet dials the configured RPC endpoint and loads the signing key.
func NewWallet(ctx context.Context, cfg Config) (*Wallet, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}
	keyHex := strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKeyHex), "0x")
	if keyHex == "" {
		return nil, errors.New("未配置钱包私钥")
	}

	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("解析钱包私钥失败: %w", err)
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID <= 0 {
		chainID, err = eth.ChainID(ctx)
		if err != nil {
			rpcClient.Close()
			return nil, fmt.Errorf("获取链 ID 失败: %w", err)
		}
	}

	return &Wallet{
		name:      cfg.Name,
		rpcClient: rpcClient,
		eth:       eth,
		key:       key,
		address:   crypto.PubkeyToAddress(key.PublicKey),
		chainID:   chainID,
	}, nil
}

// Close releases the underlying RPC connection.
func (w *Wallet) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.eth != nil {
		w.eth.Close()
		w.eth = nil
	}
	if w.rpcClient != nil {
		w.rpcClient.Close()
		w.rpcClient = nil
	}
}

// Identifier returns the checksummed account address.
func (w *Wallet) Identifier() string {
	return w.address.Hex()
}

// Balance returns the latest-block balance converted to ether.
func (w *Wallet) Balance(ctx context.Context) (float64, error) {
	if w == nil || w.eth == nil {
		return 0, errors.New("未初始化的以太坊钱包")
	}
	wei, err := w.eth.BalanceAt(ctx, w.address, nil)
	if err != nil {
		return 0, fmt.Errorf("查询余额失败: %w", err)
	}
	return weiToEther(wei), nil
}

// Transfer signs and submits a value transaction to the destination address.
func (w *Wallet) Transfer(ctx context.Context, destination string, amount float64) (*wallet.Receipt, error) {
	if w == nil || w.eth == nil {
		return nil, errors.New("未初始化的以太坊钱包")
	}
	if !common.IsHexAddress(destination) {
		return nil, fmt.Errorf("非法的目标地址: %s", destination)
	}
	if amount <= 0 {
		return nil, errors.New("转账金额必须为正")
	}

	// 串行化 nonce 获取与发送，避免同钱包并发转账时 nonce 冲突。
	w.mu.Lock()
	defer w.mu.Unlock()

	nonce, err := w.eth.PendingNonceAt(ctx, w.address)
	if err != nil {
		return nil, fmt.Errorf("查询 nonce 失败: %w", err)
	}
	gasPrice, err := w.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询 gas 价格失败: %w", err)
	}

	to := common.HexToAddress(destination)
	tx := coretypes.NewTransaction(nonce, to, etherToWei(amount), transferGasLimit, gasPrice, nil)
	signed, err := coretypes.SignTx(tx, coretypes.NewEIP155Signer(w.chainID), w.key)
	if err != nil {
		return nil, fmt.Errorf("签名交易失败: %w", err)
	}
	if err := w.eth.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("发送交易失败: %w", err)
	}

	return &wallet.Receipt{
		TxHash:      signed.Hash().Hex(),
		From:        w.address.Hex(),
		To:          destination,
		Amount:      amount,
		SubmittedAt: time.Now().Unix(),
	}, nil
}

// PartialSign appends this wallet's secp256k1 signature over the canonical
// intent payload. The signature is opaque to callers; the coordinator only
// counts distinct signer keys.
func (w *Wallet) PartialSign(_ context.Context, intent wallet.SignedIntent) (wallet.SignedIntent, error) {
	if w == nil || w.key == nil {
		return intent, errors.New("未初始化的以太坊钱包")
	}
	payload, err := json.Marshal(intent.Intent)
	if err != nil {
		return intent, fmt.Errorf("编码转账意图失败: %w", err)
	}
	sig, err := crypto.Sign(crypto.Keccak256(payload), w.key)
	if err != nil {
		return intent, fmt.Errorf("签名转账意图失败: %w", err)
	}
	signed := intent.Clone()
	signed.Signatures[w.address.Hex()] = sig
	return signed, nil
}

// Broadcast submits the approved intent as a value transaction from this
// wallet. The intent's from-address must match the broadcasting wallet.
func (w *Wallet) Broadcast(ctx context.Context, intent wallet.SignedIntent) (*wallet.Receipt, error) {
	if w == nil || w.eth == nil {
		return nil, errors.New("未初始化的以太坊钱包")
	}
	if len(intent.Signatures) == 0 {
		return nil, errors.New("签名为空的意图不能广播")
	}
	if !strings.EqualFold(intent.Intent.From, w.address.Hex()) {
		return nil, fmt.Errorf("意图的出账地址 %s 与广播钱包不符", intent.Intent.From)
	}
	return w.Transfer(ctx, intent.Intent.To, intent.Intent.Amount)
}

func etherToWei(amount float64) *big.Int {
	wei, _ := new(big.Float).Mul(
		big.NewFloat(amount),
		new(big.Float).SetInt(big.NewInt(params.Ether)),
	).Int(nil)
	return wei
}

func weiToEther(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	ether, _ := new(big.Float).Quo(
		new(big.Float).SetInt(wei),
		new(big.Float).SetInt(big.NewInt(params.Ether)),
	).Float64()
	return ether
}

var _ wallet.Wallet = (*Wallet)(nil)
