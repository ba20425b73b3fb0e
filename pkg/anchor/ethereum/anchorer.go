// Package ethereum anchors status list digests as calldata of Ethereum
// transactions.
package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"sync"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ipfs/go-cid"

	"github.com/relves/trustkit/pkg/anchor"
	tktypes "github.com/relves/trustkit/pkg/types"
)

var _ anchor.Anchorer = (*Anchorer)(nil)

// TxClient is the subset of ethclient.Client used by the anchorer.
type TxClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
}

// Config configures an Anchorer.
type Config struct {
	Client  TxClient
	Key     *ecdsa.PrivateKey
	ChainID int64
	// To receives the anchoring transactions. Defaults to the key's own
	// address.
	To string
	// Optional: defaults to 0, suitable for gas-free subnets.
	GasPrice *big.Int
	GasLimit uint64
	Logger   *slog.Logger
}

func (c *Config) ApplyDefaults() {
	if c.GasLimit == 0 {
		c.GasLimit = 200000
	}
	if c.GasPrice == nil {
		c.GasPrice = big.NewInt(0)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Anchorer writes each digest as the data of a zero-value transaction.
// TransactionRef is the transaction hash.
type Anchorer struct {
	client   TxClient
	key      *ecdsa.PrivateKey
	from     common.Address
	to       common.Address
	chainID  *big.Int
	gasPrice *big.Int
	gasLimit uint64
	logger   *slog.Logger

	// nonces are allocated per pending transaction; serialize sends
	sendMu sync.Mutex
}

func New(cfg Config) (*Anchorer, error) {
	if cfg.Client == nil {
		return nil, errors.New("ethereum client is required")
	}
	if cfg.Key == nil {
		return nil, errors.New("signing key is required")
	}
	if cfg.ChainID <= 0 {
		return nil, errors.New("chain ID is required")
	}
	cfg.ApplyDefaults()

	from := crypto.PubkeyToAddress(cfg.Key.PublicKey)
	to := from
	if cfg.To != "" {
		if !common.IsHexAddress(cfg.To) {
			return nil, fmt.Errorf("invalid recipient address %q", cfg.To)
		}
		to = common.HexToAddress(cfg.To)
	}

	return &Anchorer{
		client:   cfg.Client,
		key:      cfg.Key,
		from:     from,
		to:       to,
		chainID:  big.NewInt(cfg.ChainID),
		gasPrice: cfg.GasPrice,
		gasLimit: cfg.GasLimit,
		logger:   cfg.Logger,
	}, nil
}

// Address returns the sending account.
func (a *Anchorer) Address() common.Address {
	return a.from
}

func (a *Anchorer) Write(ctx context.Context, digest cid.Cid, chainID string) (anchor.Receipt, error) {
	if !digest.Defined() {
		return anchor.Receipt{}, fmt.Errorf("%w: undefined digest", tktypes.ErrInvalidInput)
	}
	want := a.chainID.String()
	if chainID != "" && chainID != want {
		return anchor.Receipt{}, fmt.Errorf("%w: anchorer is bound to chain %s, not %s", tktypes.ErrInvalidInput, want, chainID)
	}

	a.sendMu.Lock()
	defer a.sendMu.Unlock()

	nonce, err := a.client.PendingNonceAt(ctx, a.from)
	if err != nil {
		return anchor.Receipt{}, fmt.Errorf("get nonce: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &a.to,
		Value:    big.NewInt(0),
		Gas:      a.gasLimit,
		GasPrice: a.gasPrice,
		Data:     digest.Bytes(),
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(a.chainID), a.key)
	if err != nil {
		return anchor.Receipt{}, fmt.Errorf("sign transaction: %w", err)
	}
	if err := a.client.SendTransaction(ctx, signed); err != nil {
		return anchor.Receipt{}, fmt.Errorf("send transaction: %w", err)
	}

	a.logger.Info("digest anchored on chain", "chainID", want, "tx", signed.Hash().Hex(), "nonce", nonce)
	return anchor.Receipt{
		ChainID:        want,
		TransactionRef: signed.Hash().Hex(),
	}, nil
}

// Read fetches the transaction and decodes its data as a digest. The
// transaction must have been sent by this anchorer's account.
func (a *Anchorer) Read(ctx context.Context, receipt anchor.Receipt) (cid.Cid, error) {
	if receipt.ChainID != "" && receipt.ChainID != a.chainID.String() {
		return cid.Undef, fmt.Errorf("%w: receipt is for chain %s", tktypes.ErrInvalidInput, receipt.ChainID)
	}
	tx, _, err := a.client.TransactionByHash(ctx, common.HexToHash(receipt.TransactionRef))
	if errors.Is(err, goethereum.NotFound) {
		return cid.Undef, fmt.Errorf("transaction %s %w", receipt.TransactionRef, tktypes.ErrNotFound)
	}
	if err != nil {
		return cid.Undef, fmt.Errorf("get transaction: %w", err)
	}

	sender, err := types.Sender(types.NewEIP155Signer(a.chainID), tx)
	if err != nil {
		return cid.Undef, fmt.Errorf("recover sender: %w", err)
	}
	if sender != a.from {
		return cid.Undef, fmt.Errorf("%w: transaction sent by %s, not %s", tktypes.ErrInvalidInput, sender.Hex(), a.from.Hex())
	}

	digest, err := cid.Cast(tx.Data())
	if err != nil {
		return cid.Undef, fmt.Errorf("decode digest from tx data: %w", err)
	}
	return digest, nil
}

// ChainRef formats a chain ID as used in receipts.
func ChainRef(chainID int64) string {
	return strconv.FormatInt(chainID, 10)
}
