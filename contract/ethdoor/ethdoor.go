// Package ethdoor talks to a deployed SmartDoor contract over Ethereum
// JSON-RPC. Transactions go through the send endpoint; reads and
// notifications go through the fetch endpoint, which may be a WebSocket.
package ethdoor

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/weiihann/smartdoor/contract"
)

// ErrReadOnly is returned by state-changing calls when no private key is
// configured.
var ErrReadOnly = errors.New("no private key configured")

const defaultPollInterval = 2 * time.Second

// Config holds the endpoints and credentials of one caller.
type Config struct {
	SendURL         string
	FetchURL        string
	ContractAddress string
	// PrivateKey is the hex-encoded signing key. Without it the door is
	// read-only and Account must be set.
	PrivateKey string
	Account    string
	// ABIPath overrides the embedded interface descriptor.
	ABIPath string
	// PollInterval paces log polling when FetchURL is not a WebSocket.
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Client is the part of an Ethereum JSON-RPC client the door uses.
// *ethclient.Client satisfies it.
type Client interface {
	bind.ContractBackend
	bind.DeployBackend
	ethereum.ChainIDReader
	ethereum.BlockNumberReader
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Door is a contract.Door backed by go-ethereum clients.
type Door struct {
	send      Client
	fetch     Client
	closers   []func()
	address   common.Address
	from      common.Address
	key       *ecdsa.PrivateKey
	chainID   *big.Int
	abi       abi.ABI
	reader    *bind.BoundContract
	writer    *bind.BoundContract
	pollEvery time.Duration
	watching  bool
	logger    *slog.Logger
}

var _ contract.Door = (*Door)(nil)

// Dial connects both endpoints and resolves the caller's identity.
func Dial(ctx context.Context, cfg Config) (*Door, error) {
	if cfg.SendURL == "" {
		return nil, fmt.Errorf("send endpoint is required")
	}

	fetchURL := cfg.FetchURL
	if fetchURL == "" {
		fetchURL = cfg.SendURL
	}

	d, err := newDoor(cfg)
	if err != nil {
		return nil, err
	}
	d.watching = isWebSocket(fetchURL)

	send, err := ethclient.DialContext(ctx, cfg.SendURL)
	if err != nil {
		return nil, fmt.Errorf("dial send endpoint: %w", err)
	}
	d.closers = append(d.closers, send.Close)

	fetch, err := ethclient.DialContext(ctx, fetchURL)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("dial fetch endpoint: %w", err)
	}
	d.closers = append(d.closers, fetch.Close)

	if err := d.attach(ctx, send, fetch); err != nil {
		d.Close()
		return nil, err
	}

	return d, nil
}

// newDoor resolves everything in cfg that needs no network.
func newDoor(cfg Config) (*Door, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("contract address: %w", contract.ErrInvalidAddress)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	parsed, err := loadABI(cfg.ABIPath)
	if err != nil {
		return nil, err
	}

	d := &Door{
		address:   common.HexToAddress(cfg.ContractAddress),
		abi:       parsed,
		pollEvery: cfg.PollInterval,
		logger:    logger.With(slog.String("contract", cfg.ContractAddress)),
	}
	if d.pollEvery <= 0 {
		d.pollEvery = defaultPollInterval
	}

	if cfg.PrivateKey != "" {
		d.key, err = crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		d.from = crypto.PubkeyToAddress(d.key.PublicKey)
	} else {
		if !common.IsHexAddress(cfg.Account) {
			return nil, fmt.Errorf("account: %w", contract.ErrInvalidAddress)
		}
		d.from = common.HexToAddress(cfg.Account)
	}

	return d, nil
}

// attach binds d to its clients and learns the chain id transactions are
// signed for.
func (d *Door) attach(ctx context.Context, send, fetch Client) error {
	d.send = send
	d.fetch = fetch

	var err error

	d.chainID, err = send.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("query chain id: %w", err)
	}

	d.reader = bind.NewBoundContract(d.address, d.abi, fetch, fetch, fetch)
	d.writer = bind.NewBoundContract(d.address, d.abi, send, send, send)

	d.logger.InfoContext(ctx, "connected to contract",
		slog.String("account", d.from.Hex()),
		slog.String("chain_id", d.chainID.String()),
		slog.Bool("websocket", d.watching),
	)

	return nil
}

func loadABI(path string) (abi.ABI, error) {
	if path == "" {
		return contract.ABI()
	}

	f, err := os.Open(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("open abi %s: %w", path, err)
	}
	defer f.Close()

	return contract.ParseABI(f)
}

func isWebSocket(url string) bool {
	url = strings.ToLower(url)
	return strings.HasPrefix(url, "ws://") || strings.HasPrefix(url, "wss://")
}

// Close releases both RPC connections.
func (d *Door) Close() {
	for _, c := range d.closers {
		c()
	}
	d.closers = nil
}

func (d *Door) Account() string { return d.from.Hex() }

// ChainID reports the chain the send endpoint is connected to, the one
// transactions are signed for.
func (d *Door) ChainID(ctx context.Context) (uint64, error) {
	id, err := d.send.ChainID(ctx)
	if err != nil {
		return 0, err
	}

	return id.Uint64(), nil
}

func (d *Door) Balance(ctx context.Context) (*big.Int, error) {
	return d.fetch.BalanceAt(ctx, d.from, nil)
}

func (d *Door) methodKey(m contract.Method) (string, error) {
	return contract.ResolveMethod(d.abi, m)
}

func (d *Door) call(ctx context.Context, m contract.Method, args ...any) ([]any, error) {
	key, err := d.methodKey(m)
	if err != nil {
		return nil, err
	}

	var out []any
	opts := &bind.CallOpts{Context: ctx, From: d.from}
	if err := d.reader.Call(opts, &out, key, args...); err != nil {
		return nil, fmt.Errorf("call %s: %w", m, err)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("call %s: empty result", m)
	}

	return out, nil
}

func (d *Door) Role(ctx context.Context) (contract.Role, error) {
	out, err := d.call(ctx, contract.GetRole)
	if err != nil {
		return contract.RoleNull, err
	}

	return contract.Role(*abi.ConvertType(out[0], new(uint8)).(*uint8)), nil
}

func (d *Door) Authorization(ctx context.Context) (contract.Authorization, error) {
	out, err := d.call(ctx, contract.GetAuthorization)
	if err != nil {
		return contract.Authorization{}, err
	}

	return decodeAuthorization(out[0]), nil
}

func (d *Door) Accesses(ctx context.Context) ([]contract.Access, error) {
	out, err := d.call(ctx, contract.GetAccesses)
	if err != nil {
		return nil, err
	}

	return decodeAccesses(out[0]), nil
}

func (d *Door) Authorizations(ctx context.Context) ([]contract.Authorization, error) {
	out, err := d.call(ctx, contract.GetData)
	if err != nil {
		return nil, err
	}

	return decodeAuthorizations(out[0]), nil
}

func (d *Door) GuestAccesses(ctx context.Context, guest string) ([]contract.Access, error) {
	if err := contract.ValidateAddress(guest); err != nil {
		return nil, err
	}

	out, err := d.call(ctx, contract.GetGuestAccesses, common.HexToAddress(guest))
	if err != nil {
		return nil, err
	}

	return decodeAccesses(out[0]), nil
}

// callArgs converts a call's arguments to their ABI types, in the order
// the method declares them.
func callArgs(call contract.Call) []any {
	params := call.Method.Spec().Params
	args := make([]any, 0, len(params))

	for _, p := range params {
		switch p {
		case contract.ParamName:
			args = append(args, call.Name)
		case contract.ParamGuest:
			args = append(args, common.HexToAddress(call.Guest))
		}
	}

	return args
}

func (d *Door) transact(ctx context.Context, opts contract.TxOpts, call contract.Call) (contract.Tx, error) {
	if d.key == nil {
		return nil, ErrReadOnly
	}

	if err := call.Validate(); err != nil {
		return nil, err
	}

	key, err := d.methodKey(call.Method)
	if err != nil {
		return nil, err
	}

	auth, err := bind.NewKeyedTransactorWithChainID(d.key, d.chainID)
	if err != nil {
		return nil, fmt.Errorf("build transactor: %w", err)
	}
	auth.Context = ctx
	auth.GasLimit = opts.GasLimit
	auth.GasPrice = opts.GasPrice

	tx, err := d.writer.Transact(auth, key, callArgs(call)...)
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", call.Method, err)
	}

	d.logger.DebugContext(ctx, "transaction sent",
		slog.String("method", call.Method.String()),
		slog.String("tx", tx.Hash().Hex()),
	)

	return &pendingTx{tx: tx, backend: d.send}, nil
}

func (d *Door) RequestAuthorization(ctx context.Context, opts contract.TxOpts, name string) (contract.Tx, error) {
	return d.transact(ctx, opts, contract.Call{Method: contract.RequestAuthorization, Name: name})
}

func (d *Door) CreateAuthorization(ctx context.Context, opts contract.TxOpts, name, guest string) (contract.Tx, error) {
	return d.transact(ctx, opts, contract.Call{Method: contract.CreateAuthorization, Name: name, Guest: guest})
}

func (d *Door) AcceptAuthorization(ctx context.Context, opts contract.TxOpts, guest string) (contract.Tx, error) {
	return d.transact(ctx, opts, contract.Call{Method: contract.AcceptAuthorization, Guest: guest})
}

func (d *Door) RejectAuthorization(ctx context.Context, opts contract.TxOpts, guest string) (contract.Tx, error) {
	return d.transact(ctx, opts, contract.Call{Method: contract.RejectAuthorization, Guest: guest})
}

func (d *Door) AccessDoor(ctx context.Context, opts contract.TxOpts) (contract.Tx, error) {
	return d.transact(ctx, opts, contract.Call{Method: contract.AccessDoor})
}

func (d *Door) Reset(ctx context.Context, opts contract.TxOpts) (contract.Tx, error) {
	return d.transact(ctx, opts, contract.Call{Method: contract.Reset})
}

// EstimateGas asks the send endpoint how much gas call would consume.
func (d *Door) EstimateGas(ctx context.Context, call contract.Call) (uint64, error) {
	if err := call.Validate(); err != nil {
		return 0, err
	}

	key, err := d.methodKey(call.Method)
	if err != nil {
		return 0, err
	}

	data, err := d.abi.Pack(key, callArgs(call)...)
	if err != nil {
		return 0, fmt.Errorf("pack %s: %w", call.Method, err)
	}

	gas, err := d.send.EstimateGas(ctx, ethereum.CallMsg{
		From: d.from,
		To:   &d.address,
		Data: data,
	})
	if err != nil {
		return 0, fmt.Errorf("estimate %s: %w", call.Method, err)
	}

	return gas, nil
}

type pendingTx struct {
	tx      *types.Transaction
	backend bind.DeployBackend
}

func (p *pendingTx) Hash() string { return p.tx.Hash().Hex() }

func (p *pendingTx) Wait(ctx context.Context) error {
	receipt, err := bind.WaitMined(ctx, p.backend, p.tx)
	if err != nil {
		return fmt.Errorf("wait %s: %w", p.Hash(), err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: %s in block %s",
			contract.ErrReverted, p.Hash(), receipt.BlockNumber)
	}

	return nil
}
