package market

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	routerABIJSON = `[
 {"inputs":[{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"}],"name":"getAmountsOut","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"view","type":"function"},
 {"inputs":[{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"uint256","name":"amountOutMin","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"},{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"deadline","type":"uint256"}],"name":"swapExactTokensForTokens","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"nonpayable","type":"function"}
]`

	tokenABIJSON = `[
 {"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
 {"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
 {"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
 {"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`
)

var (
	routerABI abi.ABI
	tokenABI  abi.ABI
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(routerABIJSON))
	if err != nil {
		panic("failed to parse router ABI: " + err.Error())
	}
	routerABI = parsed

	parsed, err = abi.JSON(strings.NewReader(tokenABIJSON))
	if err != nil {
		panic("failed to parse ERC20 ABI: " + err.Error())
	}
	tokenABI = parsed
}

// PancakeOptions parameterise the AMM venue adapter.
type PancakeOptions struct {
	RPCURL        string
	RouterAddress string
	BaseToken     string
	QuoteToken    string
	WalletAddress string
	PrivateKey    string
	Slippage      decimal.Decimal
	GasLimit      uint64
	Timeout       time.Duration
}

// Pancake quotes and swaps through the PancakeSwap V2 router on BSC.
type Pancake struct {
	opts      PancakeOptions
	logger    zerolog.Logger
	router    common.Address
	baseToken common.Address
	quoteTok  common.Address

	clientMux sync.Mutex
	client    *ethclient.Client

	decMux   sync.RWMutex
	decimals map[common.Address]int32

	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
}

// NewPancake builds an AMM venue adapter. The private key is optional: quote
// and balance calls work without it, swaps require it.
func NewPancake(opts PancakeOptions, logger zerolog.Logger) (*Pancake, error) {
	if opts.RPCURL == "" {
		return nil, errors.New("bsc rpc url not configured")
	}
	if opts.RouterAddress == "" || opts.BaseToken == "" || opts.QuoteToken == "" {
		return nil, errors.New("router and token addresses required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.GasLimit == 0 {
		opts.GasLimit = 400_000
	}

	p := &Pancake{
		opts:      opts,
		logger:    logger.With().Str("component", "pancake").Logger(),
		router:    common.HexToAddress(opts.RouterAddress),
		baseToken: common.HexToAddress(opts.BaseToken),
		quoteTok:  common.HexToAddress(opts.QuoteToken),
		decimals:  map[common.Address]int32{},
	}

	if strings.TrimSpace(opts.PrivateKey) != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(opts.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse wallet key: %w", err)
		}
		p.key = key
		p.from = crypto.PubkeyToAddress(key.PublicKey)
	}

	return p, nil
}

// Name identifies the venue.
func (p *Pancake) Name() string { return "PancakeSwap" }

func (p *Pancake) getClient(ctx context.Context) (*ethclient.Client, error) {
	p.clientMux.Lock()
	defer p.clientMux.Unlock()

	if p.client != nil {
		return p.client, nil
	}

	client, err := ethclient.DialContext(ctx, p.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	p.client = client
	return client, nil
}

func (p *Pancake) tokenDecimals(ctx context.Context, token common.Address) (int32, error) {
	p.decMux.RLock()
	cached, ok := p.decimals[token]
	p.decMux.RUnlock()
	if ok {
		return cached, nil
	}

	client, err := p.getClient(ctx)
	if err != nil {
		return 0, err
	}

	payload, err := tokenABI.Pack("decimals")
	if err != nil {
		return 0, err
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: payload}, nil)
	if err != nil {
		return 0, fmt.Errorf("decimals call: %w", err)
	}
	outputs, err := tokenABI.Unpack("decimals", res)
	if err != nil {
		return 0, err
	}
	if len(outputs) != 1 {
		return 0, errors.New("unexpected decimals response")
	}
	dec, ok := outputs[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode decimals output")
	}

	p.decMux.Lock()
	p.decimals[token] = int32(dec)
	p.decMux.Unlock()
	return int32(dec), nil
}

// getAmountsOut returns the router-quoted output amount for swapping amountIn
// of the first path token into the last.
func (p *Pancake) getAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) (*big.Int, error) {
	client, err := p.getClient(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := routerABI.Pack("getAmountsOut", amountIn, path)
	if err != nil {
		return nil, err
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &p.router, Data: payload}, nil)
	if err != nil {
		return nil, fmt.Errorf("getAmountsOut call: %w", err)
	}
	outputs, err := routerABI.Unpack("getAmountsOut", res)
	if err != nil {
		return nil, err
	}
	if len(outputs) != 1 {
		return nil, errors.New("unexpected getAmountsOut response")
	}
	amounts, ok := outputs[0].([]*big.Int)
	if !ok || len(amounts) < 2 {
		return nil, errors.New("failed to decode getAmountsOut output")
	}
	return amounts[len(amounts)-1], nil
}

// Quote asks the router how much quote token a full-size base sale returns
// and derives the mid price from it. The router gives a point quote, not a
// ladder, so buy and sell prices carry a fixed synthetic slippage margin
// around the mid; the spot price is the unadjusted mid.
func (p *Pancake) Quote(ctx context.Context, size decimal.Decimal) (PriceQuote, error) {
	if size.Sign() <= 0 {
		return PriceQuote{}, fmt.Errorf("quote size must be positive, got %s", size.String())
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	baseDec, err := p.tokenDecimals(ctx, p.baseToken)
	if err != nil {
		return PriceQuote{}, err
	}
	quoteDec, err := p.tokenDecimals(ctx, p.quoteTok)
	if err != nil {
		return PriceQuote{}, err
	}

	amountIn := size.Shift(baseDec).Round(0).BigInt()
	if amountIn.Sign() <= 0 {
		return PriceQuote{}, errors.New("trade size rounds to zero base units")
	}

	out, err := p.getAmountsOut(ctx, amountIn, []common.Address{p.baseToken, p.quoteTok})
	if err != nil {
		return PriceQuote{}, err
	}
	if out.Sign() == 0 {
		return PriceQuote{}, errors.New("router quoted zero output")
	}

	spot := decimal.NewFromBigInt(out, -quoteDec).Div(size)
	one := decimal.NewFromInt(1)
	buyPrice := spot.Mul(one.Add(p.opts.Slippage))
	sellPrice := spot.Mul(one.Sub(p.opts.Slippage))

	return PriceQuote{
		Spot:        spot,
		BuyPrice:    buyPrice,
		SellPrice:   sellPrice,
		BuyCost:     buyPrice.Mul(size),
		SellRevenue: sellPrice.Mul(size),
		CapturedAt:  time.Now().UTC(),
	}, nil
}

// Balance reads wallet token balances. The pool has no locking concept, so
// locked quantities are always zero.
func (p *Pancake) Balance(ctx context.Context, quote PriceQuote) (BalanceSnapshot, error) {
	if p.opts.WalletAddress == "" {
		return BalanceSnapshot{}, errors.New("bsc wallet address not configured")
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	baseFree, err := p.tokenBalance(ctx, p.baseToken)
	if err != nil {
		return BalanceSnapshot{}, err
	}
	quoteFree, err := p.tokenBalance(ctx, p.quoteTok)
	if err != nil {
		return BalanceSnapshot{}, err
	}

	return BalanceSnapshot{
		BaseFree:       baseFree,
		QuoteFree:      quoteFree,
		BaseValueQuote: baseFree.Mul(quote.Spot),
	}, nil
}

func (p *Pancake) tokenBalance(ctx context.Context, token common.Address) (decimal.Decimal, error) {
	client, err := p.getClient(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}

	owner := common.HexToAddress(p.opts.WalletAddress)
	payload, err := tokenABI.Pack("balanceOf", owner)
	if err != nil {
		return decimal.Decimal{}, err
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: payload}, nil)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("balanceOf call: %w", err)
	}
	outputs, err := tokenABI.Unpack("balanceOf", res)
	if err != nil {
		return decimal.Decimal{}, err
	}
	amount, ok := outputs[0].(*big.Int)
	if !ok {
		return decimal.Decimal{}, errors.New("failed to decode balanceOf output")
	}

	dec, err := p.tokenDecimals(ctx, token)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromBigInt(amount, -dec), nil
}

// CreateMarketOrder swaps through the router: a sell swaps size base tokens
// into quote tokens, a buy swaps the quoted cost of size back into base.
// Returns the transaction hash as the order ID.
func (p *Pancake) CreateMarketOrder(ctx context.Context, side string, size decimal.Decimal) (string, error) {
	if p.key == nil {
		return "", errors.New("wallet private key not configured; swaps disabled")
	}
	if side != "buy" && side != "sell" {
		return "", fmt.Errorf("invalid order side %q", side)
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	quote, err := p.Quote(ctx, size)
	if err != nil {
		return "", err
	}
	balance, err := p.Balance(ctx, quote)
	if err != nil {
		return "", err
	}

	var (
		tokenIn, tokenOut common.Address
		amountIn          decimal.Decimal
		inDecimals        int32
	)
	if side == "sell" {
		tokenIn, tokenOut = p.baseToken, p.quoteTok
		amountIn = size
		if balance.BaseFree.LessThan(size) {
			return "", &InsufficientBalanceError{Asset: "base token", Have: balance.BaseFree, Need: size}
		}
	} else {
		tokenIn, tokenOut = p.quoteTok, p.baseToken
		amountIn = quote.BuyCost
		if balance.QuoteFree.LessThan(amountIn) {
			return "", &InsufficientBalanceError{Asset: "quote token", Have: balance.QuoteFree, Need: amountIn}
		}
	}

	inDecimals, err = p.tokenDecimals(ctx, tokenIn)
	if err != nil {
		return "", err
	}
	amountInWei := amountIn.Shift(inDecimals).Round(0).BigInt()

	path := []common.Address{tokenIn, tokenOut}
	quoted, err := p.getAmountsOut(ctx, amountInWei, path)
	if err != nil {
		return "", err
	}
	// Tolerate the configured slippage between quote and execution.
	minOut := decimal.NewFromBigInt(quoted, 0).Mul(decimal.NewFromInt(1).Sub(p.opts.Slippage)).Round(0).BigInt()

	if err := p.ensureAllowance(ctx, tokenIn, amountInWei); err != nil {
		return "", err
	}

	deadline := big.NewInt(time.Now().Add(5 * time.Minute).Unix())
	payload, err := routerABI.Pack("swapExactTokensForTokens", amountInWei, minOut, path, p.from, deadline)
	if err != nil {
		return "", err
	}

	hash, err := p.sendTransaction(ctx, p.router, payload)
	if err != nil {
		return "", fmt.Errorf("submit swap: %w", err)
	}

	p.logger.Info().Str("side", side).Str("size", size.String()).Str("tx", hash).Msg("swap submitted")
	return hash, nil
}

// CreateLimitOrder is unsupported: the router executes immediately at pool
// price.
func (p *Pancake) CreateLimitOrder(ctx context.Context, side string, size, price decimal.Decimal) (string, error) {
	return "", errors.New("pancakeswap does not support limit orders")
}

func (p *Pancake) ensureAllowance(ctx context.Context, token common.Address, amount *big.Int) error {
	client, err := p.getClient(ctx)
	if err != nil {
		return err
	}

	payload, err := tokenABI.Pack("allowance", p.from, p.router)
	if err != nil {
		return err
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: payload}, nil)
	if err != nil {
		return fmt.Errorf("allowance call: %w", err)
	}
	outputs, err := tokenABI.Unpack("allowance", res)
	if err != nil {
		return err
	}
	allowance, ok := outputs[0].(*big.Int)
	if !ok {
		return errors.New("failed to decode allowance output")
	}
	if allowance.Cmp(amount) >= 0 {
		return nil
	}

	approvePayload, err := tokenABI.Pack("approve", p.router, amount)
	if err != nil {
		return err
	}
	hash, err := p.sendTransaction(ctx, token, approvePayload)
	if err != nil {
		return fmt.Errorf("submit approve: %w", err)
	}
	p.logger.Info().Str("tx", hash).Msg("router allowance approved")
	return nil
}

func (p *Pancake) sendTransaction(ctx context.Context, to common.Address, payload []byte) (string, error) {
	client, err := p.getClient(ctx)
	if err != nil {
		return "", err
	}

	if p.chainID == nil {
		chainID, err := client.ChainID(ctx)
		if err != nil {
			return "", fmt.Errorf("chain id: %w", err)
		}
		p.chainID = chainID
	}

	nonce, err := client.PendingNonceAt(ctx, p.from)
	if err != nil {
		return "", fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("suggest gas price: %w", err)
	}

	tx := gethtypes.NewTransaction(nonce, to, big.NewInt(0), p.opts.GasLimit, gasPrice, payload)
	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(p.chainID), p.key)
	if err != nil {
		return "", fmt.Errorf("sign tx: %w", err)
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return "", err
	}
	return signed.Hash().Hex(), nil
}

var _ Trader = (*Pancake)(nil)
