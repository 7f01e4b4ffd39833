/*
	The token package reads account balances straight from an ethereum
	json-rpc endpoint: ether, and the hit erc20 token.

	Balances are read-only and unsigned; nothing here needs the session.
*/
package token

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	. "github.com/warpfork/go-errcat"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/hitchain/hit"
)

// erc20 function selectors.
var (
	selectorBalanceOf = common.FromHex("0x70a08231")
	selectorDecimals  = common.FromHex("0x313ce567")
)

const EtherDecimals = 18

type Balances struct {
	client *ethclient.Client
}

/*
	May return errors of category:

	  - `hit.ErrChainTransport` -- if the endpoint can't be dialed
*/
func Dial(ctx context.Context, rpcURL string) (*Balances, error) {
	c, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, Errorf(hit.ErrChainTransport, "cannot dial %s: %s", rpcURL, err)
	}
	return &Balances{client: c}, nil
}

func (b *Balances) Close() { b.client.Close() }

func address(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, Errorf(hit.ErrUsage, "%q is not an account address", s)
	}
	return common.HexToAddress(s), nil
}

func transportErr(ctx context.Context, what string, err error) error {
	if ctx.Err() != nil {
		return Errorf(hit.ErrCancelled, "%s: %s", what, ctx.Err())
	}
	return Errorf(hit.ErrChainTransport, "%s: %s", what, err)
}

// Ether balance in wei.
func (b *Balances) Ether(ctx context.Context, account string) (*big.Int, error) {
	addr, err := address(account)
	if err != nil {
		return nil, err
	}
	v, err := b.client.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, transportErr(ctx, "balance of "+account, err)
	}
	return v, nil
}

/*
	Token balance of an account in the token's smallest unit,
	and the token's decimals.  Tokens that don't report decimals
	are assumed to use 18, like ether.
*/
func (b *Balances) ERC20(ctx context.Context, tokenContract, account string) (*big.Int, int, error) {
	tok, err := address(tokenContract)
	if err != nil {
		return nil, 0, err
	}
	addr, err := address(account)
	if err != nil {
		return nil, 0, err
	}
	data := append(append([]byte{}, selectorBalanceOf...), common.LeftPadBytes(addr.Bytes(), 32)...)
	out, err := b.client.CallContract(ctx, ethereum.CallMsg{To: &tok, Data: data}, nil)
	if err != nil {
		return nil, 0, transportErr(ctx, "token balance of "+account, err)
	}
	if len(out) == 0 {
		return nil, 0, Errorf(hit.ErrApplicationRejection, "%s is not a token contract", tokenContract)
	}
	balance := new(big.Int).SetBytes(out)

	decimals := EtherDecimals
	out, err = b.client.CallContract(ctx, ethereum.CallMsg{To: &tok, Data: selectorDecimals}, nil)
	if err == nil && len(out) > 0 {
		if d := new(big.Int).SetBytes(out); d.IsInt64() && d.Int64() <= 77 {
			decimals = int(d.Int64())
		}
	}
	return balance, decimals, nil
}

/*
	Render an amount in a token's smallest unit as a grouped decimal,
	with at most six fractional digits.  Rounds down.
*/
func Format(v *big.Int, decimals int, unit string) string {
	p := message.NewPrinter(language.English)
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(v, scale, new(big.Int))

	var wholeStr string
	if whole.IsInt64() {
		wholeStr = p.Sprintf("%d", whole.Int64())
	} else {
		wholeStr = whole.String()
	}
	fracStr := ""
	if decimals > 0 {
		fracStr = frac.String()
		fracStr = strings.Repeat("0", decimals-len(fracStr)) + fracStr
		if len(fracStr) > 6 {
			fracStr = fracStr[:6]
		}
		fracStr = strings.TrimRight(fracStr, "0")
	}
	if fracStr != "" {
		wholeStr += "." + fracStr
	}
	return wholeStr + " " + unit
}
