/*
	Package ledgertest is an in-memory governance contract speaking the real
	ledger wire format, for tests of everything that sits on a ledger client.

	It recovers the sender of signed calls from the PrivateKey field,
	enforces ownership on mutations, and answers refusals with "ERROR:"
	responses the way a deployed contract would.  Role lists are keyed by
	their numeric role code.
*/
package ledgertest

import (
	"context"
	"math/big"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/hitchain/hit/ledger"
)

// Role codes as the contract numbers them.
const (
	roleDelegator = 1
	roleMember    = 2
	rolePrMember  = 3
	rolePrAuth    = 4
	rolePrComm    = 5
	roleStarted   = 6
)

var _ ledger.ChainTransport = &Chain{}

type Contract struct {
	Address      string
	Owner        string
	Delegator    string
	Name         string
	URL          string
	Repositories []string
	HistoryURLs  []string
	Lists        map[int][]string
	Disabled     map[int]bool
}

// One call as the chain saw it.
type Call struct {
	Kind     string // "deploy", "read", or "write"
	Function string
	From     string // recovered sender; empty for reads
	Args     []string
}

type Chain struct {
	mu        sync.Mutex
	contracts map[string]*Contract
	deployed  int
	txs       int
	failure   error
	rejects   map[string]string

	Calls []Call
}

func NewChain() *Chain {
	return &Chain{
		contracts: map[string]*Contract{},
		rejects:   map[string]string{},
	}
}

/*
	Make the next round-trip fail at the transport level with the given error
	instead of reaching the contract.
*/
func (c *Chain) FailNext(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failure = err
}

// Make every call to the function answer "ERROR:<detail>".
func (c *Chain) Reject(function, detail string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejects[function] = detail
}

func (c *Chain) Contract(addr string) *Contract {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.contracts[strings.ToLower(addr)]
}

// Count recorded calls to a function.
func (c *Chain) CallCount(function string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.Calls {
		if call.Function == function {
			n++
		}
	}
	return n
}

/*
	Deploy a contract directly, owned by the given address, skipping the wire.
	Handy for fixtures.
*/
func (c *Chain) Install(owner string) *Contract {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.install(owner)
}

func (c *Chain) install(owner string) *Contract {
	c.deployed++
	addr := common.BigToAddress(big.NewInt(int64(0xc0de0000 + c.deployed))).Hex()
	ct := &Contract{
		Address:  addr,
		Owner:    owner,
		Lists:    map[int][]string{},
		Disabled: map[int]bool{},
	}
	c.contracts[strings.ToLower(addr)] = ct
	return ct
}

func (c *Chain) Deploy(ctx context.Context, data string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, err := c.begin(ctx, data)
	if err != nil {
		return "", err
	}
	from, resp := sender(req)
	c.Calls = append(c.Calls, Call{Kind: "deploy", From: from})
	if resp != "" {
		return resp, nil
	}
	return c.install(from).Address, nil
}

func (c *Chain) Read(ctx context.Context, data string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, err := c.begin(ctx, data)
	if err != nil {
		return "", err
	}
	fn, _ := req.Get(ledger.KeyFunctionName)
	args := req.Args()
	c.Calls = append(c.Calls, Call{Kind: "read", Function: fn, Args: args})
	if _, signed := req.Get(ledger.KeyPrivateKey); signed {
		return "ERROR:reads are unsigned", nil
	}
	if detail, ok := c.rejects[fn]; ok {
		return ledger.ErrorPrefix + detail, nil
	}
	ct, resp := c.lookup(req)
	if resp != "" {
		return resp, nil
	}
	return ct.read(fn, args), nil
}

func (c *Chain) Write(ctx context.Context, data string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, err := c.begin(ctx, data)
	if err != nil {
		return "", err
	}
	fn, _ := req.Get(ledger.KeyFunctionName)
	args := req.Args()
	from, resp := sender(req)
	c.Calls = append(c.Calls, Call{Kind: "write", Function: fn, From: from, Args: args})
	if resp != "" {
		return resp, nil
	}
	for _, k := range []string{ledger.KeyGasLimit, ledger.KeyGwei} {
		if v, _ := req.Get(k); v == "" || v == "0" {
			return "ERROR:missing " + k, nil
		}
	}
	if detail, ok := c.rejects[fn]; ok {
		return ledger.ErrorPrefix + detail, nil
	}
	ct, resp := c.lookup(req)
	if resp != "" {
		return resp, nil
	}
	if resp := ct.write(from, fn, args); resp != "" {
		return resp, nil
	}
	c.txs++
	return crypto.Keccak256Hash([]byte(data), []byte(strconv.Itoa(c.txs))).Hex(), nil
}

func (c *Chain) begin(ctx context.Context, data string) (ledger.Request, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Request{}, err
	}
	if c.failure != nil {
		err := c.failure
		c.failure = nil
		return ledger.Request{}, err
	}
	return ledger.ParseRequest(data)
}

func (c *Chain) lookup(req ledger.Request) (*Contract, string) {
	addr, _ := req.Get(ledger.KeyContractAddress)
	ct, ok := c.contracts[strings.ToLower(addr)]
	if !ok {
		return nil, "ERROR:no contract at " + addr
	}
	return ct, ""
}

func sender(req ledger.Request) (string, string) {
	hexKey, _ := req.Get(ledger.KeyPrivateKey)
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return "", "ERROR:invalid private key"
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), ""
}

func (ct *Contract) read(fn string, args []string) string {
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}
	switch fn {
	case "repositoryName":
		return ct.Name
	case "repositoryAddress":
		return ct.URL
	case "owner":
		return ct.Owner
	case "delegator":
		return ct.Delegator
	case "readTypeCount":
		kind, ok := roleArg(arg(0))
		if !ok {
			return "ERROR:unknown type"
		}
		return strconv.Itoa(len(ct.Lists[kind]))
	case "readAddress", "readString":
		kind, ok := roleArg(arg(0))
		if !ok {
			return "ERROR:unknown type"
		}
		return index(ct.Lists[kind], arg(1))
	case "hasAddress":
		kind, ok := roleArg(arg(0))
		if !ok {
			return "ERROR:unknown type"
		}
		return strconv.FormatBool(contains(ct.Lists[kind], arg(1)))
	case "readDisable":
		kind, ok := roleArg(arg(0))
		if !ok {
			return "ERROR:unknown type"
		}
		return strconv.FormatBool(ct.Disabled[kind])
	case "authedAccounts":
		return strconv.FormatBool(contains(ct.Lists[roleDelegator], arg(0)))
	case "authedAccountList":
		return index(ct.Lists[roleDelegator], arg(0))
	case "authedAccountSize":
		return strconv.Itoa(len(ct.Lists[roleDelegator]))
	case "hasTeamMember":
		return strconv.FormatBool(contains(ct.Lists[roleMember], arg(0)))
	case "teamMemberAtIndex":
		return index(ct.Lists[roleMember], arg(0))
	case "repositoryCount":
		return strconv.Itoa(len(ct.Repositories))
	case "repositoryAtIndex":
		return index(ct.Repositories, arg(0))
	case "historyUrlCount":
		return strconv.Itoa(len(ct.HistoryURLs))
	case "historyUrlAtIndex":
		return index(ct.HistoryURLs, arg(0))
	}
	return "ERROR:unknown function " + fn
}

func (ct *Contract) write(from, fn string, args []string) string {
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}
	// Anyone may propose a pull request or star a repository.
	switch fn {
	case "addPullRequest":
		kind := rolePrComm
		if ct.authorized(from) || contains(ct.Lists[roleMember], from) || contains(ct.Lists[rolePrMember], from) {
			kind = rolePrAuth
		}
		return ct.add(kind, arg(0))
	case "addStarted":
		return ct.add(roleStarted, arg(0))
	}
	if !ct.authorized(from) {
		return "ERROR:not owner"
	}
	switch fn {
	case "init", "initWithDelegator":
		if ct.Name != "" {
			return "ERROR:already initialized"
		}
		ct.URL, ct.Name = arg(0), arg(1)
		ct.Repositories = append(ct.Repositories, arg(1))
		if fn == "initWithDelegator" {
			ct.Delegator = arg(2)
		}
	case "updateRepository":
		ct.Name = arg(0)
		ct.Repositories = append(ct.Repositories, arg(0))
	case "updateRepositoryName":
		ct.Name = arg(0)
	case "updateUrl":
		if ct.URL != "" {
			ct.HistoryURLs = append(ct.HistoryURLs, ct.URL)
		}
		ct.URL = arg(0)
	case "updateRepositoryAddress":
		if !strings.EqualFold(ct.URL, arg(0)) {
			return "ERROR:address mismatch"
		}
		if ct.URL != "" {
			ct.HistoryURLs = append(ct.HistoryURLs, ct.URL)
		}
		ct.URL = arg(1)
	case "changeOwner":
		if !common.IsHexAddress(arg(0)) {
			return "ERROR:invalid address"
		}
		ct.Owner = arg(0)
	case "delegateTo":
		if !common.IsHexAddress(arg(0)) {
			return "ERROR:invalid address"
		}
		ct.Delegator = arg(0)
		if !contains(ct.Lists[roleDelegator], arg(0)) {
			ct.Lists[roleDelegator] = append(ct.Lists[roleDelegator], arg(0))
		}
	case "addDelegator":
		return ct.addAddress(roleDelegator, arg(0))
	case "removeDelegator":
		return ct.remove(roleDelegator, arg(0))
	case "addMember", "addTeamMember":
		return ct.addAddress(roleMember, arg(0))
	case "removeMember", "removeTeamMember":
		return ct.remove(roleMember, arg(0))
	case "addPrMember":
		return ct.addAddress(rolePrMember, arg(0))
	case "removePrMember":
		return ct.remove(rolePrMember, arg(0))
	case "removeStarted":
		i, err := strconv.Atoi(arg(0))
		list := ct.Lists[roleStarted]
		if err != nil || i < 0 || i >= len(list) {
			return "ERROR:index out of range"
		}
		ct.Lists[roleStarted] = append(list[:i:i], list[i+1:]...)
	case "disableType":
		kind, ok := roleArg(arg(0))
		if !ok {
			return "ERROR:unknown type"
		}
		ct.Disabled[kind] = true
	default:
		return "ERROR:unknown function " + fn
	}
	return ""
}

func (ct *Contract) authorized(from string) bool {
	return strings.EqualFold(from, ct.Owner) ||
		(ct.Delegator != "" && strings.EqualFold(from, ct.Delegator)) ||
		contains(ct.Lists[roleDelegator], from)
}

func (ct *Contract) addAddress(kind int, addr string) string {
	if !common.IsHexAddress(addr) {
		return "ERROR:invalid address"
	}
	return ct.add(kind, addr)
}

func (ct *Contract) add(kind int, v string) string {
	if ct.Disabled[kind] {
		return "ERROR:disabled"
	}
	if v == "" {
		return "ERROR:empty value"
	}
	if contains(ct.Lists[kind], v) {
		return "ERROR:already exists"
	}
	ct.Lists[kind] = append(ct.Lists[kind], v)
	return ""
}

func (ct *Contract) remove(kind int, v string) string {
	list := ct.Lists[kind]
	for i, have := range list {
		if strings.EqualFold(have, v) {
			ct.Lists[kind] = append(list[:i:i], list[i+1:]...)
			return ""
		}
	}
	return "ERROR:not exists"
}

func roleArg(s string) (int, bool) {
	kind, err := strconv.Atoi(s)
	if err != nil || kind < roleDelegator || kind > roleStarted {
		return 0, false
	}
	return kind, true
}

func index(list []string, s string) string {
	i, err := strconv.Atoi(s)
	if err != nil || i < 0 || i >= len(list) {
		return "ERROR:index out of range"
	}
	return list[i]
}

func contains(list []string, v string) bool {
	for _, have := range list {
		if strings.EqualFold(have, v) {
			return true
		}
	}
	return false
}
