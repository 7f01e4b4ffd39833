package ledger

import (
	"strconv"
	"strings"

	. "github.com/warpfork/go-errcat"

	"github.com/hitchain/hit"
)

// Keys understood by the chain client.
const (
	KeyPrivateKey      = "PrivateKey"
	KeyFromAddress     = "FromAddress"
	KeyContractAddress = "ContractAddress"
	KeyFunctionName    = "FunctionName"
	KeyGasLimit        = "GasLimit"
	KeyGwei            = "Gwei"
	KeyData            = "Data"
)

// The key for the i'th call argument, counting from one.
func KeyArg(i int) string {
	return "Arg" + strconv.Itoa(i)
}

/*
	A Request is the wire form sent to the chain client:
	an ordered list of "Key=Value" lines joined by newlines.

	Keys are unique; setting a key twice replaces its value in place.
	Values may not contain newlines.
*/
type Request struct {
	fields []field
}

type field struct {
	key, value string
}

func (r *Request) Set(key, value string) *Request {
	for i := range r.fields {
		if r.fields[i].key == key {
			r.fields[i].value = value
			return r
		}
	}
	r.fields = append(r.fields, field{key, value})
	return r
}

func (r Request) Get(key string) (string, bool) {
	for _, f := range r.fields {
		if f.key == key {
			return f.value, true
		}
	}
	return "", false
}

// Keys in the order they were set.
func (r Request) Keys() []string {
	keys := make([]string, len(r.fields))
	for i, f := range r.fields {
		keys[i] = f.key
	}
	return keys
}

// The positional call arguments, Arg1 onward, stopping at the first gap.
func (r Request) Args() []string {
	var args []string
	for i := 1; ; i++ {
		v, ok := r.Get(KeyArg(i))
		if !ok {
			return args
		}
		args = append(args, v)
	}
}

func (r Request) Marshal() (string, error) {
	lines := make([]string, len(r.fields))
	for i, f := range r.fields {
		if f.key == "" || strings.ContainsAny(f.key, "=\n") {
			return "", Errorf(hit.ErrUsage, "invalid ledger request key %q", f.key)
		}
		if strings.ContainsAny(f.value, "\r\n") {
			return "", Errorf(hit.ErrUsage, "ledger request value for %s may not contain newlines", f.key)
		}
		lines[i] = f.key + "=" + f.value
	}
	return strings.Join(lines, "\n"), nil
}

/*
	Parse the wire form back into a Request.
	Blank lines are skipped; a line with no "=" is an error.
	Values keep everything after the first "=", including further "=" signs.
*/
func ParseRequest(text string) (Request, error) {
	var r Request
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		i := strings.IndexByte(line, '=')
		if i <= 0 {
			return Request{}, Errorf(hit.ErrUsage, "malformed ledger request line %q", line)
		}
		r.Set(line[:i], line[i+1:])
	}
	return r, nil
}

/*
	Deploy a new contract.  Needs a signing key and gas.
*/
type DeployRequest struct {
	PrivateKey string
	GasLimit   int64
	Gwei       int64
	Data       string
}

func (d DeployRequest) Request() (Request, error) {
	if err := requireSigning(d.PrivateKey, d.GasLimit, d.Gwei); err != nil {
		return Request{}, err
	}
	var r Request
	r.Set(KeyPrivateKey, d.PrivateKey)
	r.Set(KeyGasLimit, strconv.FormatInt(d.GasLimit, 10))
	r.Set(KeyGwei, strconv.FormatInt(d.Gwei, 10))
	if d.Data != "" {
		r.Set(KeyData, d.Data)
	}
	return r, nil
}

/*
	Call a read-only contract function.
	There's deliberately no field for a key or gas: reads are free and unsigned.
*/
type ReadRequest struct {
	FromAddress     string
	ContractAddress string
	FunctionName    string
	Args            []string
}

func (q ReadRequest) Request() (Request, error) {
	if q.ContractAddress == "" || q.FunctionName == "" {
		return Request{}, Errorf(hit.ErrUsage, "ledger read needs a contract address and function name")
	}
	var r Request
	if q.FromAddress != "" {
		r.Set(KeyFromAddress, q.FromAddress)
	}
	r.Set(KeyContractAddress, q.ContractAddress)
	r.Set(KeyFunctionName, q.FunctionName)
	for i, a := range q.Args {
		r.Set(KeyArg(i+1), a)
	}
	return r, nil
}

/*
	Call a state-mutating contract function.  Needs a signing key and gas.
*/
type WriteRequest struct {
	PrivateKey      string
	ContractAddress string
	FunctionName    string
	Args            []string
	GasLimit        int64
	Gwei            int64
}

func (w WriteRequest) Request() (Request, error) {
	if err := requireSigning(w.PrivateKey, w.GasLimit, w.Gwei); err != nil {
		return Request{}, err
	}
	if w.ContractAddress == "" || w.FunctionName == "" {
		return Request{}, Errorf(hit.ErrUsage, "ledger write needs a contract address and function name")
	}
	var r Request
	r.Set(KeyPrivateKey, w.PrivateKey)
	r.Set(KeyContractAddress, w.ContractAddress)
	r.Set(KeyFunctionName, w.FunctionName)
	for i, a := range w.Args {
		r.Set(KeyArg(i+1), a)
	}
	r.Set(KeyGasLimit, strconv.FormatInt(w.GasLimit, 10))
	r.Set(KeyGwei, strconv.FormatInt(w.Gwei, 10))
	return r, nil
}

func requireSigning(privateKey string, gasLimit, gwei int64) error {
	switch {
	case privateKey == "":
		return Errorf(hit.ErrUsage, "ledger mutation needs a signing key")
	case gasLimit <= 0:
		return Errorf(hit.ErrUsage, "ledger mutation needs a positive gas limit")
	case gwei <= 0:
		return Errorf(hit.ErrUsage, "ledger mutation needs a positive gas price")
	}
	return nil
}
