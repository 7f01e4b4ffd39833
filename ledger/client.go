/*
	The ledger package is the bridge to the chain client that actually talks
	to the governance contract.

	Requests go out as "Key=Value" text; responses come back as plain strings,
	where a leading "ERROR:" means the contract refused.  That convention is
	decoded here, once: nothing outside this package sees a raw response.
*/
package ledger

import (
	"context"
	"strings"

	. "github.com/warpfork/go-errcat"
	"go.uber.org/zap"

	"github.com/hitchain/hit"
	"github.com/hitchain/hit/lib/log"
)

const ErrorPrefix = "ERROR:"

/*
	A ChainTransport carries one request to the chain client and returns its
	raw response.  Implementations must not retry.

	Failures to get a response at all should be `hit.ErrChainTransport`
	(or `hit.ErrCancelled` if the context ended).
*/
type ChainTransport interface {
	Deploy(ctx context.Context, data string) (string, error)
	Read(ctx context.Context, data string) (string, error)
	Write(ctx context.Context, data string) (string, error)
}

/*
	Classify a raw response.

	Anything beginning with "ERROR:" is a `hit.ErrApplicationRejection` whose
	message is exactly the remainder; anything else, including the empty
	string, is a successful value.
*/
func Classify(response string) (string, error) {
	if strings.HasPrefix(response, ErrorPrefix) {
		detail := response[len(ErrorPrefix):]
		return "", ErrorDetailed(hit.ErrApplicationRejection, detail, map[string]string{
			"detail": detail,
		})
	}
	return response, nil
}

/*
	Return the contract's own words from an application rejection,
	or the empty string for any other error.
*/
func RejectionDetail(err error) string {
	if err == nil || Category(err) != hit.ErrApplicationRejection {
		return ""
	}
	if e, ok := err.(Error); ok {
		return e.Details()["detail"]
	}
	return err.Error()
}

type Client struct {
	transport ChainTransport
	log       *zap.Logger
}

func NewClient(transport ChainTransport, logger *zap.Logger) *Client {
	return &Client{transport: transport, log: log.OrNop(logger)}
}

// Returns the new contract's address.
func (c *Client) Deploy(ctx context.Context, req DeployRequest) (string, error) {
	r, err := req.Request()
	if err != nil {
		return "", err
	}
	log.LedgerCall(c.log, "deploy", "", "")
	return c.roundTrip(ctx, "deploy", r, c.transport.Deploy)
}

func (c *Client) Read(ctx context.Context, req ReadRequest) (string, error) {
	r, err := req.Request()
	if err != nil {
		return "", err
	}
	log.LedgerCall(c.log, "read", req.FunctionName, req.ContractAddress)
	return c.roundTrip(ctx, req.FunctionName, r, c.transport.Read)
}

// Returns the transaction hash.
func (c *Client) Write(ctx context.Context, req WriteRequest) (string, error) {
	r, err := req.Request()
	if err != nil {
		return "", err
	}
	log.LedgerCall(c.log, "write", req.FunctionName, req.ContractAddress)
	return c.roundTrip(ctx, req.FunctionName, r, c.transport.Write)
}

func (c *Client) roundTrip(
	ctx context.Context,
	function string,
	r Request,
	send func(context.Context, string) (string, error),
) (string, error) {
	data, err := r.Marshal()
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", Errorf(hit.ErrCancelled, "ledger call %s cancelled: %s", function, err)
	}
	resp, err := send(ctx, data)
	if err != nil {
		switch Category(err) {
		case hit.ErrChainTransport, hit.ErrCancelled:
			return "", err
		}
		if ctx.Err() != nil {
			return "", Errorf(hit.ErrCancelled, "ledger call %s cancelled: %s", function, err)
		}
		return "", Errorf(hit.ErrChainTransport, "ledger call %s failed: %s", function, err)
	}
	value, err := Classify(resp)
	if err != nil {
		log.LedgerRejected(c.log, function, RejectionDetail(err))
		return "", err
	}
	return value, nil
}
