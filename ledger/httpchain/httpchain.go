/*
	The httpchain transport posts ledger requests to a chain gateway over http.

	The gateway exposes one endpoint per operation kind ("/deploy", "/read",
	"/write"), each taking the request text as a text/plain body and
	answering with the raw response string.
*/
package httpchain

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/parnurzeal/gorequest"
	. "github.com/warpfork/go-errcat"

	"github.com/hitchain/hit"
	"github.com/hitchain/hit/ledger"
)

var _ ledger.ChainTransport = &Transport{}

type Transport struct {
	gateway string
	timeout time.Duration // zero means none
}

/*
	May return errors of category:

	  - `hit.ErrUsage` -- if the gateway isn't an http(s) URL
*/
func New(gateway string, timeout time.Duration) (*Transport, error) {
	u, err := url.Parse(gateway)
	if err != nil {
		return nil, Errorf(hit.ErrUsage, "failed to parse chain gateway URI: %s", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, Errorf(hit.ErrUsage, "unsupported scheme in chain gateway: %q (valid options are 'http' or 'https')", u.Scheme)
	}
	return &Transport{gateway: strings.TrimRight(gateway, "/"), timeout: timeout}, nil
}

func (t *Transport) Deploy(ctx context.Context, data string) (string, error) {
	return t.post(ctx, "deploy", data)
}

func (t *Transport) Read(ctx context.Context, data string) (string, error) {
	return t.post(ctx, "read", data)
}

func (t *Transport) Write(ctx context.Context, data string) (string, error) {
	return t.post(ctx, "write", data)
}

func (t *Transport) post(ctx context.Context, op string, data string) (string, error) {
	agent := gorequest.New().Post(t.gateway + "/" + op).Type("text").Send(data)
	if deadline, ok := ctx.Deadline(); ok {
		agent = agent.Timeout(time.Until(deadline))
	} else if t.timeout > 0 {
		agent = agent.Timeout(t.timeout)
	}
	resp, body, errs := agent.End()
	if len(errs) > 0 {
		if ctx.Err() != nil {
			return "", Errorf(hit.ErrCancelled, "chain gateway %s: %s", op, ctx.Err())
		}
		return "", Errorf(hit.ErrChainTransport, "chain gateway %s unreachable: %s", t.gateway, errs[0])
	}
	if resp.StatusCode != http.StatusOK {
		return "", ErrorDetailed(hit.ErrChainTransport, "chain gateway answered with an http error", map[string]string{
			"gateway": t.gateway,
			"op":      op,
			"status":  resp.Status,
			"body":    strings.TrimSpace(body),
		})
	}
	return strings.TrimRight(body, "\r\n"), nil
}
