package governance

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	. "github.com/warpfork/go-errcat"

	"github.com/hitchain/hit"
	"github.com/hitchain/hit/api"
)

const URIScheme = "hit://"

/*
	Parse a repository URI of the form "hit://<contract>.git",
	returning the contract address.

	May return errors of category:

	  - `hit.ErrUsage` -- if the string isn't a hit URI or the contract isn't an address
*/
func ParseURI(uri string) (string, error) {
	if !strings.HasPrefix(uri, URIScheme) {
		return "", Errorf(hit.ErrUsage, "%q is not a hit URI (expected %s<contract>.git)", uri, URIScheme)
	}
	contract := strings.TrimSuffix(strings.TrimSuffix(uri[len(URIScheme):], "/"), ".git")
	if !common.IsHexAddress(contract) {
		return "", Errorf(hit.ErrUsage, "%q does not name a contract address", uri)
	}
	return contract, nil
}

func FormatURI(contract string) string {
	return URIScheme + contract + ".git"
}

/*
	Look up the store address of the repository governed by this contract.

	May return errors of category:

	  - `hit.ErrNotFound` -- if the contract has no repository address yet
	  - anything the ledger client returns
*/
func (c *Command) ResolveStore(ctx context.Context) (string, error) {
	addr, err := c.RepositoryAddress(ctx)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(addr) == "" {
		return "", Errorf(hit.ErrNotFound, "contract %s has no repository address", c.contract)
	}
	return addr, nil
}

/*
	Decode a pull request as stored on the ledger.

	Structured records are json; anything else is taken as a bare source url
	with an id derived from it.
*/
func DecodePullRequest(s string) api.PullRequest {
	if strings.HasPrefix(strings.TrimSpace(s), "{") {
		var pr api.PullRequest
		if err := api.UnmarshalJSON([]byte(s), &pr); err == nil && pr.ID != "" {
			return pr
		}
	}
	return api.BarePullRequest(s)
}
