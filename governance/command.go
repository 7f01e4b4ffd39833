/*
	The governance package exposes the repository contract as typed calls.

	Every method maps onto exactly one contract function (see the Op table),
	except the List* family, which walk a count function and an index function.
	Responses are decoded with spf13/cast; refusals come back as
	`hit.ErrApplicationRejection` from the ledger client untouched.
*/
package governance

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cast"
	. "github.com/warpfork/go-errcat"

	"github.com/hitchain/hit"
	"github.com/hitchain/hit/api"
	"github.com/hitchain/hit/ledger"
)

/*
	Credentials for calls against the contract.

	Reads only use Address (sent as FromAddress, and optional);
	mutating calls need PrivateKey and positive gas figures.
*/
type Credentials struct {
	Address    string
	PrivateKey string
	GasLimit   int64
	Gwei       int64
}

type Command struct {
	client   *ledger.Client
	contract string
	creds    Credentials
}

func New(client *ledger.Client, contract string, creds Credentials) *Command {
	return &Command{client: client, contract: contract, creds: creds}
}

func (c *Command) Contract() string { return c.contract }

/*
	Send one call: unsigned through Read, or signed through Write.

	Returns the contract's value for reads, and the transaction hash for writes.
*/
func (c *Command) Do(ctx context.Context, call Call) (string, error) {
	if err := call.Validate(); err != nil {
		return "", err
	}
	if c.contract == "" {
		return "", Errorf(hit.ErrUsage, "no contract address configured")
	}
	if !call.Op.Mutating() {
		return c.client.Read(ctx, ledger.ReadRequest{
			FromAddress:     c.creds.Address,
			ContractAddress: c.contract,
			FunctionName:    call.Op.FunctionName(),
			Args:            call.Args,
		})
	}
	return c.client.Write(ctx, ledger.WriteRequest{
		PrivateKey:      c.creds.PrivateKey,
		ContractAddress: c.contract,
		FunctionName:    call.Op.FunctionName(),
		Args:            call.Args,
		GasLimit:        c.creds.GasLimit,
		Gwei:            c.creds.Gwei,
	})
}

func (c *Command) do(ctx context.Context, op Op, args ...string) (string, error) {
	return c.Do(ctx, Call{Op: op, Args: args})
}

func (c *Command) readInt(ctx context.Context, op Op, args ...string) (int, error) {
	v, err := c.do(ctx, op, args...)
	if err != nil {
		return 0, err
	}
	n, err := ParseDecimal(v)
	if err != nil {
		return 0, Errorf(hit.ErrChainTransport, "contract function %s answered %q, expected a number", op, v)
	}
	return n, nil
}

func (c *Command) readBool(ctx context.Context, op Op, args ...string) (bool, error) {
	v, err := c.do(ctx, op, args...)
	if err != nil {
		return false, err
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return false, Errorf(hit.ErrChainTransport, "contract function %s answered %q, expected a boolean", op, v)
	}
	return b, nil
}

func (c *Command) writeAddress(ctx context.Context, op Op, addr string) (string, error) {
	if !common.IsHexAddress(addr) {
		return "", Errorf(hit.ErrUsage, "%q is not an account address", addr)
	}
	return c.do(ctx, op, addr)
}

func itoa(i int) string { return strconv.Itoa(i) }

/*
	Parse a base-10 integer, as the contract writes them and as indexes
	are typed on the command line.  A leading zero doesn't mean octal
	and no radix prefix is accepted.
*/
func ParseDecimal(s string) (int, error) {
	s = strings.TrimSpace(s)
	sign := ""
	if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		sign, s = s[:1], s[1:]
	}
	if s == "" || strings.TrimLeft(s, "0123456789") != "" {
		return 0, fmt.Errorf("%q is not a decimal number", sign+s)
	}
	if s = strings.TrimLeft(s, "0"); s == "" {
		s = "0"
	}
	return cast.ToIntE(sign + s)
}

// Role lists.

func (c *Command) ReadTypeCount(ctx context.Context, kind RoleKind) (int, error) {
	return c.readInt(ctx, OpReadTypeCount, kind.wire())
}

func (c *Command) ReadAddress(ctx context.Context, kind RoleKind, index int) (string, error) {
	return c.do(ctx, OpReadAddress, kind.wire(), itoa(index))
}

func (c *Command) ReadString(ctx context.Context, kind RoleKind, index int) (string, error) {
	return c.do(ctx, OpReadString, kind.wire(), itoa(index))
}

func (c *Command) HasAddress(ctx context.Context, kind RoleKind, addr string) (bool, error) {
	return c.readBool(ctx, OpHasAddress, kind.wire(), addr)
}

func (c *Command) ReadDisable(ctx context.Context, kind RoleKind) (bool, error) {
	return c.readBool(ctx, OpReadDisable, kind.wire())
}

func (c *Command) DisableType(ctx context.Context, kind RoleKind) (string, error) {
	return c.do(ctx, OpDisableType, kind.wire())
}

func (c *Command) AddDelegator(ctx context.Context, addr string) (string, error) {
	return c.writeAddress(ctx, OpAddDelegator, addr)
}

func (c *Command) RemoveDelegator(ctx context.Context, addr string) (string, error) {
	return c.writeAddress(ctx, OpRemoveDelegator, addr)
}

func (c *Command) AddMember(ctx context.Context, addr string) (string, error) {
	return c.writeAddress(ctx, OpAddMember, addr)
}

func (c *Command) RemoveMember(ctx context.Context, addr string) (string, error) {
	return c.writeAddress(ctx, OpRemoveMember, addr)
}

func (c *Command) AddPrMember(ctx context.Context, addr string) (string, error) {
	return c.writeAddress(ctx, OpAddPrMember, addr)
}

func (c *Command) RemovePrMember(ctx context.Context, addr string) (string, error) {
	return c.writeAddress(ctx, OpRemovePrMember, addr)
}

/*
	Register a pull request.  The argument is stored on the ledger verbatim:
	either a bare source url or an encoded pull request record
	(see ProposePullRequest).
*/
func (c *Command) AddPullRequest(ctx context.Context, url string) (string, error) {
	return c.do(ctx, OpAddPullRequest, url)
}

// Register a structured pull request record.
func (c *Command) ProposePullRequest(ctx context.Context, pr api.PullRequest) (string, error) {
	bs, err := api.MarshalJSON(pr)
	if err != nil {
		return "", Errorf(hit.ErrUsage, "cannot encode pull request: %s", err)
	}
	return c.AddPullRequest(ctx, string(bs))
}

func (c *Command) AddStarted(ctx context.Context, url string) (string, error) {
	return c.do(ctx, OpAddStarted, url)
}

func (c *Command) RemoveStarted(ctx context.Context, index int) (string, error) {
	if index < 0 {
		return "", Errorf(hit.ErrUsage, "index must not be negative")
	}
	return c.do(ctx, OpRemoveStarted, itoa(index))
}

// Rename the repository, keeping the old name in the repository list.
func (c *Command) UpdateRepository(ctx context.Context, name string) (string, error) {
	return c.do(ctx, OpUpdateRepository, name)
}

// Point the repository at a new store address, keeping the old one in the history.
func (c *Command) UpdateUrl(ctx context.Context, url string) (string, error) {
	return c.do(ctx, OpUpdateUrl, url)
}

// Repository identity.

func (c *Command) RepositoryName(ctx context.Context) (string, error) {
	return c.do(ctx, OpRepositoryName)
}

// The store address the repository's objects live at.
func (c *Command) RepositoryAddress(ctx context.Context) (string, error) {
	return c.do(ctx, OpRepositoryAddress)
}

func (c *Command) Owner(ctx context.Context) (string, error) {
	return c.do(ctx, OpOwner)
}

func (c *Command) Delegator(ctx context.Context) (string, error) {
	return c.do(ctx, OpDelegator)
}

func (c *Command) AuthedAccounts(ctx context.Context, addr string) (bool, error) {
	return c.readBool(ctx, OpAuthedAccounts, addr)
}

func (c *Command) AuthedAccountList(ctx context.Context, index int) (string, error) {
	return c.do(ctx, OpAuthedAccountList, itoa(index))
}

func (c *Command) AuthedAccountSize(ctx context.Context) (int, error) {
	return c.readInt(ctx, OpAuthedAccountSize)
}

func (c *Command) HasTeamMember(ctx context.Context, addr string) (bool, error) {
	return c.readBool(ctx, OpHasTeamMember, addr)
}

func (c *Command) TeamMemberAtIndex(ctx context.Context, index int) (string, error) {
	return c.do(ctx, OpTeamMemberAtIndex, itoa(index))
}

func (c *Command) Init(ctx context.Context, repositoryAddress, name string) (string, error) {
	return c.do(ctx, OpInit, repositoryAddress, name)
}

func (c *Command) InitWithDelegator(ctx context.Context, repositoryAddress, name, delegator string) (string, error) {
	if !common.IsHexAddress(delegator) {
		return "", Errorf(hit.ErrUsage, "%q is not an account address", delegator)
	}
	return c.do(ctx, OpInitWithDelegator, repositoryAddress, name, delegator)
}

func (c *Command) UpdateRepositoryName(ctx context.Context, name string) (string, error) {
	return c.do(ctx, OpUpdateRepositoryName, name)
}

func (c *Command) UpdateRepositoryAddress(ctx context.Context, oldAddress, newAddress string) (string, error) {
	return c.do(ctx, OpUpdateRepositoryAddress, oldAddress, newAddress)
}

func (c *Command) AddTeamMember(ctx context.Context, addr string) (string, error) {
	return c.writeAddress(ctx, OpAddTeamMember, addr)
}

func (c *Command) RemoveTeamMember(ctx context.Context, addr string) (string, error) {
	return c.writeAddress(ctx, OpRemoveTeamMember, addr)
}

func (c *Command) ChangeOwner(ctx context.Context, addr string) (string, error) {
	return c.writeAddress(ctx, OpChangeOwner, addr)
}

func (c *Command) DelegateTo(ctx context.Context, addr string) (string, error) {
	return c.writeAddress(ctx, OpDelegateTo, addr)
}

// Lists.

func (c *Command) list(count func() (int, error), at func(int) (string, error)) ([]string, error) {
	n, err := count()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, Errorf(hit.ErrChainTransport, "contract answered a negative list length (%d)", n)
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		v, err := at(i)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (c *Command) listRole(ctx context.Context, kind RoleKind, read func(context.Context, RoleKind, int) (string, error)) ([]string, error) {
	return c.list(
		func() (int, error) { return c.ReadTypeCount(ctx, kind) },
		func(i int) (string, error) { return read(ctx, kind, i) },
	)
}

func (c *Command) ListRepositories(ctx context.Context) ([]string, error) {
	return c.list(
		func() (int, error) { return c.readInt(ctx, OpRepositoryCount) },
		func(i int) (string, error) { return c.do(ctx, OpRepositoryAtIndex, itoa(i)) },
	)
}

func (c *Command) ListHistoryUrls(ctx context.Context) ([]string, error) {
	return c.list(
		func() (int, error) { return c.readInt(ctx, OpHistoryUrlCount) },
		func(i int) (string, error) { return c.do(ctx, OpHistoryUrlAtIndex, itoa(i)) },
	)
}

func (c *Command) ListDelegators(ctx context.Context) ([]string, error) {
	return c.listRole(ctx, RoleDelegator, c.ReadAddress)
}

func (c *Command) ListMembers(ctx context.Context) ([]string, error) {
	return c.listRole(ctx, RoleMember, c.ReadAddress)
}

func (c *Command) ListPrMembers(ctx context.Context) ([]string, error) {
	return c.listRole(ctx, RolePrMember, c.ReadAddress)
}

func (c *Command) ListStarted(ctx context.Context) ([]string, error) {
	return c.listRole(ctx, RoleStarted, c.ReadString)
}

func (c *Command) ListAuthoredPullRequests(ctx context.Context) ([]api.PullRequest, error) {
	return c.listPullRequests(ctx, RolePrAuth)
}

func (c *Command) ListCommunityPullRequests(ctx context.Context) ([]api.PullRequest, error) {
	return c.listPullRequests(ctx, RolePrComm)
}

// Authored pull requests first, then community ones.
func (c *Command) ListPullRequests(ctx context.Context) ([]api.PullRequest, error) {
	authored, err := c.ListAuthoredPullRequests(ctx)
	if err != nil {
		return nil, err
	}
	community, err := c.ListCommunityPullRequests(ctx)
	if err != nil {
		return nil, err
	}
	return append(authored, community...), nil
}

func (c *Command) listPullRequests(ctx context.Context, kind RoleKind) ([]api.PullRequest, error) {
	raw, err := c.listRole(ctx, kind, c.ReadString)
	if err != nil {
		return nil, err
	}
	prs := make([]api.PullRequest, len(raw))
	for i, s := range raw {
		prs[i] = DecodePullRequest(s)
	}
	return prs, nil
}
