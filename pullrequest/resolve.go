/*
	The pullrequest package finds pull requests registered on a repository's
	governance contract and applies them to a local working tree.
*/
package pullrequest

import (
	"context"

	"github.com/hitchain/hit/api"
)

/*
	The two ledger lists a pull request may be registered in.
	Satisfied by *governance.Command.
*/
type Lister interface {
	ListAuthoredPullRequests(ctx context.Context) ([]api.PullRequest, error)
	ListCommunityPullRequests(ctx context.Context) ([]api.PullRequest, error)
}

/*
	Find a pull request by exact id.

	Authored pull requests win over community ones with the same id.
	A pull request in neither list is a nil result, not an error;
	the community list is only read if the authored one has no match.
*/
func Resolve(ctx context.Context, l Lister, id string) (*api.PullRequest, error) {
	for _, list := range []func(context.Context) ([]api.PullRequest, error){
		l.ListAuthoredPullRequests,
		l.ListCommunityPullRequests,
	} {
		prs, err := list(ctx)
		if err != nil {
			return nil, err
		}
		for i := range prs {
			if prs[i].ID == id {
				return &prs[i], nil
			}
		}
	}
	return nil, nil
}

/*
	Resolve a pull request and hand it to a patcher.

	Returns nil with no error if no such pull request exists;
	there's nothing to apply and that's not a failure.
*/
func Apply(ctx context.Context, l Lister, p Patcher, id string, flags Flags) (*api.PullRequest, error) {
	pr, err := Resolve(ctx, l, id)
	if err != nil || pr == nil {
		return nil, err
	}
	return pr, p.Patch(ctx, *pr, flags)
}
