/*
	Picks a store implementation by the scheme of an address.
*/
package dial

import (
	"net/url"

	. "github.com/warpfork/go-errcat"

	"github.com/hitchain/hit"
	"github.com/hitchain/hit/store"
	"github.com/hitchain/hit/store/impl/kvfs"
	"github.com/hitchain/hit/store/impl/kvipfs"
)

/*
	Dial a content store.

	Supported schemes are "file" and "mem" (served by kvfs)
	and "ipfs+http" / "ipfs+https" (served by kvipfs).

	May return errors of category:

	  - `hit.ErrUsage` -- for unsupported addressses
	  - `hit.ErrStoreUnavailable` -- if the store can be ruled out up front
*/
func Dial(addr string) (store.ContentStore, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, Errorf(hit.ErrUsage, "failed to parse store URI: %s", err)
	}
	switch u.Scheme {
	case "file", "mem":
		return kvfs.NewController(addr)
	case "ipfs+http", "ipfs+https":
		return kvipfs.NewController(addr)
	case "":
		return nil, Errorf(hit.ErrUsage, "store addr %q has no scheme", addr)
	default:
		return nil, Errorf(hit.ErrUsage, "unsupported store scheme %q", u.Scheme)
	}
}
