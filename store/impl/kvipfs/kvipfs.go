/*
	The kvipfs store keeps repository files in the mutable filesystem (MFS)
	of an IPFS node, driving the node's http rpc api.

	Addresses look like "ipfs+http://127.0.0.1:5001/hit/myrepo":
	the scheme picks http or https for reaching the api,
	the host is the api listener, and the path is the MFS directory
	that acts as the store root.
*/
package kvipfs

import (
	"bytes"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/parnurzeal/gorequest"
	. "github.com/warpfork/go-errcat"

	"github.com/hitchain/hit"
	"github.com/hitchain/hit/store"
)

var (
	_ store.ContentStore    = &Controller{}
	_ store.WriteController = &WriteController{}
)

const (
	entryTypeFile = 0
	entryTypeDir  = 1
)

type Controller struct {
	addr string // user's string retained for messages
	api  string // e.g. "http://127.0.0.1:5001/api/v0"
	root string // MFS directory, always absolute
}

/*
	Initialize a new store controller talking to an IPFS node.

	No request is made until the first operation; a node that's down
	shows up as `hit.ErrStoreUnavailable` from that operation.

	May return errors of category:

	  - `hit.ErrUsage` -- for unsupported addressses
*/
func NewController(addr string) (*Controller, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, Errorf(hit.ErrUsage, "failed to parse URI: %s", err)
	}
	var proto string
	switch u.Scheme {
	case "ipfs+http":
		proto = "http"
	case "ipfs+https":
		proto = "https"
	default:
		return nil, Errorf(hit.ErrUsage, "unsupported scheme in store addr: %q (valid options are 'ipfs+http' or 'ipfs+https')", u.Scheme)
	}
	if u.Host == "" {
		return nil, Errorf(hit.ErrUsage, "store addr %q must name the ipfs api host", addr)
	}
	return &Controller{
		addr: addr,
		api:  proto + "://" + u.Host + "/api/v0",
		root: path.Clean("/" + u.Path),
	}, nil
}

func (c *Controller) String() string { return c.addr }

func (c *Controller) mfsPath(p string) string {
	return path.Join(c.root, store.CleanPath(p))
}

func (c *Controller) call(op string) *gorequest.SuperAgent {
	return gorequest.New().Post(c.api + "/files/" + op)
}

// Turn a failed rpc into a categorized error.
func (c *Controller) rpcError(resp gorequest.Response, body []byte, errs []error, p string) error {
	if len(errs) > 0 {
		return Errorf(hit.ErrStoreUnavailable, "ipfs node at %s unreachable: %s", c.addr, errs[0])
	}
	msg := strings.TrimSpace(string(body))
	if strings.Contains(msg, "does not exist") || strings.Contains(msg, "not found") {
		return Errorf(hit.ErrNotFound, "%s not found in store %s", p, c.addr)
	}
	return ErrorDetailed(hit.ErrStoreUnavailable, "ipfs node rejected request", map[string]string{
		"store":  c.addr,
		"path":   p,
		"status": resp.Status,
		"detail": msg,
	})
}

func (c *Controller) Get(p string) ([]byte, error) {
	resp, body, errs := c.call("read").Param("arg", c.mfsPath(p)).EndBytes()
	if len(errs) > 0 || resp.StatusCode != http.StatusOK {
		return nil, c.rpcError(resp, body, errs, p)
	}
	return body, nil
}

func (c *Controller) Put(p string, data []byte) error {
	if store.CleanPath(p) == "" {
		return Errorf(hit.ErrUsage, "cannot write to the store root")
	}
	resp, body, errs := c.call("write").
		Param("arg", c.mfsPath(p)).
		Param("create", "true").
		Param("parents", "true").
		Param("truncate", "true").
		Type("multipart").
		SendFile(data, path.Base(p), "file").
		EndBytes()
	if len(errs) > 0 {
		return Errorf(hit.ErrStoreUnavailable, "ipfs node at %s unreachable: %s", c.addr, errs[0])
	}
	if resp.StatusCode != http.StatusOK {
		return ErrorDetailed(hit.ErrStoreUnwritable, "ipfs node rejected write", map[string]string{
			"store":  c.addr,
			"path":   p,
			"status": resp.Status,
			"detail": strings.TrimSpace(string(body)),
		})
	}
	return nil
}

/*
	MFS writes are a single rpc, so streaming writes are buffered
	and uploaded on commit.
*/
func (c *Controller) BeginPut(p string) (store.WriteController, error) {
	if store.CleanPath(p) == "" {
		return nil, Errorf(hit.ErrUsage, "cannot write to the store root")
	}
	return &WriteController{ctrl: c, path: p}, nil
}

func (c *Controller) Delete(p string) error {
	resp, body, errs := c.call("rm").
		Param("arg", c.mfsPath(p)).
		Param("force", "true").
		EndBytes()
	if len(errs) > 0 || resp.StatusCode != http.StatusOK {
		err := c.rpcError(resp, body, errs, p)
		if Category(err) == hit.ErrNotFound {
			return nil
		}
		return err
	}
	return nil
}

type lsResponse struct {
	Entries []struct {
		Name string
		Type int
	}
}

func (c *Controller) List(prefix string) ([]string, error) {
	var names []string
	if err := c.walk(store.CleanPath(prefix), "", &names); err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (c *Controller) walk(base, rel string, names *[]string) error {
	var ls lsResponse
	resp, body, errs := c.call("ls").
		Param("arg", c.mfsPath(path.Join(base, rel))).
		Param("long", "true").
		EndStruct(&ls)
	if len(errs) > 0 || resp.StatusCode != http.StatusOK {
		err := c.rpcError(resp, body, errs, path.Join(base, rel))
		if Category(err) == hit.ErrNotFound {
			return nil
		}
		return err
	}
	for _, ent := range ls.Entries {
		name := ent.Name
		if rel != "" {
			name = rel + "/" + name
		}
		switch ent.Type {
		case entryTypeDir:
			if err := c.walk(base, name, names); err != nil {
				return err
			}
		case entryTypeFile:
			*names = append(*names, name)
		}
	}
	return nil
}

type WriteController struct {
	ctrl *Controller
	path string
	buf  bytes.Buffer
	done bool
}

func (wc *WriteController) Write(bs []byte) (int, error) {
	return wc.buf.Write(bs)
}

// Discard the buffered data.
func (wc *WriteController) Close() error {
	wc.done = true
	wc.buf.Reset()
	return nil
}

func (wc *WriteController) Commit() error {
	if wc.done {
		return Errorf(hit.ErrUsage, "write to %s already closed", wc.path)
	}
	wc.done = true
	return wc.ctrl.Put(wc.path, wc.buf.Bytes())
}
