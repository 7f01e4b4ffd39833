package kvfs

import (
	"io"
	"io/ioutil"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	. "github.com/warpfork/go-errcat"
	"gopkg.in/src-d/go-billy.v4"
	"gopkg.in/src-d/go-billy.v4/memfs"
	"gopkg.in/src-d/go-billy.v4/osfs"

	"github.com/hitchain/hit"
	"github.com/hitchain/hit/store"
)

var (
	_ store.ContentStore    = &Controller{}
	_ store.WriteController = &WriteController{}
)

const stagePrefix = ".tmp.upload."

type Controller struct {
	addr string // user's string retained for messages
	fs   billy.Filesystem
}

// In-memory stores are shared by name for the life of the process,
// so that "mem://x" dialed twice sees the same content.
var (
	memStoresMu sync.Mutex
	memStores   = map[string]billy.Filesystem{}
)

/*
	Initialize a new store controller that operates on a local filesystem
	("file://" addresses) or an in-memory filesystem ("mem://" addresses).

	May return errors of category:

	  - `hit.ErrUsage` -- for unsupported addressses
	  - `hit.ErrStoreUnavailable` -- if a file store's directory doesn't exist
*/
func NewController(addr string) (*Controller, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, Errorf(hit.ErrUsage, "failed to parse URI: %s", err)
	}
	switch u.Scheme {
	case "file":
		absPth, err := filepath.Abs(filepath.Join(u.Host, u.Path))
		if err != nil {
			return nil, Errorf(hit.ErrUsage, "failed to parse URI: %s", err)
		}
		// The store root may not exist yet (a push creates it), but its parent must.
		stat, err := os.Stat(filepath.Dir(absPth))
		switch {
		case os.IsNotExist(err):
			return nil, Errorf(hit.ErrStoreUnavailable, "store does not exist (%s)", err)
		case err != nil:
			return nil, Errorf(hit.ErrStoreUnavailable, "store unavailable (%s)", err)
		case !stat.IsDir():
			return nil, Errorf(hit.ErrStoreUnavailable, "store does not exist (%s is not a dir)", filepath.Dir(absPth))
		}
		return New(addr, osfs.New(absPth)), nil
	case "mem":
		name := u.Host + u.Path
		memStoresMu.Lock()
		defer memStoresMu.Unlock()
		fs, ok := memStores[name]
		if !ok {
			fs = memfs.New()
			memStores[name] = fs
		}
		return New(addr, fs), nil
	default:
		return nil, Errorf(hit.ErrUsage, "unsupported scheme in store addr: %q (valid options are 'file' or 'mem')", u.Scheme)
	}
}

// Wrap any billy filesystem as a content store.
func New(addr string, fs billy.Filesystem) *Controller {
	return &Controller{addr: addr, fs: fs}
}

func (c *Controller) String() string { return c.addr }

func (c *Controller) Get(path string) ([]byte, error) {
	path = store.CleanPath(path)
	f, err := c.fs.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		bs, err := ioutil.ReadAll(f)
		if err != nil {
			return nil, Errorf(hit.ErrStoreUnavailable, "%s could not be read from store %s: %s", path, c.addr, err)
		}
		return bs, nil
	case os.IsNotExist(err):
		return nil, Errorf(hit.ErrNotFound, "%s not found in store %s", path, c.addr)
	default:
		return nil, Errorf(hit.ErrStoreUnavailable, "%s could not be retrieved from store %s: %s", path, c.addr, err)
	}
}

func (c *Controller) Put(path string, data []byte) error {
	wc, err := c.BeginPut(path)
	if err != nil {
		return err
	}
	if _, err := wc.Write(data); err != nil {
		wc.Close()
		return Errorf(hit.ErrStoreUnwritable, "failed writing %s: %s", path, err)
	}
	return wc.Commit()
}

func (c *Controller) BeginPut(path string) (store.WriteController, error) {
	path = store.CleanPath(path)
	if path == "" {
		return nil, Errorf(hit.ErrUsage, "cannot write to the store root")
	}
	wc := &WriteController{ctrl: c, finalPath: path}
	// Stage next to the final path, so the commit is a rename within one dir.
	wc.stagePath = c.fs.Join(filepath.Dir(path), stagePrefix+filepath.Base(path)+"."+uuid.New().String())
	file, err := c.fs.OpenFile(wc.stagePath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return nil, Errorf(hit.ErrStoreUnwritable, "failed to reserve temp space in store: %s", err)
	}
	wc.stream = file
	return wc, nil
}

func (c *Controller) Delete(path string) error {
	path = store.CleanPath(path)
	err := c.fs.Remove(path)
	switch {
	case err == nil, os.IsNotExist(err):
		return nil
	default:
		return Errorf(hit.ErrStoreUnwritable, "failed to delete %s from store %s: %s", path, c.addr, err)
	}
}

func (c *Controller) List(prefix string) ([]string, error) {
	prefix = store.CleanPath(prefix)
	var names []string
	if err := c.walk(prefix, "", &names); err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (c *Controller) walk(base, rel string, names *[]string) error {
	infos, err := c.fs.ReadDir(c.fs.Join(base, rel))
	switch {
	case err == nil:
	case os.IsNotExist(err):
		return nil
	default:
		return Errorf(hit.ErrStoreUnavailable, "failed to list %s in store %s: %s", base, c.addr, err)
	}
	for _, info := range infos {
		name := info.Name()
		if strings.HasPrefix(name, stagePrefix) {
			continue
		}
		if rel != "" {
			name = rel + "/" + name
		}
		if info.IsDir() {
			if err := c.walk(base, name, names); err != nil {
				return err
			}
			continue
		}
		*names = append(*names, name)
	}
	return nil
}

type WriteController struct {
	stream    io.WriteCloser // Write to this.
	ctrl      *Controller    // Needed for the final move-into-place.
	stagePath string
	finalPath string
}

func (wc *WriteController) Write(bs []byte) (int, error) {
	return wc.stream.Write(bs)
}

/*
	Cancel the current write.  Close the stream, and remove any temporary files.
*/
func (wc *WriteController) Close() error {
	wc.stream.Close()
	return wc.ctrl.fs.Remove(wc.stagePath)
}

/*
	Commit the written data to its final path, replacing whatever was there.
	Closes the writer and invalidates any future use.
*/
func (wc *WriteController) Commit() error {
	if err := wc.stream.Close(); err != nil {
		return Errorf(hit.ErrStoreUnwritable, "failed to commit %s: %s", wc.finalPath, err)
	}
	// Rename over an existing file isn't portable across billy implementations.
	if err := wc.ctrl.fs.Remove(wc.finalPath); err != nil && !os.IsNotExist(err) {
		return Errorf(hit.ErrStoreUnwritable, "failed to commit %s: %s", wc.finalPath, err)
	}
	if err := wc.ctrl.fs.Rename(wc.stagePath, wc.finalPath); err != nil {
		return Errorf(hit.ErrStoreUnwritable, "failed to commit %s: %s", wc.finalPath, err)
	}
	return nil
}
