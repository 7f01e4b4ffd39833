package helper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	. "github.com/warpfork/go-errcat"
	"go.uber.org/zap"
	git "gopkg.in/src-d/go-git.v4"
	"gopkg.in/src-d/go-git.v4/plumbing"
	"gopkg.in/src-d/go-git.v4/plumbing/format/idxfile"
	"gopkg.in/src-d/go-git.v4/plumbing/format/packfile"
	"gopkg.in/src-d/go-git.v4/plumbing/revlist"

	"github.com/hitchain/hit"
	"github.com/hitchain/hit/lib/log"
	"github.com/hitchain/hit/transport"
)

// One "[+]<src>:<dst>" push instruction.  An empty Src deletes Dst.
type RefUpdate struct {
	Src   string
	Dst   string
	Force bool
}

func ParseRefUpdate(spec string) (RefUpdate, error) {
	var u RefUpdate
	if strings.HasPrefix(spec, "+") {
		u.Force = true
		spec = spec[1:]
	}
	ss := strings.SplitN(spec, ":", 2)
	if len(ss) != 2 || ss[1] == "" {
		return u, Errorf(hit.ErrUsage, "invalid push refspec %q", spec)
	}
	u.Src, u.Dst = ss[0], ss[1]
	return u, nil
}

// Outcome of one RefUpdate.  Err is nil on success.
type RefResult struct {
	Dst string
	Err error
}

func (h *Helper) push(ctx context.Context, batch []string, w io.Writer) error {
	var updates []RefUpdate
	for _, line := range batch {
		_, spec := splitCommand(line)
		u, err := ParseRefUpdate(spec)
		if err != nil {
			return err
		}
		updates = append(updates, u)
	}
	known, err := h.knownRefs()
	if err != nil {
		return err
	}
	p := &pusher{repo: h.repo, db: h.db, log: h.log, remote: known, dryRun: h.dryRun}
	results, err := p.push(ctx, updates)
	if err != nil {
		return err
	}
	for _, res := range results {
		if res.Err != nil {
			fmt.Fprintf(w, "error %s %s\n", res.Dst, strings.Replace(res.Err.Error(), "\n", " ", -1))
		} else {
			fmt.Fprintf(w, "ok %s\n", res.Dst)
		}
	}
	fmt.Fprint(w, "\n")
	h.refs = nil // stale now
	return nil
}

/*
	Push local refs to the remote.

	Objects the remote lacks are uploaded as one pack per ref before that ref
	moves, so a ref on the remote never points at something missing.
	Per-ref refusals (non-fast-forward, unknown source) are reported in the
	results; the returned error is for failures that stop the whole push.
*/
func Push(ctx context.Context, repo *git.Repository, db *transport.ObjectDatabase, logger *zap.Logger, updates []RefUpdate) ([]RefResult, error) {
	known, err := db.ReadAdvertisedRefs()
	if err != nil {
		return nil, err
	}
	p := &pusher{repo: repo, db: db, log: log.OrNop(logger), remote: known}
	return p.push(ctx, updates)
}

type pusher struct {
	repo   *git.Repository
	db     *transport.ObjectDatabase
	log    *zap.Logger
	remote map[string]*transport.Ref
	dryRun bool

	uploaded map[plumbing.Hash]struct{} // remote loose objects, plus what we've packed
}

func (p *pusher) push(ctx context.Context, updates []RefUpdate) ([]RefResult, error) {
	if p.uploaded == nil {
		loose, err := p.db.ListLooseObjects()
		if err != nil {
			return nil, err
		}
		p.uploaded = make(map[plumbing.Hash]struct{}, len(loose))
		for _, h := range loose {
			p.uploaded[h] = struct{}{}
		}
	}
	results := make([]RefResult, 0, len(updates))
	var firstBranch string
	for _, u := range updates {
		err := p.pushOne(ctx, u)
		if err != nil && Category(err) == hit.ErrCancelled {
			return nil, err
		}
		if err != nil && Category(err) != hit.ErrUsage {
			// Store failures aren't a per-ref problem.
			return nil, err
		}
		if err == nil && u.Src != "" && firstBranch == "" && strings.HasPrefix(u.Dst, "refs/heads/") {
			firstBranch = u.Dst
		}
		results = append(results, RefResult{Dst: u.Dst, Err: err})
	}
	// A fresh remote gets a HEAD pointing at the first branch pushed to it.
	if _, ok := p.remote[transport.HEAD]; !ok && firstBranch != "" && !p.dryRun {
		if err := p.db.WriteSymbolicRef(transport.HEAD, firstBranch); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (p *pusher) pushOne(ctx context.Context, u RefUpdate) error {
	if u.Src == "" {
		if p.dryRun {
			return nil
		}
		return p.db.DeleteRef(u.Dst)
	}
	newHash, err := p.repo.ResolveRevision(plumbing.Revision(u.Src))
	if err != nil {
		return Errorf(hit.ErrUsage, "src refspec %s does not match any: %s", u.Src, err)
	}

	var ignore []plumbing.Hash
	for _, ref := range p.remote {
		if h := ref.Resolved(); !h.IsZero() && p.repo.Storer.HasEncodedObject(h) == nil {
			ignore = append(ignore, h)
		}
	}
	if old, ok := p.remote[u.Dst]; ok && !u.Force && !old.Resolved().IsZero() && old.Resolved() != *newHash {
		if err := p.checkFastForward(old.Resolved(), *newHash); err != nil {
			return err
		}
	}

	missing, err := revlist.Objects(p.repo.Storer, []plumbing.Hash{*newHash}, ignore)
	if err != nil {
		return Errorf(hit.ErrUsage, "failed to walk objects from %s: %s", u.Src, err)
	}
	if p.dryRun {
		return nil
	}
	var send []plumbing.Hash
	for _, oid := range missing {
		if _, ok := p.uploaded[oid]; !ok {
			send = append(send, oid)
		}
	}
	if err := ctx.Err(); err != nil {
		return Errorf(hit.ErrCancelled, "push cancelled: %s", err)
	}
	if len(send) > 0 {
		id, err := p.uploadPack(send)
		if err != nil {
			return err
		}
		for _, oid := range send {
			p.uploaded[oid] = struct{}{}
		}
		p.log.Debug("uploaded pack", zap.String("pack", id), zap.Int("objects", len(send)))
	}
	if err := p.db.WriteRef(u.Dst, *newHash); err != nil {
		return err
	}
	p.remote[u.Dst] = &transport.Ref{Name: u.Dst, Storage: transport.StorageLoose, ObjectID: *newHash}
	p.log.Info("pushed ref",
		zap.String("ref", u.Dst),
		zap.String("object", newHash.String()),
		zap.Int("objects", len(send)),
	)
	return nil
}

// The old value must be reachable from the new one, and known locally.
func (p *pusher) checkFastForward(old, next plumbing.Hash) error {
	if p.repo.Storer.HasEncodedObject(old) != nil {
		return Errorf(hit.ErrUsage, "fetch first: remote has %s which is not present locally", old)
	}
	reachable, err := revlist.Objects(p.repo.Storer, []plumbing.Hash{next}, nil)
	if err != nil {
		return Errorf(hit.ErrUsage, "failed to walk objects from %s: %s", next, err)
	}
	for _, h := range reachable {
		if h == old {
			return nil
		}
	}
	return Errorf(hit.ErrUsage, "non-fast-forward")
}

const packWindow = 10

/*
	Send objects to the remote as a single pack named by its checksum.

	The index is built by re-parsing the encoded pack, then committed
	after the pack, so ListPacks never offers a pack without its index.
*/
func (p *pusher) uploadPack(oids []plumbing.Hash) (string, error) {
	var pack bytes.Buffer
	sum, err := packfile.NewEncoder(&pack, p.repo.Storer, false).Encode(oids, packWindow)
	if err != nil {
		return "", Errorf(hit.ErrUsage, "failed to pack objects: %s", err)
	}
	iw := new(idxfile.Writer)
	parser, err := packfile.NewParser(packfile.NewScanner(bytes.NewReader(pack.Bytes())), iw)
	if err != nil {
		return "", Errorf(hit.ErrUsage, "failed to index pack %s: %s", sum, err)
	}
	if _, err := parser.Parse(); err != nil {
		return "", Errorf(hit.ErrUsage, "failed to index pack %s: %s", sum, err)
	}
	idx, err := iw.Index()
	if err != nil {
		return "", Errorf(hit.ErrUsage, "failed to index pack %s: %s", sum, err)
	}
	var idxBuf bytes.Buffer
	if _, err := idxfile.NewEncoder(&idxBuf).Encode(idx); err != nil {
		return "", Errorf(hit.ErrUsage, "failed to index pack %s: %s", sum, err)
	}

	id := sum.String()
	packPath, idxPath := transport.PackFiles(id)
	if err := p.stream(packPath, &pack); err != nil {
		return "", err
	}
	if err := p.stream(idxPath, &idxBuf); err != nil {
		return "", err
	}
	return id, nil
}

func (p *pusher) stream(path string, r io.Reader) error {
	wc, err := p.db.BeginWrite(path)
	if err != nil {
		return err
	}
	n, err := io.Copy(wc, r)
	if err != nil {
		wc.Close()
		return Errorf(hit.ErrStoreUnwritable, "failed to write %s: %s", path, err)
	}
	if err := wc.Commit(); err != nil {
		return err
	}
	log.ObjectTransferred(p.log, path, "write", int(n))
	return nil
}
