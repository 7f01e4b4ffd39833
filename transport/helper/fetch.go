package helper

import (
	"context"
	"io"

	. "github.com/warpfork/go-errcat"
	"go.uber.org/zap"
	git "gopkg.in/src-d/go-git.v4"
	"gopkg.in/src-d/go-git.v4/plumbing"
	"gopkg.in/src-d/go-git.v4/plumbing/format/objfile"
	"gopkg.in/src-d/go-git.v4/plumbing/format/packfile"

	"github.com/hitchain/hit"
	"github.com/hitchain/hit/lib/log"
	"github.com/hitchain/hit/transport"
)

// "fetch <sha> <name>" batch: the wanted refs are implied by the objects we copy.
func (h *Helper) fetch(ctx context.Context, batch []string) error {
	return Fetch(ctx, h.repo, h.db, h.log)
}

/*
	Copy everything the remote has and the local repository lacks.

	Packs go through the local storage's pack writer when it has one,
	and are unpacked object by object otherwise.  Loose objects are
	decoded and stored one by one.
	Nothing is selective: a walking transport can't ask the remote what's
	reachable, and objects are immutable, so copying extras is harmless.
*/
func Fetch(ctx context.Context, repo *git.Repository, db *transport.ObjectDatabase, logger *zap.Logger) error {
	logger = log.OrNop(logger)
	packIDs, err := db.ListPacks()
	if err != nil {
		return err
	}
	for _, id := range packIDs {
		if err := ctx.Err(); err != nil {
			return Errorf(hit.ErrCancelled, "fetch cancelled: %s", err)
		}
		packPath, _ := transport.PackFiles(id)
		if err := fetchPack(repo, db, packPath); err != nil {
			return err
		}
		logger.Debug("fetched pack", zap.String("pack", id))
	}

	loose, err := db.ListLooseObjects()
	if err != nil {
		return err
	}
	for _, oid := range loose {
		if err := ctx.Err(); err != nil {
			return Errorf(hit.ErrCancelled, "fetch cancelled: %s", err)
		}
		if repo.Storer.HasEncodedObject(oid) == nil {
			continue
		}
		if err := fetchLoose(repo, db, oid); err != nil {
			return err
		}
	}
	return nil
}

func fetchPack(repo *git.Repository, db *transport.ObjectDatabase, packPath string) error {
	r, err := db.Open(packPath)
	if err != nil {
		return err
	}
	defer r.Close()
	if err := packfile.UpdateObjectStorage(repo.Storer, r); err != nil {
		return Errorf(hit.ErrStoreUnwritable, "failed to store pack %s: %s", packPath, err)
	}
	return nil
}

func fetchLoose(repo *git.Repository, db *transport.ObjectDatabase, oid plumbing.Hash) error {
	r, err := db.Open(transport.LooseObjectPath(oid))
	if err != nil {
		return err
	}
	defer r.Close()
	or, err := objfile.NewReader(r)
	if err != nil {
		return Errorf(hit.ErrStoreUnavailable, "object %s is corrupt: %s", oid, err)
	}
	defer or.Close()
	typ, size, err := or.Header()
	if err != nil {
		return Errorf(hit.ErrStoreUnavailable, "object %s is corrupt: %s", oid, err)
	}
	obj := repo.Storer.NewEncodedObject()
	obj.SetType(typ)
	obj.SetSize(size)
	w, err := obj.Writer()
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, or); err != nil {
		return Errorf(hit.ErrStoreUnavailable, "object %s is corrupt: %s", oid, err)
	}
	if err := w.Close(); err != nil {
		return Errorf(hit.ErrStoreUnavailable, "object %s is corrupt: %s", oid, err)
	}
	if obj.Hash() != oid {
		return Errorf(hit.ErrStoreUnavailable, "object %s hashes to %s", oid, obj.Hash())
	}
	if _, err := repo.Storer.SetEncodedObject(obj); err != nil {
		return Errorf(hit.ErrStoreUnwritable, "failed to store object %s locally: %s", oid, err)
	}
	return nil
}
