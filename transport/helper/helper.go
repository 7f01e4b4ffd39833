/*
	The helper package speaks git's remote-helper protocol
	(see gitremote-helpers(7)) on top of an ObjectDatabase,
	which is how `git fetch` and `git push` reach a content store:
	git runs `git-remote-hit <remote> <url>` and talks to it over stdio.

	Supported commands are "capabilities", "list", "list for-push",
	"option", "fetch", and "push".
*/
package helper

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	. "github.com/warpfork/go-errcat"
	"go.uber.org/zap"
	git "gopkg.in/src-d/go-git.v4"

	"github.com/hitchain/hit"
	"github.com/hitchain/hit/lib/log"
	"github.com/hitchain/hit/transport"
)

type Helper struct {
	db     *transport.ObjectDatabase
	repo   *git.Repository // the local repository git is running in
	log    *zap.Logger
	dryRun bool

	// Refs from the last "list", reused by push to know what the remote already has.
	// Owned by this helper; one helper serves one git process.
	refs map[string]*transport.Ref
}

func New(db *transport.ObjectDatabase, repo *git.Repository, logger *zap.Logger) *Helper {
	return &Helper{db: db, repo: repo, log: log.OrNop(logger)}
}

/*
	Serve the remote-helper protocol until git closes stdin or sends a blank line
	outside of a batch.
*/
func (h *Helper) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	r := bufio.NewReader(in)
	w := bufio.NewWriter(out)
	defer w.Flush()
	for {
		line, err := readLine(r)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		cmd, arg := splitCommand(line)
		switch cmd {
		case "":
			return nil
		case "capabilities":
			fmt.Fprint(w, "fetch\npush\noption\n\n")
		case "option":
			fmt.Fprintln(w, h.option(arg))
		case "list":
			if err := h.list(w); err != nil {
				return err
			}
		case "fetch":
			batch, err := readBatch(r, line)
			if err != nil {
				return err
			}
			if err := h.fetch(ctx, batch); err != nil {
				return err
			}
			fmt.Fprint(w, "\n")
		case "push":
			batch, err := readBatch(r, line)
			if err != nil {
				return err
			}
			if err := h.push(ctx, batch, w); err != nil {
				return err
			}
		default:
			return Errorf(hit.ErrUsage, "unsupported remote-helper command %q", cmd)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
}

func (h *Helper) option(arg string) string {
	name, value := splitCommand(arg)
	switch name {
	case "verbosity", "progress":
		return "ok"
	case "dry-run":
		h.dryRun = value == "true"
		return "ok"
	default:
		return "unsupported"
	}
}

/*
	Advertise refs.  Symbolic refs are advertised as "@<target> <name>"
	when their target exists; a dangling HEAD (fresh remote) is left out.
*/
func (h *Helper) list(w io.Writer) error {
	refs, err := h.db.ReadAdvertisedRefs()
	if err != nil {
		return err
	}
	h.refs = refs
	for name, ref := range refs {
		switch {
		case ref.IsSymbolic():
			if !ref.Resolved().IsZero() {
				fmt.Fprintf(w, "@%s %s\n", ref.Target.Name, name)
			}
		default:
			fmt.Fprintf(w, "%s %s\n", ref.ObjectID, name)
		}
	}
	fmt.Fprint(w, "\n")
	return nil
}

func (h *Helper) knownRefs() (map[string]*transport.Ref, error) {
	if h.refs != nil {
		return h.refs, nil
	}
	refs, err := h.db.ReadAdvertisedRefs()
	if err != nil {
		return nil, err
	}
	h.refs = refs
	return refs, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err == io.EOF && line != "" {
		err = nil
	}
	return strings.TrimRight(line, "\r\n"), err
}

// Collect the first line and all following lines up to a blank line.
func readBatch(r *bufio.Reader, first string) ([]string, error) {
	batch := []string{first}
	for {
		line, err := readLine(r)
		if err == io.EOF || line == "" {
			return batch, nil
		}
		if err != nil {
			return nil, err
		}
		batch = append(batch, line)
	}
}

func splitCommand(line string) (string, string) {
	ss := strings.SplitN(strings.TrimSpace(line), " ", 2)
	if len(ss) == 1 {
		return ss[0], ""
	}
	return ss[0], ss[1]
}
