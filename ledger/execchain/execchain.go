/*
	The execchain transport forks an external chain client for every call.

	The child is invoked as `<bin> [args...] <deploy|read|write>`, receives the
	request text on stdin, and must print the raw response on stdout.
	A non-zero exit means the call never reached the contract; a contract
	refusal is an "ERROR:" response on a zero exit like any other value.
*/
package execchain

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	. "github.com/warpfork/go-errcat"

	"github.com/hitchain/hit"
	"github.com/hitchain/hit/ledger"
)

var _ ledger.ChainTransport = Transport{}

type Transport struct {
	Bin  string
	Args []string // prefixed before the operation name
}

func New(bin string, args ...string) Transport {
	return Transport{Bin: bin, Args: args}
}

func (t Transport) Deploy(ctx context.Context, data string) (string, error) {
	return t.call(ctx, "deploy", data)
}

func (t Transport) Read(ctx context.Context, data string) (string, error) {
	return t.call(ctx, "read", data)
}

func (t Transport) Write(ctx context.Context, data string) (string, error) {
	return t.call(ctx, "write", data)
}

func (t Transport) call(ctx context.Context, op string, data string) (string, error) {
	args := append(append([]string{}, t.Args...), op)
	cmd := exec.Command(t.Bin, args...)
	cmd.Stdin = strings.NewReader(data + "\n")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return "", Errorf(hit.ErrChainTransport, "fork chain client: failed to start: %s", err)
	}

	// React to ctx.done by signalling the child; the done channel releases
	//  the watcher when the child exits on its own.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			cmd.Process.Signal(os.Interrupt)
			select {
			case <-done:
			case <-time.After(100 * time.Millisecond):
				cmd.Process.Signal(os.Kill)
			}
		case <-done:
		}
	}()

	code, err := waitFor(cmd)
	if ctx.Err() != nil {
		return "", Errorf(hit.ErrCancelled, "chain client %s: %s", op, ctx.Err())
	}
	if err != nil {
		return "", Errorf(hit.ErrChainTransport, "%s (stderr: %q)", err, stderr.String())
	}
	if code != 0 {
		return "", ErrorDetailed(hit.ErrChainTransport, "chain client exited non-zero", map[string]string{
			"op":     op,
			"code":   strconv.Itoa(code),
			"stderr": strings.TrimSpace(stderr.String()),
		})
	}
	return strings.TrimRight(stdout.String(), "\r\n"), nil
}

func waitFor(cmd *exec.Cmd) (int, error) {
	err := cmd.Wait()
	if err == nil {
		return 0, nil
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return -1, Errorf(hit.ErrChainTransport, "fork chain client: unknown wait error: %s", err)
	}
	waitStatus, ok := exitErr.ProcessState.Sys().(syscall.WaitStatus)
	if !ok {
		return -1, Errorf(hit.ErrChainTransport, "fork chain client: unknown process state implementation %T", exitErr.ProcessState.Sys())
	}
	if waitStatus.Exited() {
		return waitStatus.ExitStatus(), nil
	} else if waitStatus.Signaled() {
		return int(waitStatus.Signal()) + 128, Errorf(hit.ErrChainTransport, "fork chain client: process killed with signal %d", waitStatus.Signal())
	} else {
		return -1, Errorf(hit.ErrChainTransport, "fork chain client: unknown process wait status (%#v)", waitStatus)
	}
}
