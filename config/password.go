package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	. "github.com/warpfork/go-errcat"
	"golang.org/x/term"

	"github.com/hitchain/hit"
)

/*
	Env var consulted before prompting.  The git remote helper needs it:
	its stdin belongs to git.
*/
const PasswordEnv = "HIT_PASSWORD"

/*
	Get the config password: from $HIT_PASSWORD if set, otherwise by
	prompting on the controlling terminal with echo off.

	May return errors of category:

	  - `hit.ErrUsage` -- if there's no env var and no terminal to ask on
	  - `hit.ErrCancelled` -- if reading the terminal fails part way
*/
func ReadPassword(prompt string) ([]byte, error) {
	if pw, ok := os.LookupEnv(PasswordEnv); ok {
		return []byte(pw), nil
	}
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return nil, Errorf(hit.ErrUsage, "no terminal to prompt for the config password on; set %s", PasswordEnv)
	}
	defer tty.Close()
	return promptPassword(tty, int(tty.Fd()), prompt)
}

func promptPassword(w io.Writer, fd int, prompt string) ([]byte, error) {
	if !term.IsTerminal(fd) {
		return nil, Errorf(hit.ErrUsage, "no terminal to prompt for the config password on; set %s", PasswordEnv)
	}
	fmt.Fprint(w, prompt)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return nil, Errorf(hit.ErrCancelled, "reading password: %s", err)
	}
	return []byte(strings.TrimRight(string(pw), "\r\n")), nil
}
