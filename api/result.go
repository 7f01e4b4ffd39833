package api

import (
	"fmt"

	"github.com/warpfork/go-errcat"
)

/*
	What a hit CLI command reports, for `--format=json`.

	Lines is whatever the command would have printed one per line
	in the default format.  Error is set iff the command failed.
*/
type Result struct {
	Lines []string `refmt:"lines"`
	Error *Error   `refmt:"error,omitempty"`
}

type Error struct {
	Category string            `refmt:"category"`
	Message  string            `refmt:"message"`
	Details  map[string]string `refmt:"details,omitempty"`
}

func (r *Result) SetError(err error) {
	if err == nil {
		r.Error = nil
		return
	}
	r.Error = &Error{
		Category: fmt.Sprint(errcat.Category(err)),
		Message:  err.Error(),
	}
	if e, ok := err.(errcat.Error); ok {
		r.Error.Details = e.Details()
	}
}
