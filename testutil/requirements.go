package testutil

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/smartystreets/goconvey/convey"
)

type ConveyRequirement struct {
	Name      string
	Predicate func() bool
}

/*
	Require that the tests are not running with the "short" flag enabled.
*/
var RequiresLongRun = ConveyRequirement{"run long tests", func() bool { return !testing.Short() }}

/*
	Require a git binary on $PATH, for tests that really merge.
*/
var RequiresGit = ConveyRequirement{"have a git binary", func() bool {
	_, err := exec.LookPath("git")
	return err == nil
}}

/*
	Require that an env var be set.

	Tests against live services use this, e.g. `RequiresEnv("HIT_TEST_IPFS_API")`
	names the ipfs node to talk to.
*/
func RequiresEnv(key string) ConveyRequirement {
	return ConveyRequirement{
		fmt.Sprintf("env %q must be set", key),
		func() bool { return os.Getenv(key) != "" },
	}
}

/*
	Wraps a GoConvey test body so it only runs when every requirement
	holds.  Otherwise the test shows up as skipped, listing which
	requirements failed.  Requirements come first, then the body,
	which is a `func()` or a `func(convey.C)`.
*/
func Requires(items ...interface{}) func(c convey.C) {
	var unmet []string
	var listing bytes.Buffer
	for _, it := range items[:len(items)-1] {
		req := it.(ConveyRequirement)
		ok := req.Predicate()
		if !ok {
			unmet = append(unmet, req.Name)
		}
		fmt.Fprintf(&listing, "requirement %q: %v\n", req.Name, ok)
	}
	body := items[len(items)-1]
	if len(unmet) > 0 {
		return func(c convey.C) {
			convey.Convey("Unmet: "+strings.Join(unmet, ", "), nil)
			c.Println()
			c.Print(listing.String())
		}
	}
	return func(c convey.C) {
		switch body := body.(type) {
		case func():
			body()
		case func(c convey.C):
			body(c)
		default:
			panic(fmt.Sprintf("Requires: last argument must be the test body, got %T", body))
		}
	}
}
