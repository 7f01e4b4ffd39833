package execchain

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/warpfork/go-errcat"

	"github.com/hitchain/hit"
	"github.com/hitchain/hit/ledger"
)

func TestExecTransport(t *testing.T) {
	// `sh -c script <op>` puts the operation name in $0.
	Convey("Forking a chain client", t, func() {
		ctx := context.Background()

		Convey("passes the operation as an argument and the request on stdin", func() {
			tr := New("sh", "-c", `read -r line; echo "$0:$line"`)
			v, err := tr.Read(ctx, "FunctionName=owner")
			So(err, ShouldBeNil)
			So(v, ShouldEqual, "read:FunctionName=owner")
		})
		Convey("classifies ERROR responses through the client", func() {
			c := ledger.NewClient(New("sh", "-c", `echo "ERROR:not owner"`), nil)
			_, err := c.Read(ctx, ledger.ReadRequest{ContractAddress: "0xc0", FunctionName: "owner"})
			So(errcat.Category(err), ShouldEqual, hit.ErrApplicationRejection)
			So(ledger.RejectionDetail(err), ShouldEqual, "not owner")
		})
		Convey("reports non-zero exits as transport failures", func() {
			_, err := New("sh", "-c", `echo boom >&2; exit 3`).Write(ctx, "x=y")
			So(errcat.Category(err), ShouldEqual, hit.ErrChainTransport)
		})
		Convey("reports a missing binary as a transport failure", func() {
			_, err := New("/nonexistent/chain-client").Deploy(ctx, "x=y")
			So(errcat.Category(err), ShouldEqual, hit.ErrChainTransport)
		})
		Convey("stops the child when the context ends", func() {
			cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()
			_, err := New("sh", "-c", `sleep 5`).Read(cctx, "x=y")
			So(errcat.Category(err), ShouldEqual, hit.ErrCancelled)
		})
	})
}
