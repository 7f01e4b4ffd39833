package log

import (
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	Convey("Logger construction", t, func() {
		for _, format := range []string{"", FormatConsole, FormatJSON} {
			log, err := New("", format)
			So(err, ShouldBeNil)
			So(log, ShouldNotBeNil)
		}
		_, err := New("loud", FormatConsole)
		So(err, ShouldNotBeNil)
		_, err = New("info", "xml")
		So(err, ShouldNotBeNil)
	})
}

func TestHelpers(t *testing.T) {
	Convey("Lifecycle helpers emit structured fields", t, func() {
		core, logs := observer.New(zap.DebugLevel)
		log := zap.New(core)

		StoreUnavailable(log, errors.New("boom"), "mem://x", "objects/ab/cd", "read")
		LedgerRejected(log, "addMember", "not owner")
		PartialCommit(log, errors.New("disk full"), "addMember", "alice")

		entries := logs.AllUntimed()
		So(entries, ShouldHaveLength, 3)
		So(entries[0].ContextMap()["path"], ShouldEqual, "objects/ab/cd")
		So(entries[1].ContextMap()["detail"], ShouldEqual, "not owner")
		So(entries[2].Level, ShouldEqual, zap.ErrorLevel)
	})
	Convey("OrNop never returns nil", t, func() {
		So(OrNop(nil), ShouldNotBeNil)
	})
}
