package teamkey

import (
	. "github.com/warpfork/go-errcat"

	"github.com/hitchain/hit"
	"github.com/hitchain/hit/api"
	"github.com/hitchain/hit/store"
)

// Where the metadata record lives in the repository's store.
const RecordPath = "info/hit-project.json"

/*
	Read the metadata record.  The bool is false if the repository has none yet.

	May return errors of category:

	  - `hit.ErrStoreUnavailable` -- if the store can't be reached
	  - `hit.ErrUsage` -- if the record can't be parsed
*/
func LoadRecord(s store.ContentStore) (api.ProjectInfoFile, bool, error) {
	bs, err := s.Get(RecordPath)
	switch {
	case err == nil:
	case Category(err) == hit.ErrNotFound:
		return api.ProjectInfoFile{}, false, nil
	default:
		return api.ProjectInfoFile{}, false, err
	}
	var rec api.ProjectInfoFile
	if err := api.UnmarshalJSON(bs, &rec); err != nil {
		return api.ProjectInfoFile{}, false, Errorf(hit.ErrUsage, "metadata record at %s is unparsable: %s", RecordPath, err)
	}
	return rec, true, nil
}

// Write the whole record back.
func SaveRecord(s store.ContentStore, rec api.ProjectInfoFile) error {
	if rec.Members == nil {
		rec.Members = []api.TeamInfo{}
	}
	bs, err := api.MarshalJSONPretty(rec)
	if err != nil {
		return Errorf(hit.ErrUsage, "cannot encode metadata record: %s", err)
	}
	return s.Put(RecordPath, bs)
}
