package api

/*
	This file is all serializable types used in hit:
	the repository metadata record kept alongside a repository's objects,
	and the pull request records kept on the governance ledger.
*/

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"time"

	"github.com/polydawn/refmt/obj/atlas"
)

/*
	Addresses are hex ledger account identifiers ("0x" followed by 40 hex chars).

	Comparison between addresses is case-insensitive; use `Address.Equal`.
*/
type Address string

func (a Address) Equal(b Address) bool {
	return strings.EqualFold(string(a), string(b))
}

func (a Address) String() string { return string(a) }

/*
	ProjectInfoFile is the repository metadata record.

	It is stored through the content store next to the repository's own objects,
	and holds everything needed to decide who may read a private repository:
	the repository key pair (private half wrapped for the owner) and one
	wrapped copy of the repository private key per team member.

	All key material is hex encoded.  The wrapped copies are opaque
	ciphertexts; see the teamkey package for how they're produced.
*/
type ProjectInfoFile struct {
	Owner          Address    `refmt:"owner"`
	OwnerPubKeyRsa string     `refmt:"ownerPubKeyRsa,omitempty"`
	IsPrivate      bool       `refmt:"isPrivate"`
	RepoPubKey     string     `refmt:"repoPubKey,omitempty"`
	RepoPriKey     string     `refmt:"repoPriKey,omitempty"` // encrypted for the owner
	Members        []TeamInfo `refmt:"members"`

	// Set while objects are being re-encrypted after a key change.
	// PreviousRepoPriKey is the key being replaced, encrypted for the owner;
	// empty when the objects were plaintext before.
	Resealing          bool   `refmt:"resealing,omitempty"`
	PreviousRepoPriKey string `refmt:"previousRepoPriKey,omitempty"`
}

type TeamInfo struct {
	Member           string  `refmt:"member"`
	MemberPubKeyRsa  string  `refmt:"memberPubKeyRsa"`
	MemberAddressEcc Address `refmt:"memberAddressEcc"`
	MemberRepoPriKey string  `refmt:"memberRepoPriKey,omitempty"` // encrypted for this member
}

/*
	Return the index of the member with the given name or address, or -1.
	Either identifier matching counts as a match.
*/
func (p ProjectInfoFile) FindMember(name string, addr Address) int {
	for i, m := range p.Members {
		if (name != "" && m.Member == name) || (addr != "" && m.MemberAddressEcc.Equal(addr)) {
			return i
		}
	}
	return -1
}

/*
	A pull request as registered on the governance ledger.

	Only the ID is meaningful to resolution; the rest is carried along so
	the patch can be fetched and reported.
*/
type PullRequest struct {
	ID        string    `refmt:"id"`
	SourceURL string    `refmt:"url"`
	Branch    string    `refmt:"branch,omitempty"`
	Author    Address   `refmt:"author,omitempty"`
	CreatedAt time.Time `refmt:"createdAt"`
}

/*
	Build a pull request record, deriving its ID from the other fields.

	The ID is the sha1 of the source url, branch, author and creation time,
	so two submissions of the same branch at different times stay distinct.
*/
func NewPullRequest(sourceURL, branch string, author Address, createdAt time.Time) PullRequest {
	createdAt = createdAt.UTC().Truncate(time.Second)
	h := sha1.New()
	h.Write([]byte(sourceURL + "\n" + branch + "\n" + strings.ToLower(string(author)) + "\n" + createdAt.Format(time.RFC3339)))
	return PullRequest{
		ID:        hex.EncodeToString(h.Sum(nil)),
		SourceURL: sourceURL,
		Branch:    branch,
		Author:    author,
		CreatedAt: createdAt,
	}
}

/*
	Pull requests registered by bare url (no structured record) get
	the sha1 of the url as their ID.
*/
func BarePullRequest(sourceURL string) PullRequest {
	sum := sha1.Sum([]byte(sourceURL))
	return PullRequest{
		ID:        hex.EncodeToString(sum[:]),
		SourceURL: sourceURL,
	}
}

var time_AtlasEntry = atlas.BuildEntry(time.Time{}).Transform().
	TransformMarshal(atlas.MakeMarshalTransformFunc(
		func(x time.Time) (string, error) {
			return x.UTC().Format(time.RFC3339), nil
		})).
	TransformUnmarshal(atlas.MakeUnmarshalTransformFunc(
		func(x string) (time.Time, error) {
			if x == "" {
				return time.Time{}, nil
			}
			return time.Parse(time.RFC3339, x)
		})).
	Complete()

var Atlas = atlas.MustBuild(
	atlas.BuildEntry(ProjectInfoFile{}).StructMap().Autogenerate().Complete(),
	atlas.BuildEntry(TeamInfo{}).StructMap().Autogenerate().Complete(),
	atlas.BuildEntry(PullRequest{}).StructMap().Autogenerate().Complete(),
	atlas.BuildEntry(Result{}).StructMap().Autogenerate().Complete(),
	atlas.BuildEntry(Error{}).StructMap().Autogenerate().Complete(),
	time_AtlasEntry,
)
