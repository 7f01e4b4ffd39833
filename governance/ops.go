package governance

import (
	"strconv"

	. "github.com/warpfork/go-errcat"

	"github.com/hitchain/hit"
)

/*
	RoleKind names one of the contract's role lists.
	The numeric values are what goes over the wire.
*/
type RoleKind int

const (
	RoleDelegator RoleKind = 1 + iota
	RoleMember
	RolePrMember
	RolePrAuth
	RolePrComm
	RoleStarted
)

var roleNames = map[RoleKind]string{
	RoleDelegator: "delegator",
	RoleMember:    "member",
	RolePrMember:  "pr-member",
	RolePrAuth:    "pr-auth",
	RolePrComm:    "pr-comm",
	RoleStarted:   "started",
}

func (k RoleKind) String() string {
	if s, ok := roleNames[k]; ok {
		return s
	}
	return "RoleKind(" + strconv.Itoa(int(k)) + ")"
}

func (k RoleKind) wire() string { return strconv.Itoa(int(k)) }

func ParseRoleKind(s string) (RoleKind, error) {
	for k, name := range roleNames {
		if name == s {
			return k, nil
		}
	}
	return 0, Errorf(hit.ErrUsage, "unknown role kind %q", s)
}

/*
	Op is the closed set of contract functions this client knows how to call.
	Each has a wire name, an argument count, and is either read-only or
	state-mutating; mutating ops are always sent signed and with gas.
*/
type Op int

const (
	OpReadTypeCount Op = iota
	OpReadAddress
	OpReadString
	OpHasAddress
	OpReadDisable
	OpRepositoryName
	OpRepositoryAddress
	OpOwner
	OpDelegator
	OpAuthedAccounts
	OpAuthedAccountList
	OpAuthedAccountSize
	OpHasTeamMember
	OpTeamMemberAtIndex
	OpRepositoryCount
	OpRepositoryAtIndex
	OpHistoryUrlCount
	OpHistoryUrlAtIndex

	OpDisableType
	OpAddDelegator
	OpRemoveDelegator
	OpAddMember
	OpRemoveMember
	OpAddPrMember
	OpRemovePrMember
	OpAddPullRequest
	OpAddStarted
	OpRemoveStarted
	OpUpdateRepository
	OpUpdateUrl
	OpInit
	OpInitWithDelegator
	OpUpdateRepositoryName
	OpUpdateRepositoryAddress
	OpAddTeamMember
	OpRemoveTeamMember
	OpChangeOwner
	OpDelegateTo

	numOps
)

type opInfo struct {
	name     string
	arity    int
	mutating bool
}

var opTable = [numOps]opInfo{
	OpReadTypeCount:     {"readTypeCount", 1, false},
	OpReadAddress:       {"readAddress", 2, false},
	OpReadString:        {"readString", 2, false},
	OpHasAddress:        {"hasAddress", 2, false},
	OpReadDisable:       {"readDisable", 1, false},
	OpRepositoryName:    {"repositoryName", 0, false},
	OpRepositoryAddress: {"repositoryAddress", 0, false},
	OpOwner:             {"owner", 0, false},
	OpDelegator:         {"delegator", 0, false},
	OpAuthedAccounts:    {"authedAccounts", 1, false},
	OpAuthedAccountList: {"authedAccountList", 1, false},
	OpAuthedAccountSize: {"authedAccountSize", 0, false},
	OpHasTeamMember:     {"hasTeamMember", 1, false},
	OpTeamMemberAtIndex: {"teamMemberAtIndex", 1, false},
	OpRepositoryCount:   {"repositoryCount", 0, false},
	OpRepositoryAtIndex: {"repositoryAtIndex", 1, false},
	OpHistoryUrlCount:   {"historyUrlCount", 0, false},
	OpHistoryUrlAtIndex: {"historyUrlAtIndex", 1, false},

	OpDisableType:             {"disableType", 1, true},
	OpAddDelegator:            {"addDelegator", 1, true},
	OpRemoveDelegator:         {"removeDelegator", 1, true},
	OpAddMember:               {"addMember", 1, true},
	OpRemoveMember:            {"removeMember", 1, true},
	OpAddPrMember:             {"addPrMember", 1, true},
	OpRemovePrMember:          {"removePrMember", 1, true},
	OpAddPullRequest:          {"addPullRequest", 1, true},
	OpAddStarted:              {"addStarted", 1, true},
	OpRemoveStarted:           {"removeStarted", 1, true},
	OpUpdateRepository:        {"updateRepository", 1, true},
	OpUpdateUrl:               {"updateUrl", 1, true},
	OpInit:                    {"init", 2, true},
	OpInitWithDelegator:       {"initWithDelegator", 3, true},
	OpUpdateRepositoryName:    {"updateRepositoryName", 1, true},
	OpUpdateRepositoryAddress: {"updateRepositoryAddress", 2, true},
	OpAddTeamMember:           {"addTeamMember", 1, true},
	OpRemoveTeamMember:        {"removeTeamMember", 1, true},
	OpChangeOwner:             {"changeOwner", 1, true},
	OpDelegateTo:              {"delegateTo", 1, true},
}

func (o Op) valid() bool { return o >= 0 && o < numOps }
func (o Op) FunctionName() string { return opTable[o].name }
func (o Op) Arity() int { return opTable[o].arity }
func (o Op) Mutating() bool { return opTable[o].mutating }
func (o Op) String() string { return o.FunctionName() }

// Find an op by its wire name.
func LookupOp(functionName string) (Op, bool) {
	for i, info := range opTable {
		if info.name == functionName {
			return Op(i), true
		}
	}
	return 0, false
}

/*
	A Call is one op with its arguments, ready to be sent.
*/
type Call struct {
	Op   Op
	Args []string
}

func (c Call) Validate() error {
	if !c.Op.valid() {
		return Errorf(hit.ErrUsage, "unknown contract op %d", int(c.Op))
	}
	if len(c.Args) != c.Op.Arity() {
		return Errorf(hit.ErrUsage, "contract function %s takes %d argument(s), got %d", c.Op.FunctionName(), c.Op.Arity(), len(c.Args))
	}
	return nil
}
