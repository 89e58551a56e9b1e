package protocol

// Kind is a request type understood by the server.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthRegister
	KindAuthLogin
	KindAuthResume
	KindAuthLogout
	KindAuthSSO
	KindWorldMeta
	KindWorldState
	KindWorldRegion
	KindWorldPatchSince
	KindActionClaim
	KindActionAttack
	KindActionBuild
	KindPing
)

var kindNames = map[Kind]string{
	KindAuthRegister:    "auth.register",
	KindAuthLogin:       "auth.login",
	KindAuthResume:      "auth.resume",
	KindAuthLogout:      "auth.logout",
	KindAuthSSO:         "auth.sso",
	KindWorldMeta:       "world.meta",
	KindWorldState:      "world.state",
	KindWorldRegion:     "world.region",
	KindWorldPatchSince: "world.patch_since",
	KindActionClaim:     "action.claim",
	KindActionAttack:    "action.attack",
	KindActionBuild:     "action.build",
	KindPing:            "ping",
}

var kindsByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, name := range kindNames {
		m[name] = k
	}
	return m
}()

// ParseKind maps a wire type to its Kind. Unrecognised types yield KindUnknown.
func ParseKind(s string) Kind {
	return kindsByName[s]
}

// String returns the wire name of k.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// RequiresAuth reports whether requests of this kind need an authenticated
// connection.
func (k Kind) RequiresAuth() bool {
	switch k {
	case KindWorldState, KindActionClaim, KindActionAttack, KindActionBuild:
		return true
	default:
		return false
	}
}
