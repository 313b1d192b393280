package escrow

// Role is the part a caller plays in a specific agreement.
type Role string

const (
	RoleNone   Role = ""
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// RoleOf resolves the caller against the agreement parties.
func RoleOf(a Agreement, caller AccountID) Role {
	switch {
	case caller == "":
		return RoleNone
	case caller == a.Buyer:
		return RoleBuyer
	case caller == a.Seller:
		return RoleSeller
	default:
		return RoleNone
	}
}

func requireBuyer(a Agreement, caller AccountID) error {
	if RoleOf(a, caller) != RoleBuyer {
		return ErrUnknownCaller
	}
	return nil
}

func requireParty(a Agreement, caller AccountID) (Role, error) {
	role := RoleOf(a, caller)
	if role == RoleNone {
		return RoleNone, ErrUnknownCaller
	}
	return role, nil
}
