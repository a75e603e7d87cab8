// Package role determines which side of an escrow agreement an address is
// on. The same resolution backs both the ledger's fill authorization and the
// projection layer's display attribution, so the two can never disagree.
package role

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

type Role string

const (
	Creator   Role = "creator"
	Depositor Role = "depositor"
	None      Role = "none"
)

// Parse validates a stored role label.
func Parse(s string) (Role, error) {
	switch Role(s) {
	case Creator, Depositor, None:
		return Role(s), nil
	default:
		return "", fmt.Errorf("role: unknown role %q", s)
	}
}

// Resolve reports the role the caller holds on an agreement. A nil depositor
// is the open slot: any non-creator caller is a prospective depositor until
// the agreement is filled. Addresses are canonical 20-byte values, so the
// comparison is case-insensitive with respect to their hex encodings.
func Resolve(creator common.Address, depositor *common.Address, caller common.Address) Role {
	if caller == creator {
		return Creator
	}
	if depositor == nil {
		return Depositor
	}
	if caller == *depositor {
		return Depositor
	}
	return None
}
