// Copyright 2025 The Crateworks Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"zombiezen.com/go/sqlite"

	"github.com/crateworks/registry/internal/catalog"
)

// Rights is a user's capability level over a crate. User owners and
// team owners both reduce to this lattice: a direct owner holds Full,
// a member of an owning team holds Publish.
type Rights int

const (
	RightsNone Rights = iota
	RightsRead
	RightsPublish
	RightsFull
)

func (r Rights) String() string {
	switch r {
	case RightsFull:
		return "full"
	case RightsPublish:
		return "publish"
	case RightsRead:
		return "read"
	default:
		return "none"
	}
}

// UserRights computes the capability level userID holds over the crate
// from its owner relation.
func UserRights(conn *sqlite.Conn, userID, crateID int64) (Rights, error) {
	owners, err := catalog.CrateOwners(conn, crateID)
	if err != nil {
		return RightsNone, err
	}
	rights := RightsNone
	for _, owner := range owners {
		switch owner.Kind {
		case catalog.OwnerUser:
			if owner.OwnerID == userID {
				return RightsFull, nil
			}
		case catalog.OwnerTeam:
			member, err := catalog.IsTeamMember(conn, owner.OwnerID, userID)
			if err != nil {
				return RightsNone, err
			}
			if member && rights < RightsPublish {
				rights = RightsPublish
			}
		}
	}
	return rights, nil
}
