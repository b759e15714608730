package domain

import (
	"cmp"
	"slices"
	"strings"
)

type (
	ChannelID string
	ScopeID   string
)

// ChannelInfo is what the channel directory knows about a channel.
type ChannelInfo struct {
	ID      ChannelID `json:"id"`
	Name    string    `json:"name"`
	OwnerID UserID    `json:"ownerId"`
}

type ScopeTransfer struct {
	ID      ScopeID  `json:"id"`
	Name    string   `json:"name"`
	Members []UserID `json:"members"`
}

// ChannelTransfer is the plain projection of a channel that crosses the wire
// and travels inside store events. It never aliases authoritative state.
type ChannelTransfer struct {
	ID      ChannelID       `json:"id"`
	Name    string          `json:"name"`
	OwnerID UserID          `json:"ownerId"`
	Members []User          `json:"members"`
	Scopes  []ScopeTransfer `json:"scopes"`
}

func (t ChannelTransfer) Info() ChannelInfo {
	return ChannelInfo{ID: t.ID, Name: t.Name, OwnerID: t.OwnerID}
}

func (t ChannelTransfer) HasMember(id UserID) bool {
	return slices.ContainsFunc(t.Members, func(u User) bool { return u.ID == id })
}

func (t ChannelTransfer) Scope(id ScopeID) (ScopeTransfer, bool) {
	i := slices.IndexFunc(t.Scopes, func(s ScopeTransfer) bool { return s.ID == id })
	if i < 0 {
		return ScopeTransfer{}, false
	}
	return t.Scopes[i], true
}

// Normalized returns a deep copy with members, scopes and scope members sorted
// by id, so two transfers describing the same state compare equal.
func (t ChannelTransfer) Normalized() ChannelTransfer {
	out := ChannelTransfer{
		ID:      t.ID,
		Name:    t.Name,
		OwnerID: t.OwnerID,
		Members: slices.Clone(t.Members),
		Scopes:  make([]ScopeTransfer, 0, len(t.Scopes)),
	}
	if out.Members == nil {
		out.Members = []User{}
	}
	slices.SortFunc(out.Members, func(a, b User) int { return cmp.Compare(a.ID, b.ID) })
	for _, s := range t.Scopes {
		members := slices.Clone(s.Members)
		if members == nil {
			members = []UserID{}
		}
		slices.Sort(members)
		out.Scopes = append(out.Scopes, ScopeTransfer{ID: s.ID, Name: s.Name, Members: members})
	}
	slices.SortFunc(out.Scopes, func(a, b ScopeTransfer) int { return strings.Compare(string(a.ID), string(b.ID)) })
	return out
}
