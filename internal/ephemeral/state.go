package ephemeral

import (
	"time"

	"carechat/backend/internal/config"
)

// Key schema. TTLs come from the config package.
func presenceKey(userID string) string      { return "presence:" + userID }
func roomMembersKey(qID string) string      { return "room:members:" + qID }
func userRoomsKey(userID string) string     { return "user:rooms:" + userID }
func typingSetKey(qID string) string        { return "typing:" + qID }
func typingEntryKey(qID, uID string) string { return "typing:" + qID + ":" + uID }

// RoomChannel is the pub/sub channel for one question's room.
func RoomChannel(questionID string) string { return "room:" + questionID }

// RoomChannelPattern matches every room channel.
const RoomChannelPattern = "room:*"

// State exposes the presence/membership/typing operations the hub and the
// cleanup jobs use. All pairwise invariants (user rooms vs room members) are
// maintained here and nowhere else.
type State struct {
	Store Store
}

// NewState wraps a Store.
func NewState(store Store) *State {
	return &State{Store: store}
}

// SetOnline records the user as present, stamping last-seen.
func (s *State) SetOnline(userID string) error {
	return s.Store.SetValue(presenceKey(userID), time.Now().UTC().Format(time.RFC3339), config.PresenceTTL)
}

// SetOffline drops the presence record.
func (s *State) SetOffline(userID string) error {
	return s.Store.Delete(presenceKey(userID))
}

// IsOnline reports whether a presence record currently exists.
func (s *State) IsOnline(userID string) (bool, error) {
	_, ok, err := s.Store.GetValue(presenceKey(userID))
	return ok, err
}

// RefreshPresence re-stamps last-seen and extends the TTL. Called on any
// client activity so presence self-heals without explicit keepalives.
func (s *State) RefreshPresence(userID string) error {
	return s.SetOnline(userID)
}

// JoinRoom adds the user to the room's member set and the room to the
// user's set in one atomic batch, so the two sets always agree.
func (s *State) JoinRoom(questionID, userID string) error {
	return s.Store.Batch(
		Op{Kind: OpSetAdd, Key: roomMembersKey(questionID), Members: []string{userID}, TTL: config.RoomMembershipTTL},
		Op{Kind: OpSetAdd, Key: userRoomsKey(userID), Members: []string{questionID}, TTL: config.RoomMembershipTTL},
	)
}

// LeaveRoom removes both sides of the membership and any typing entry for
// the user. Safe to call for a non-member.
func (s *State) LeaveRoom(questionID, userID string) error {
	return s.Store.Batch(
		Op{Kind: OpSetRemove, Key: roomMembersKey(questionID), Members: []string{userID}},
		Op{Kind: OpSetRemove, Key: userRoomsKey(userID), Members: []string{questionID}},
		Op{Kind: OpSetRemove, Key: typingSetKey(questionID), Members: []string{userID}},
		Op{Kind: OpDelete, Key: typingEntryKey(questionID, userID)},
	)
}

// IsRoomMember reports whether the user has joined the room.
func (s *State) IsRoomMember(questionID, userID string) (bool, error) {
	return s.Store.IsSetMember(roomMembersKey(questionID), userID)
}

// RoomMembers lists the users currently joined to the room.
func (s *State) RoomMembers(questionID string) ([]string, error) {
	return s.Store.SetMembers(roomMembersKey(questionID))
}

// UserRooms lists the rooms the user has joined.
func (s *State) UserRooms(userID string) ([]string, error) {
	return s.Store.SetMembers(userRoomsKey(userID))
}

// RefreshMembership extends the TTL of both membership sets on activity.
func (s *State) RefreshMembership(questionID, userID string) error {
	return s.Store.Batch(
		Op{Kind: OpExpire, Key: roomMembersKey(questionID), TTL: config.RoomMembershipTTL},
		Op{Kind: OpExpire, Key: userRoomsKey(userID), TTL: config.RoomMembershipTTL},
	)
}

// SetTyping records or clears the user's typing flag. The per-user entry
// expires on its own so a client that vanishes mid-typing does not stick.
func (s *State) SetTyping(questionID, userID string, isTyping bool) error {
	if isTyping {
		return s.Store.Batch(
			Op{Kind: OpSetValue, Key: typingEntryKey(questionID, userID), Value: "1", TTL: config.TypingEntryTTL},
			Op{Kind: OpSetAdd, Key: typingSetKey(questionID), Members: []string{userID}, TTL: config.TypingSetTTL},
		)
	}
	return s.Store.Batch(
		Op{Kind: OpDelete, Key: typingEntryKey(questionID, userID)},
		Op{Kind: OpSetRemove, Key: typingSetKey(questionID), Members: []string{userID}},
	)
}

// TypingUsers returns the users with a live typing entry. Set members whose
// per-user entry already expired are dropped (and lazily pruned).
func (s *State) TypingUsers(questionID string) ([]string, error) {
	candidates, err := s.Store.SetMembers(typingSetKey(questionID))
	if err != nil {
		return nil, err
	}
	var live []string
	var stale []string
	for _, userID := range candidates {
		_, ok, err := s.Store.GetValue(typingEntryKey(questionID, userID))
		if err != nil {
			return nil, err
		}
		if ok {
			live = append(live, userID)
		} else {
			stale = append(stale, userID)
		}
	}
	if len(stale) > 0 {
		_ = s.Store.Batch(Op{Kind: OpSetRemove, Key: typingSetKey(questionID), Members: stale})
	}
	return live, nil
}

// ClearRoom wipes the room's ephemeral state and detaches every member's
// inverse entry. Used by disconnect-independent cleanup.
func (s *State) ClearRoom(questionID string) error {
	members, err := s.RoomMembers(questionID)
	if err != nil {
		return err
	}
	ops := []Op{
		{Kind: OpDelete, Key: roomMembersKey(questionID)},
		{Kind: OpDelete, Key: typingSetKey(questionID)},
	}
	for _, userID := range members {
		ops = append(ops,
			Op{Kind: OpSetRemove, Key: userRoomsKey(userID), Members: []string{questionID}},
			Op{Kind: OpDelete, Key: typingEntryKey(questionID, userID)},
		)
	}
	return s.Store.Batch(ops...)
}

// GraceExpireRoom shortens the room keys' TTL instead of deleting them,
// leaving a window for follow-up questions on completed appointments.
func (s *State) GraceExpireRoom(questionID string, grace time.Duration) error {
	members, err := s.RoomMembers(questionID)
	if err != nil {
		return err
	}
	ops := []Op{
		{Kind: OpExpire, Key: roomMembersKey(questionID), TTL: grace},
		{Kind: OpDelete, Key: typingSetKey(questionID)},
	}
	for _, userID := range members {
		ops = append(ops, Op{Kind: OpExpire, Key: userRoomsKey(userID), TTL: grace})
	}
	return s.Store.Batch(ops...)
}

// SweepTyping drops typing-set members whose per-user entries are gone.
// Defensive pass; TTL expiry normally suffices.
func (s *State) SweepTyping(questionID string) error {
	_, err := s.TypingUsers(questionID)
	return err
}
