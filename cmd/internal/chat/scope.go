package chat

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"codetalk/cmd/internal/pagination"
)

var errBadRoomID = errors.New("roomId must be a positive integer or null")

// RoomScope selects messages by room. The zero value matches every message,
// Global matches the feed without a room, and Room(n) matches room n only.
type RoomScope struct {
	set bool
	id  *int64
}

func AllRooms() RoomScope { return RoomScope{} }
func GlobalFeed() RoomScope { return RoomScope{set: true} }
func InRoom(id int64) RoomScope { return RoomScope{set: true, id: &id} }

func (s RoomScope) Match(roomID *int64) bool {
	switch {
	case !s.set:
		return true
	case s.id == nil:
		return roomID == nil
	default:
		return roomID != nil && *roomID == *s.id
	}
}

func (s RoomScope) where() []pagination.Eq {
	if !s.set {
		return nil
	}
	if s.id == nil {
		return []pagination.Eq{{Field: "room_id"}}
	}
	return []pagination.Eq{{Field: "room_id", Value: *s.id}}
}

func (s RoomScope) String() string {
	switch {
	case !s.set:
		return "all"
	case s.id == nil:
		return "global"
	default:
		return "room:" + strconv.FormatInt(*s.id, 10)
	}
}

// ParseRoomScope reads the roomId member of a JSON object. A missing member
// is AllRooms, null is GlobalFeed. Numbers and numeric strings select a room.
func ParseRoomScope(vars json.RawMessage) (RoomScope, error) {
	vars = bytes.TrimSpace(vars)
	if len(vars) == 0 || bytes.Equal(vars, []byte("null")) {
		return AllRooms(), nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(vars, &m); err != nil {
		return RoomScope{}, errors.New("variables must be a JSON object")
	}
	raw, ok := m["roomId"]
	if !ok {
		return AllRooms(), nil
	}
	return roomScopeValue(raw)
}

// ParseRoomScopeQuery is the query-string form: absent, "null" or an id.
func ParseRoomScopeQuery(v string, present bool) (RoomScope, error) {
	if !present {
		return AllRooms(), nil
	}
	v = strings.TrimSpace(v)
	if v == "" || v == "null" {
		return GlobalFeed(), nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return RoomScope{}, errBadRoomID
	}
	return InRoom(id), nil
}

func roomScopeValue(raw json.RawMessage) (RoomScope, error) {
	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, []byte("null")) {
		return GlobalFeed(), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return RoomScope{}, errBadRoomID
		}
		n = json.Number(strings.TrimSpace(s))
	}
	id, err := n.Int64()
	if err != nil || id <= 0 {
		return RoomScope{}, errBadRoomID
	}
	return InRoom(id), nil
}
