package events

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spec-kit/request-engine/internal/domain"
)

// Room names a push channel a live client can join.
type Room string

// AllRooms receives every lifecycle event.
const AllRooms Room = "all"

// RequestRoom follows a single request.
func RequestRoom(requestID int64) Room {
	return Room(fmt.Sprintf("request:%d", requestID))
}

// ClientRoom follows every request filed for a client.
func ClientRoom(clientRef int64) Room {
	return Room(fmt.Sprintf("client:%d", clientRef))
}

// AssigneeRoom follows every request currently assigned to an agent.
func AssigneeRoom(assigneeRef int64) Room {
	return Room(fmt.Sprintf("assignee:%d", assigneeRef))
}

// ParseRoom validates a room name received from a client.
func ParseRoom(raw string) (Room, error) {
	raw = strings.TrimSpace(raw)
	if raw == string(AllRooms) {
		return AllRooms, nil
	}
	kind, id, ok := strings.Cut(raw, ":")
	if !ok {
		return "", fmt.Errorf("invalid room %q", raw)
	}
	if _, err := strconv.ParseInt(id, 10, 64); err != nil {
		return "", fmt.Errorf("invalid room id in %q", raw)
	}
	switch kind {
	case "request", "client", "assignee":
		return Room(raw), nil
	}
	return "", fmt.Errorf("unknown room kind %q", kind)
}

// RoomsFor lists the rooms an event is delivered to.
func RoomsFor(event domain.LifecycleEvent) []Room {
	rooms := []Room{AllRooms, RequestRoom(event.RequestID), ClientRoom(event.ClientRef)}
	if event.AssigneeRef != nil {
		rooms = append(rooms, AssigneeRoom(*event.AssigneeRef))
	}
	return rooms
}

// Filter selects events by room membership.
type Filter struct {
	rooms map[Room]struct{}
}

// NewFilter builds a filter matching any of rooms.
func NewFilter(rooms ...Room) Filter {
	set := make(map[Room]struct{}, len(rooms))
	for _, room := range rooms {
		set[room] = struct{}{}
	}
	return Filter{rooms: set}
}

// Match reports whether event belongs to one of the filter's rooms.
func (f Filter) Match(event domain.LifecycleEvent) bool {
	if _, ok := f.rooms[AllRooms]; ok {
		return true
	}
	for _, room := range RoomsFor(event) {
		if _, ok := f.rooms[room]; ok {
			return true
		}
	}
	return false
}

// Rooms returns the rooms of the filter.
func (f Filter) Rooms() []Room {
	out := make([]Room, 0, len(f.rooms))
	for room := range f.rooms {
		out = append(out, room)
	}
	return out
}
