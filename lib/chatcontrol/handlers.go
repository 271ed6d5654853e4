package chatcontrol

import (
	"context"
	"encoding/json"
	"time"

	"github.com/niss337/securechat/lib/room"
	"github.com/niss337/securechat/lib/server"
	"github.com/niss337/securechat/lib/session"
)

// ChatStatsProvider is the view of a chat server the handlers read from.
// *server.Server implements it.
type ChatStatsProvider interface {
	Stats() server.Stats
	Sessions() *session.Registry
	Rooms() *room.Registry
}

// decodeParams unmarshals params into v. Absent params leave v unchanged.
func decodeParams(params json.RawMessage, v interface{}) *RPCError {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return NewRPCErrorWithData(ErrCodeInvalidParams, "invalid parameters", err.Error())
	}
	return nil
}

// EchoHandler returns its Echo parameter as Result.
type EchoHandler struct{}

func (EchoHandler) Handle(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		Echo interface{} `json:"Echo"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	return map[string]interface{}{"Result": req.Echo}, nil
}

// ServerInfoHandler reports server-wide counters.
type ServerInfoHandler struct {
	stats ChatStatsProvider
}

func (h ServerInfoHandler) Handle(ctx context.Context, params json.RawMessage) (interface{}, error) {
	st := h.stats.Stats()
	return map[string]interface{}{
		"running":             st.Running,
		"uptime":              st.Uptime.Round(time.Second).String(),
		"uptimeSeconds":       int64(st.Uptime / time.Second),
		"activeConnections":   st.ActiveConnections,
		"sessions":            st.Sessions,
		"authenticatedUsers":  st.AuthenticatedUsers,
		"rooms":               st.Rooms,
		"connectionsAccepted": st.ConnectionsAccepted,
		"connectionsRejected": st.ConnectionsRejected,
	}, nil
}

// RoomInfo is one entry of a ListRooms result.
type RoomInfo struct {
	Name      string    `json:"name"`
	Members   int       `json:"members"`
	CreatedAt time.Time `json:"createdAt"`
}

// ListRoomsHandler lists every room.
type ListRoomsHandler struct {
	stats ChatStatsProvider
}

func (h ListRoomsHandler) Handle(ctx context.Context, params json.RawMessage) (interface{}, error) {
	snapshot := h.stats.Rooms().Snapshot()
	rooms := make([]RoomInfo, 0, len(snapshot))
	for _, info := range snapshot {
		rooms = append(rooms, RoomInfo{Name: info.Name, Members: info.Members, CreatedAt: info.CreatedAt})
	}
	return map[string]interface{}{"rooms": rooms}, nil
}

// ListUsersHandler lists every logged in username.
type ListUsersHandler struct {
	stats ChatStatsProvider
}

func (h ListUsersHandler) Handle(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return map[string]interface{}{"users": h.stats.Sessions().Usernames()}, nil
}

// RoomMembersHandler lists the usernames in the room named by the Room
// parameter.
type RoomMembersHandler struct {
	stats ChatStatsProvider
}

func (h RoomMembersHandler) Handle(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		Room string `json:"Room"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	if req.Room == "" {
		return nil, NewRPCError(ErrCodeInvalidParams, "missing Room parameter")
	}
	r, ok := h.stats.Rooms().Get(req.Room)
	if !ok {
		return nil, NewRPCErrorWithData(ErrCodeNotFound, "room not found", req.Room)
	}
	return map[string]interface{}{
		"room":    r.Name(),
		"members": r.Usernames(),
	}, nil
}
