package presence

import (
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// UserRoom is the implicit per-user room every connection joins at
// registration time.
func UserRoom(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}

// RoleRoom is the implicit role-scoped room every connection joins at
// registration time.
func RoleRoom(role string) string {
	return "role:" + role
}

type ConnectionInfo struct {
	ConnectionID string    `json:"connection_id"`
	UserID       int64     `json:"user_id"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	ConnectedAt  time.Time `json:"connected_at"`
}

// Registry tracks live connections, the identity mapping and room
// memberships. All operations are total: absence yields empty results, never
// errors, because disconnect races are expected and benign.
type Registry struct {
	logger *zap.Logger
	mu     sync.RWMutex

	connections map[string]*Connection
	connByUser  map[int64]string
	rooms       map[string]map[string]struct{}
	roomsByConn map[string]map[string]struct{}
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:      logger,
		connections: make(map[string]*Connection),
		connByUser:  make(map[int64]string),
		rooms:       make(map[string]map[string]struct{}),
		roomsByConn: make(map[string]map[string]struct{}),
	}
}

// Register adds the connection and auto-joins its user-room and role-room.
// Registering the same connection twice is a no-op. A newer connection from
// the same user supersedes the per-user mapping; the older connection stays
// open and room-addressable but is no longer resolvable by user id.
func (r *Registry) Register(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connections[conn.ID]; ok {
		return
	}

	r.connections[conn.ID] = conn

	if previous, ok := r.connByUser[conn.Identity.UserID]; ok {
		r.logger.Info("superseding previous connection for user",
			zap.Int64("userId", conn.Identity.UserID),
			zap.String("previousConnectionId", previous))
	}
	r.connByUser[conn.Identity.UserID] = conn.ID

	r.joinRoomLocked(conn.ID, UserRoom(conn.Identity.UserID))
	r.joinRoomLocked(conn.ID, RoleRoom(conn.Identity.Role))
}

// Deregister removes all room memberships and, if this connection still owns
// it, the per-user mapping. It signals the connection's done channel so the
// write pump terminates. The second return value reports whether the user
// actually went offline (false when a newer connection superseded this one,
// or for unknown ids).
func (r *Registry) Deregister(connectionID string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[connectionID]
	if !ok {
		return nil, false
	}

	for room := range r.roomsByConn[connectionID] {
		r.leaveRoomLocked(connectionID, room)
	}
	delete(r.roomsByConn, connectionID)
	delete(r.connections, connectionID)

	wentOffline := false
	if r.connByUser[conn.Identity.UserID] == connectionID {
		delete(r.connByUser, conn.Identity.UserID)
		wentOffline = true
	}

	conn.close()

	return conn, wentOffline
}

// JoinRoom adds an explicit room membership. Unknown connection ids are
// ignored.
func (r *Registry) JoinRoom(connectionID string, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connections[connectionID]; !ok {
		return
	}

	r.joinRoomLocked(connectionID, room)
}

// LeaveRoom removes an explicit room membership. Leaving a room the
// connection is not in is a no-op; a room emptied by the leave is deleted.
func (r *Registry) LeaveRoom(connectionID string, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.leaveRoomLocked(connectionID, room)
	if memberships, ok := r.roomsByConn[connectionID]; ok {
		delete(memberships, room)
	}
}

func (r *Registry) joinRoomLocked(connectionID string, room string) {
	if _, ok := r.rooms[room]; !ok {
		r.rooms[room] = make(map[string]struct{})
	}
	r.rooms[room][connectionID] = struct{}{}

	if _, ok := r.roomsByConn[connectionID]; !ok {
		r.roomsByConn[connectionID] = make(map[string]struct{})
	}
	r.roomsByConn[connectionID][room] = struct{}{}
}

func (r *Registry) leaveRoomLocked(connectionID string, room string) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}

	delete(members, connectionID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// ResolveTargets maps a target to the set of live connections it addresses.
// A user target resolves to at most one connection (the latest registered
// for that user); an offline user yields an empty result.
func (r *Registry) ResolveTargets(target Target) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch target.Type {
	case TargetTypeUser:
		connectionID, ok := r.connByUser[target.UserID]
		if !ok {
			return nil
		}
		if conn, ok := r.connections[connectionID]; ok {
			return []*Connection{conn}
		}
		return nil
	case TargetTypeRole:
		return r.roomMembersLocked(RoleRoom(target.Role))
	case TargetTypeAll:
		conns := make([]*Connection, 0, len(r.connections))
		for _, conn := range r.connections {
			conns = append(conns, conn)
		}
		return conns
	default:
		return nil
	}
}

// ResolveRoom returns the live connections in a room, implicit or explicit.
func (r *Registry) ResolveRoom(room string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.roomMembersLocked(room)
}

func (r *Registry) roomMembersLocked(room string) []*Connection {
	members, ok := r.rooms[room]
	if !ok {
		return nil
	}

	conns := make([]*Connection, 0, len(members))
	for connectionID := range members {
		if conn, ok := r.connections[connectionID]; ok {
			conns = append(conns, conn)
		}
	}

	return conns
}

func (r *Registry) IsOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.connByUser[userID]

	return ok
}

// Online lists every registered connection, for the privileged
// connected-users view.
func (r *Registry) Online() []ConnectionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ConnectionInfo, 0, len(r.connections))
	for _, conn := range r.connections {
		infos = append(infos, ConnectionInfo{
			ConnectionID: conn.ID,
			UserID:       conn.Identity.UserID,
			Name:         conn.Identity.Name,
			Role:         conn.Identity.Role,
			ConnectedAt:  conn.ConnectedAt,
		})
	}

	return infos
}
