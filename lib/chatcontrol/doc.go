// Package chatcontrol implements the administrative JSON-RPC 2.0 endpoint
// of a chat server.
//
// # Overview
//
// The control server answers read-only questions about a running chat
// server: who is online, which rooms exist and who is in them. It also
// exposes Prometheus metrics and a health check.
//
// # Endpoints
//
//   - POST /jsonrpc: JSON-RPC 2.0 requests
//   - GET /metrics: Prometheus exposition
//   - GET /healthz: liveness, answers "ok"
//
// # Authentication
//
// Every method except Authenticate needs a Token parameter. Tokens are
// obtained by calling Authenticate with the configured password:
//
//	{"jsonrpc":"2.0","id":1,"method":"Authenticate","params":{"API":1,"Password":"secret"}}
//
// Tokens are HMAC-SHA256 signatures keyed with a per-process secret and
// expire after Config.TokenExpiration.
//
// # Methods
//
//   - Echo: returns its Echo parameter as Result
//   - ServerInfo: uptime, connection and user counts
//   - ListRooms: every room with its member count
//   - ListUsers: every logged in username
//   - RoomMembers: the usernames in one room
package chatcontrol
