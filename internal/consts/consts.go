package consts

const (
	// UsersTopic is the single broadcast topic every session is subscribed to.
	UsersTopic = "/topic/users"

	// WebSocketPath is the route the broadcast endpoint is served on.
	WebSocketPath = "/ws"

	UserKeyPrefix  = "user:"
	UsersListKey   = "users:all"
	CounterRowKey  = "next-id"
	UsersPartition = "users"

	// UsersGenerationKey is bumped by every cache eviction.
	UsersGenerationKey = "users:gen"
)
