package atmosphere

import "time"

// ConnectionID identifies one live socket. It is never reused while the
// socket is open.
type ConnectionID = string

type ConnectionPresence struct {
	ID          ConnectionID `json:"id"`
	ConnectedAt time.Time    `json:"connectedAt"`
	LastSeen    time.Time    `json:"lastSeen"`
}
