package atmosphere

type RoomStatus int8

const (
	Closed RoomStatus = iota - 1
	Inactive
	Open
)

func (r RoomStatus) String() string {
	switch r {
	case Closed:
		return "Closed"
	case Inactive:
		return "Inactive"
	case Open:
		return "Open"
	default:
		return "Unknown"
	}
}
