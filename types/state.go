package types

// MigrationState is the lifecycle state of a topic migration adapter.
//
//	StateSteady → StateSwitching → StateSteady
//
// StateClosed is terminal.
type MigrationState int32

const (
	// StateSteady indicates reads go to the current topic reader.
	StateSteady MigrationState = iota

	// StateSwitching indicates the topic reader must be rebuilt before the next read.
	StateSwitching

	// StateClosed indicates the adapter was closed.
	StateClosed
)

// String returns the string representation of the state.
func (s MigrationState) String() string {
	switch s {
	case StateSteady:
		return "Steady"
	case StateSwitching:
		return "Switching"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}
