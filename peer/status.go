package peer

type Status int

const (
	// START: identity loaded, no network activity yet.
	START Status = iota
	// WAIT_SEED_HASH_ID: listeners running, handshake sent to the seed.
	WAIT_SEED_HASH_ID
	// RUNNING: the seed answered and is in the routing table.
	RUNNING
	STOPPED
)

func (s Status) String() string {
	switch s {
	case START:
		return "START"
	case WAIT_SEED_HASH_ID:
		return "WAIT_SEED_HASH_ID"
	case RUNNING:
		return "RUNNING"
	case STOPPED:
		return "STOPPED"
	}
	return "UNKNOWN"
}
