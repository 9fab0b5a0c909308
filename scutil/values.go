package scutil

// Flag is one entry of a resolver's comma separated 'flags'
type Flag string

// Flags seen on typical resolvers
const (
	// Scoped resolvers only answer queries sent on their interface
	Scoped Flag = "Scoped"

	RequestARecords    Flag = "Request A records"
	RequestAAAARecords Flag = "Request AAAA records"
)

// Reach is one status in a resolver's 'reach' line, e.g. "Reachable" in "0x00000002 (Reachable)"
type Reach string

// Reach values from the 'scutil' man page
const (
	NotReachable             Reach = "Not Reachable"
	Reachable                Reach = "Reachable"
	TransientReachable       Reach = "Transient Connection"
	ConnectionRequired       Reach = "Connection Required"
	ConnectionAutomatic      Reach = "Connection Automatic"
	LocalAddress             Reach = "Local Address"
	DirectlyReachableAddress Reach = "Directly Reachable Address"
)
