package constants

const (
	// K is the default bucket capacity.
	K = 3
	// ReplicaCount is how many other peers receive each fragment by default.
	ReplicaCount = 3

	BucketCount  = 160 // identifier width in bits
	FragmentSize = "64KB"

	HashAlgorithm    = "sha256"
	FragmentBoundary = "fixed"

	FragmentStorageRoot   = "data/fragments"
	FragmentFileExtension = ".spk"
	PeerDataPath          = "data/peer.msgpack"

	ControlPort  = 9000
	TransferPort = 9100

	// EnvPrefix prefixes environment variables overriding configuration keys.
	EnvPrefix = "SFS_"
)
