package remote

const (
	KiB = 1 << 10
	MiB = 1 << 20
)

// ChunkSize picks the resumable-upload chunk for a file of the given size.
// It only tunes throughput; any chunk size produces the same remote object.
func ChunkSize(size int64) int {
	switch {
	case size < 1*MiB:
		return 256 * KiB
	case size <= 10*MiB:
		return 1 * MiB
	case size <= 100*MiB:
		return 5 * MiB
	default:
		return 10 * MiB
	}
}
