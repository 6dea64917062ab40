//go:build !amd64

package rabitq

// On non-amd64 hosts the scalar Block.Accumulate path from fastscan.go is
// the only implementation; there is nothing to dispatch to.
func init() {}
