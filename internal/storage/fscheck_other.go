//go:build !darwin && !linux

package storage

// detectFilesystemType cannot tell local from network mounts here; report
// "unknown" so the ledger still opens.
func detectFilesystemType(path string) (string, error) {
	return "unknown", nil
}
