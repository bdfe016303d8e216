package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNetworkFilesystem is returned by OpenSQLite for a ledger path on a
// network mount. flock and WAL shared memory are unreliable there, so the
// unique index can no longer be trusted to serialize claims.
var ErrNetworkFilesystem = errors.New("sqlite ledger on network filesystem")

var networkFilesystems = map[string]bool{
	"9p":     true,
	"afpfs":  true,
	"ceph":   true,
	"cifs":   true,
	"nfs":    true,
	"smb2":   true,
	"smbfs":  true,
	"webdav": true,
}

type fsDetector func(path string) (string, error)

func checkLocalFilesystem(dbPath string) error {
	return checkLocalFilesystemWith(dbPath, detectFilesystemType)
}

func checkLocalFilesystemWith(dbPath string, detect fsDetector) error {
	if dbPath == "" {
		return fmt.Errorf("sqlite path is empty")
	}

	probe, err := existingAncestor(dbPath)
	if err != nil {
		return fmt.Errorf("resolve ledger path %q: %w", dbPath, err)
	}

	fsType, err := detect(probe)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", probe, err)
	}
	if isNetworkFilesystem(fsType) {
		return fmt.Errorf("%w: %q is on %s; set state.path to local disk or switch state.driver to postgres",
			ErrNetworkFilesystem, dbPath, fsType)
	}
	return nil
}

// existingAncestor returns dbPath, or its nearest parent that exists, so a
// fresh ledger can be checked before its directory is created.
func existingAncestor(dbPath string) (string, error) {
	p, err := filepath.Abs(dbPath)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(p)
		switch {
		case err == nil:
			return p, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", fmt.Errorf("no existing parent")
		}
		p = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	return networkFilesystems[strings.ToLower(strings.TrimSpace(fsType))]
}
