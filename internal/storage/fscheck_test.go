package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedFS(fsType string) fsDetector {
	return func(string) (string, error) { return fsType, nil }
}

func TestCheckLocalFilesystem(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ledger.db")

	require.NoError(t, checkLocalFilesystemWith(dbPath, fixedFS("ext4")))
	require.NoError(t, checkLocalFilesystemWith(dbPath, fixedFS("0xef53")))

	err := checkLocalFilesystemWith(dbPath, fixedFS("nfs"))
	require.ErrorIs(t, err, ErrNetworkFilesystem)
	assert.Contains(t, err.Error(), "state.driver to postgres")

	err = checkLocalFilesystemWith(dbPath, func(string) (string, error) { return "", errors.New("statfs failed") })
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNetworkFilesystem)

	assert.Error(t, checkLocalFilesystemWith("", fixedFS("ext4")))
}

func TestCheckLocalFilesystemProbesExistingAncestor(t *testing.T) {
	root := t.TempDir()
	dbPath := filepath.Join(root, "not", "yet", "ledger.db")

	var probed string
	require.NoError(t, checkLocalFilesystemWith(dbPath, func(p string) (string, error) {
		probed = p
		return "ext4", nil
	}))
	assert.Equal(t, root, probed)
}

func TestIsNetworkFilesystem(t *testing.T) {
	tests := []struct {
		fs   string
		want bool
	}{
		{fs: "nfs", want: true},
		{fs: " SMBFS ", want: true},
		{fs: "9p", want: true},
		{fs: "ceph", want: true},
		{fs: "apfs"},
		{fs: "0x6969"},
		{fs: ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isNetworkFilesystem(tt.fs), "fs %q", tt.fs)
	}
}

func TestOpenSQLiteOnLocalDisk(t *testing.T) {
	db, err := OpenSQLite(t.Context(), filepath.Join(t.TempDir(), "a", "ledger.db"))
	require.NoError(t, err)
	require.NoError(t, db.Close())
}
