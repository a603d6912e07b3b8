package config

import "github.com/sirupsen/logrus"

// vmMigrations upgrades historical on-disk per-VM documents. There are
// none yet; CurrentVMVersion is 1, so this map is empty but present for
// symmetry and to document where the next migration belongs.
func vmMigrations() map[int]Migration {
	return map[int]Migration{}
}

// NewVMStore opens a per-VM config document at path.
func NewVMStore(path string, logger *logrus.Logger) *Store[*VMDocument] {
	return NewStore(path, logger, CurrentVMVersion, func() *VMDocument {
		return &VMDocument{
			Version:           CurrentVMVersion,
			Disks:             []Disk{},
			NetworkInterfaces: map[string]string{},
			LockState:         LockStateUnlocked,
		}
	}, vmMigrations())
}
