package config

import "github.com/sirupsen/logrus"

// clusterMigrations upgrades historical on-disk cluster documents.
// Version 1 -> 2 introduces vm_storage_vg with a default, matching a
// real deployment's post-install configuration step.
func clusterMigrations() map[int]Migration {
	return map[int]Migration{
		1: func(raw map[string]interface{}) error {
			if _, ok := raw["vm_storage_vg"]; !ok {
				raw["vm_storage_vg"] = "mcvirt_vg"
			}
			if _, ok := raw["drbd"]; !ok {
				raw["drbd"] = map[string]interface{}{
					"enabled":   false,
					"secret":    "",
					"sync_rate": "10M",
					"protocol":  "C",
				}
			}
			return nil
		},
	}
}

// NewClusterStore opens the global cluster config document at path.
func NewClusterStore(path string, logger *logrus.Logger) *Store[*ClusterDocument] {
	return NewStore(path, logger, CurrentClusterVersion, func() *ClusterDocument {
		return &ClusterDocument{Version: CurrentClusterVersion, Nodes: map[string]Node{}}
	}, clusterMigrations())
}
