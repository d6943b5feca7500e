package identity

import "diskwatch/internal/catalog"

// Snapshot converts a resolved identity into the shape the catalog persists.
func Snapshot(id Identity) catalog.VolumeIdentitySnapshot {
	return catalog.VolumeIdentitySnapshot{
		MountDevice: id.Device,
		MountPoint:  id.MountPoint,
		MountUUID:   id.UUID,
		MountLabel:  id.Label,
		Model:       id.Model,
		Serial:      id.Serial,
		Vendor:      id.Vendor,
		FSVersion:   id.FSVersion,
		PTType:      id.PTType,
		PTUUID:      id.PTUUID,
		PartUUID:    id.PartUUID,
		WWN:         id.WWN,
		RawJSON:     id.RawJSON(),
		RefreshedAt: id.ResolvedAt,
	}
}
