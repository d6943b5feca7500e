package identity

import (
	"fmt"
	"strings"
)

// ComposeVolumeID builds the composite volume id from whichever identity
// attributes are present, in fixed precedence order:
//
//	filesystem UUID > partition UUID > serial+model+vendor+fsver >
//	device path > directory path
//
// The component ordering and prefixes are load-bearing: historical catalogs
// key all history on these strings, so they must never change between
// versions. The directory fallback does not guarantee uniqueness across
// distinct devices mounted at the same path; this is a documented limitation.
func ComposeVolumeID(id Identity) string {
	if uuid := strings.TrimSpace(id.UUID); uuid != "" {
		return "uuid=" + uuid
	}
	if partUUID := strings.TrimSpace(id.PartUUID); partUUID != "" {
		return "partuuid=" + partUUID
	}

	serial := strings.TrimSpace(id.Serial)
	model := strings.TrimSpace(id.Model)
	vendor := strings.TrimSpace(id.Vendor)
	fsver := strings.TrimSpace(id.FSVersion)
	if serial != "" || model != "" || vendor != "" || fsver != "" {
		return fmt.Sprintf("serial=%s|model=%s|vendor=%s|fsver=%s", serial, model, vendor, fsver)
	}

	if device := strings.TrimSpace(id.Device); device != "" {
		return "dev=" + device
	}
	return id.Directory
}
