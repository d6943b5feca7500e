package identity

import (
	"encoding/json"
	"time"
)

// Identity is the resolved hardware identity of a mounted volume, together
// with the composite VolumeID derived from it.
type Identity struct {
	VolumeID  string
	Directory string

	MountPoint string
	Device     string
	UUID       string
	Label      string
	Model      string
	Serial     string
	Vendor     string
	FSVersion  string
	PTType     string
	PTUUID     string
	PartUUID   string
	WWN        string

	// Raw holds the unfiltered probe payload for persistence.
	Raw map[string]string

	ResolvedAt time.Time
}

// RawJSON renders the raw probe payload as a deterministic JSON object;
// encoding/json writes map keys in sorted order.
func (id Identity) RawJSON() string {
	if len(id.Raw) == 0 {
		return ""
	}
	data, err := json.Marshal(id.Raw)
	if err != nil {
		return ""
	}
	return string(data)
}
