package identity

import (
	"context"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"diskwatch/internal/logging"
)

// MountInfo is the mount-table entry covering a directory.
type MountInfo struct {
	MountPoint string
	Device     string
}

// Prober exposes the platform probes the resolver composes. Splitting the
// probes from the composition keeps the fallback ordering unit-testable
// without real hardware.
type Prober interface {
	ProbeMount(ctx context.Context, directory string) (MountInfo, error)
	ProbeBlockDevice(ctx context.Context, device string) (map[string]string, error)
}

// Resolver turns a mount path into a stable volume identity. Resolution never
// fails: missing tooling or permission errors push it further down the
// fallback chain until only the directory path remains.
type Resolver struct {
	prober Prober
	logger *slog.Logger
}

// NewResolver builds a resolver using the platform prober.
func NewResolver(logger *slog.Logger) *Resolver {
	return NewResolverWithProber(logger, newExecProber())
}

// NewResolverWithProber builds a resolver with a custom prober (used in tests).
func NewResolverWithProber(logger *slog.Logger, prober Prober) *Resolver {
	return &Resolver{
		prober: prober,
		logger: logging.NewComponentLogger(logger, "identity"),
	}
}

// Resolve probes available metadata for the volume mounted at directory and
// composes the volume id. Calling it twice on an unchanged mount returns an
// identical id.
func (r *Resolver) Resolve(ctx context.Context, directory string) Identity {
	resolved := directory
	if abs, err := filepath.Abs(directory); err == nil {
		resolved = abs
	}

	id := Identity{
		Directory:  resolved,
		ResolvedAt: time.Now().UTC(),
	}

	mount, err := r.prober.ProbeMount(ctx, resolved)
	if err != nil {
		r.logger.Debug("mount probe unavailable",
			logging.String("directory", resolved),
			logging.Error(err),
		)
	} else {
		id.MountPoint = mount.MountPoint
		id.Device = mount.Device
	}

	if id.Device != "" {
		fields, err := r.prober.ProbeBlockDevice(ctx, id.Device)
		if err != nil {
			r.logger.Debug("block device probe unavailable",
				logging.String("device", id.Device),
				logging.Error(err),
			)
		} else {
			id.Raw = fields
			id.UUID = fields["UUID"]
			id.Label = fields["LABEL"]
			id.Model = fields["MODEL"]
			id.Serial = fields["SERIAL"]
			id.Vendor = fields["VENDOR"]
			id.FSVersion = fields["FSVER"]
			id.PTType = fields["PTTYPE"]
			id.PTUUID = fields["PTUUID"]
			id.PartUUID = fields["PARTUUID"]
			id.WWN = fields["WWN"]
		}
	}

	id.VolumeID = ComposeVolumeID(id)
	return id
}

const probeTimeout = 5 * time.Second

// lsblkColumns is the full column set requested from lsblk; it feeds both the
// identity fields and the persisted raw payload.
const lsblkColumns = "NAME,PATH,UUID,LABEL,MODEL,SERIAL,VENDOR,FSVER,FSTYPE,SIZE,PTTYPE,PTUUID,PARTUUID,WWN"

type commandRunner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execCommandRunner struct{}

func (execCommandRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.Output()
}

// execProber shells out to findmnt and lsblk, the same tools the mount table
// and udev expose the metadata through.
type execProber struct {
	runner commandRunner
}

func newExecProber() execProber {
	return execProber{runner: execCommandRunner{}}
}

func (p execProber) ProbeMount(ctx context.Context, directory string) (MountInfo, error) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	target, err := p.runner.Output(probeCtx, "findmnt", "--noheadings", "--output", "TARGET", "--target", directory)
	if err != nil {
		return MountInfo{}, err
	}
	mountPoint := strings.TrimSpace(string(target))

	source, err := p.runner.Output(probeCtx, "findmnt", "--noheadings", "--output", "SOURCE", "--target", mountPoint)
	if err != nil {
		return MountInfo{}, err
	}

	return MountInfo{
		MountPoint: mountPoint,
		Device:     strings.TrimSpace(string(source)),
	}, nil
}

func (p execProber) ProbeBlockDevice(ctx context.Context, device string) (map[string]string, error) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	output, err := p.runner.Output(probeCtx, "lsblk", "-P", "-o", lsblkColumns, device)
	if err != nil {
		return nil, err
	}
	fields := ParseLSBLKLine(firstNonEmptyLine(string(output)))
	return fields, nil
}

func firstNonEmptyLine(output string) string {
	for _, line := range strings.Split(output, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
