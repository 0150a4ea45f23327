package volume

import "github.com/hytong05/NT212-New-File-System/internal/log"

// RepairReport summarizes the self-healing steps Repair performed.
type RepairReport struct {
	ContainerHeaderRebuilt  bool
	TableRebuiltFromSidecar bool
	LostEntries             []string
}

// Repair forces the same authentication and self-healing path Open
// takes, then commits the result regardless of whether anything needed
// fixing, and reports exactly what it found (spec §4.6 "Repair",
// "table corrupt -> rebuild from sidecar", "container header corrupt ->
// rewrite from sidecar", "both corrupt -> Unrecoverable", "digest
// mismatch -> mark entries PendingPurge and report lost names").
func Repair(containerPath, sidecarPath, masterSecret string) (*RepairReport, error) {
	v, rw, err := openInternal(containerPath, sidecarPath, masterSecret, OpenOptions{})
	if err != nil {
		return nil, err
	}
	defer v.Close()

	report := &RepairReport{
		ContainerHeaderRebuilt:  rw.headerRebuilt,
		TableRebuiltFromSidecar: rw.tableFromSidecar,
	}

	integrity := v.verifyIntegrity()
	report.LostEntries = integrity.Failed

	if rw.any() {
		v.logger.Warn("repair rewrote container state from sidecar",
			log.String("container", containerPath))
	}
	for _, name := range integrity.Failed {
		v.logger.Warn("repair quarantined entry failing integrity check", log.String("name", name))
	}

	if err := v.Commit(); err != nil {
		return nil, err
	}
	return report, nil
}
