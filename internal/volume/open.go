package volume

import (
	"fmt"
	"os"

	"github.com/hytong05/NT212-New-File-System/internal/byteio"
	"github.com/hytong05/NT212-New-File-System/internal/crypto"
	"github.com/hytong05/NT212-New-File-System/internal/filetable"
	"github.com/hytong05/NT212-New-File-System/internal/header"
	"github.com/hytong05/NT212-New-File-System/internal/kdfparams"
	"github.com/hytong05/NT212-New-File-System/internal/log"
	"github.com/hytong05/NT212-New-File-System/internal/machineid"
	"github.com/hytong05/NT212-New-File-System/internal/merrors"
)

// OpenOptions controls how Open behaves when the machine binding record
// does not match the current machine.
type OpenOptions struct {
	// Rebind regenerates the machine binding record for the current
	// machine instead of failing (spec §6 scenario 6, "--rebind").
	Rebind bool
}

// rewriteInfo records which self-healing steps a call to openInternal
// had to take, so Open can log them and Repair can report them.
type rewriteInfo struct {
	tableFromSidecar bool
	headerRebuilt    bool
}

func (r rewriteInfo) any() bool { return r.tableFromSidecar || r.headerRebuilt }

// Open loads a volume: reads and authenticates the header, loads the
// file table (falling back to the sidecar if the container's copy is
// unreadable), takes the advisory container lock, checks machine
// binding, and runs the integrity monitor. Any fallback performed along
// the way is logged as a warning and committed back to the container,
// not surfaced as an error - the self-healing contract (spec §4.6) is
// that Open only fails when neither copy can be trusted.
func Open(containerPath, sidecarPath, masterSecret string, opts OpenOptions) (*Volume, error) {
	v, rw, err := openInternal(containerPath, sidecarPath, masterSecret, opts)
	if err != nil {
		return nil, err
	}
	if rw.tableFromSidecar {
		v.logger.Warn("container table unreadable, adopted sidecar copy", log.String("container", containerPath))
	}
	if rw.headerRebuilt {
		v.logger.Warn("container header unreadable, rebuilt from sidecar", log.String("container", containerPath))
	}

	report := v.verifyIntegrity()
	for _, name := range report.Failed {
		v.logger.Error("integrity check failed, entry quarantined", log.String("name", name))
	}

	if rw.any() || report.TouchedTable {
		if err := v.Commit(); err != nil {
			v.Close()
			return nil, err
		}
	}

	return v, nil
}

// openInternal does the authentication, loading, and locking work
// shared by Open and Repair, without running the integrity monitor or
// committing - callers decide what to do with the rewriteInfo.
func openInternal(containerPath, sidecarPath, masterSecret string, opts OpenOptions) (*Volume, rewriteInfo, error) {
	var rw rewriteInfo
	logger := log.GetLogger()

	container, err := byteio.Open(containerPath, os.O_RDWR, 0o600)
	if err != nil {
		return nil, rw, err
	}
	size, err := container.Size()
	if err != nil {
		container.Close()
		return nil, rw, err
	}
	containerBytes := make([]byte, size)
	if _, err := container.ReadAt(containerBytes, 0); err != nil {
		container.Close()
		return nil, rw, err
	}

	var (
		hdr       *header.Header // authenticated: tag verified under masterSecret
		parsedHdr *header.Header // structurally parsed, regardless of tag outcome
		masterKey []byte
	)

	if ph, perr := header.Parse(containerBytes); perr == nil {
		parsedHdr = ph
		candidateKey, derr := crypto.DeriveKey([]byte(masterSecret), ph.MasterSalt[:], crypto.LabelMaster, ph.KDFParams)
		if derr != nil {
			container.Close()
			return nil, rw, derr
		}
		ok, verr := header.VerifyTag(candidateKey, ph)
		if verr != nil {
			crypto.SecureZero(candidateKey)
			container.Close()
			return nil, rw, verr
		}
		if ok {
			hdr = ph
			masterKey = candidateKey
		} else {
			crypto.SecureZero(candidateKey)
		}
	}

	var sealedTable []byte
	if hdr != nil {
		lo, hi := hdr.TableOffset, hdr.TableOffset+hdr.TableLength
		if hi > int64(len(containerBytes)) || lo < header.FixedHeaderSize {
			hdr = nil
		} else {
			sealedTable = containerBytes[lo:hi]
		}
	}

	var table *filetable.Table
	if hdr != nil {
		table, err = filetable.Open(sealedTable, masterKey, hdr.VolumeID[:])
		if err != nil {
			logger.Debug("container table failed to open, trying sidecar", log.Err(err))
			table = nil
			rw.tableFromSidecar = true
		}
	} else {
		rw.headerRebuilt = true
	}

	if table == nil {
		recovered, rhdr, rkey, rerr := recoverFromSidecar(sidecarPath, masterSecret, parsedHdr)
		if rerr != nil {
			if masterKey != nil {
				crypto.SecureZero(masterKey)
			}
			container.Close()
			return nil, rw, rerr
		}
		table = recovered
		hdr = rhdr
		if masterKey != nil {
			crypto.SecureZero(masterKey)
		}
		masterKey = rkey
	}

	var dataRegion []byte
	if int64(len(containerBytes)) > hdr.DataOffset {
		dataRegion = append([]byte(nil), containerBytes[hdr.DataOffset:]...)
	}

	fp, err := machineid.Fingerprint()
	if err != nil {
		crypto.SecureZero(masterKey)
		container.Close()
		return nil, rw, err
	}

	machinePath := machinePathFor(containerPath)
	if err := checkMachineBinding(machinePath, hdr.VolumeID, fp, hdr.KDFParams, opts.Rebind, logger); err != nil {
		crypto.SecureZero(masterKey)
		container.Close()
		return nil, rw, err
	}

	if err := container.Lock(); err != nil {
		crypto.SecureZero(masterKey)
		container.Close()
		return nil, rw, err
	}

	sidecar, err := byteio.Open(sidecarPath, os.O_RDWR, 0o600)
	if err != nil {
		crypto.SecureZero(masterKey)
		container.Close()
		return nil, rw, err
	}

	v := &Volume{
		containerPath: containerPath,
		sidecarPath:   sidecarPath,
		machinePath:   machinePath,
		container:     container,
		sidecar:       sidecar,
		hdr:           hdr,
		table:         table,
		dataRegion:    dataRegion,
		tableCapacity: hdr.DataOffset - hdr.TableOffset,
		masterKey:     masterKey,
		logger:        logger,
	}

	return v, rw, nil
}

// checkMachineBinding verifies (or, with rebind, regenerates) the
// machine binding record beside containerPath (spec §4.3, §6 scenario 6).
func checkMachineBinding(machinePath string, volumeID [16]byte, fp []byte, p kdfparams.Params, rebind bool, logger log.Logger) error {
	machineBytes, err := os.ReadFile(machinePath)
	switch {
	case err == nil:
		rec, perr := machineid.ParseBindingRecord(machineBytes)
		if perr != nil {
			return fmt.Errorf("volume: machine binding record corrupt: %w", perr)
		}
		match, verr := rec.Verify(fp, p)
		if verr != nil {
			return verr
		}
		if match {
			return nil
		}
		if !rebind {
			return fmt.Errorf("volume: machine binding mismatch: %w", merrors.ErrAuthFailed)
		}
		logger.Warn("machine binding rebound to current machine", log.String("path", machinePath))
		return rebindMachine(machinePath, volumeID, fp, p)
	case os.IsNotExist(err):
		if !rebind {
			return fmt.Errorf("volume: missing machine binding record: %w", merrors.ErrAuthFailed)
		}
		return rebindMachine(machinePath, volumeID, fp, p)
	default:
		return merrors.NewIOError("read", machinePath, err)
	}
}

func rebindMachine(machinePath string, volumeID [16]byte, fp []byte, p kdfparams.Params) error {
	rec, err := machineid.NewBindingRecord(volumeID, fp, p)
	if err != nil {
		return err
	}
	return writeFileAtomic(machinePath, rec.Bytes())
}

// recoverFromSidecar rebuilds table and header state from the sidecar
// copy when the container's copy is unreadable (spec §4.6). The sidecar
// carries no header tag of its own, so the master secret is verified
// here by the only means available: the table's own AEAD tag.
//
// containerHdr is the container's header as long as it parsed
// structurally, even if its tag failed to verify under masterSecret -
// that distinction is what lets this function tell "container is
// intact but the secret is wrong" (ErrAuthFailed) apart from
// "container itself is unreadable" (ErrUnrecoverable) when the sidecar
// also fails to open under masterSecret.
func recoverFromSidecar(sidecarPath, masterSecret string, containerHdr *header.Header) (*filetable.Table, *header.Header, []byte, error) {
	sidecarBytes, err := os.ReadFile(sidecarPath)
	if err != nil {
		return nil, nil, nil, merrors.NewIOError("read", sidecarPath, err)
	}
	sidecarHdr, err := header.ParseSidecarPrefix(sidecarBytes)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("volume: sidecar corrupt, cannot recover: %w", merrors.ErrUnrecoverable)
	}
	if len(sidecarBytes) <= header.CryptoParamsSize {
		return nil, nil, nil, fmt.Errorf("volume: sidecar table segment missing: %w", merrors.ErrUnrecoverable)
	}

	candidateKey, err := crypto.DeriveKey([]byte(masterSecret), sidecarHdr.MasterSalt[:], crypto.LabelMaster, sidecarHdr.KDFParams)
	if err != nil {
		return nil, nil, nil, err
	}

	table, err := filetable.Open(sidecarBytes[header.CryptoParamsSize:], candidateKey, sidecarHdr.VolumeID[:])
	if err != nil {
		crypto.SecureZero(candidateKey)
		if containerHdr == nil {
			return nil, nil, nil, fmt.Errorf("volume: both copies unreadable: %w", merrors.ErrUnrecoverable)
		}
		return nil, nil, nil, fmt.Errorf("volume: wrong secret or both copies corrupt: %w", merrors.ErrAuthFailed)
	}

	rebuilt := &header.Header{
		Version:     header.CurrentVersion,
		VolumeID:    sidecarHdr.VolumeID,
		MasterSalt:  sidecarHdr.MasterSalt,
		KDFParams:   sidecarHdr.KDFParams,
		TableOffset: header.FixedHeaderSize,
		DataOffset:  header.FixedHeaderSize + initialTableCapacity,
	}
	if containerHdr != nil && containerHdr.DataOffset > rebuilt.DataOffset {
		rebuilt.DataOffset = containerHdr.DataOffset
	}
	nonce, err := crypto.RandomBytes(header.NonceSize)
	if err != nil {
		crypto.SecureZero(candidateKey)
		return nil, nil, nil, err
	}
	copy(rebuilt.Nonce[:], nonce)
	tag, err := header.ComputeTag(candidateKey, rebuilt)
	if err != nil {
		crypto.SecureZero(candidateKey)
		return nil, nil, nil, err
	}
	copy(rebuilt.Tag[:], tag)

	return table, rebuilt, candidateKey, nil
}
