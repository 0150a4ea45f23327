package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hytong05/NT212-New-File-System/internal/merrors"
)

func TestOpenSessionAcceptsTodaysSecret(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.Local)
	a := New()
	require.NoError(t, a.OpenSession("myfs-20260801", now))
	require.Equal(t, SessionOpen, a.State())
}

func TestOpenSessionRejectsWrongDate(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.Local)
	a := New()
	err := a.OpenSession("myfs-20260731", now)
	require.ErrorIs(t, err, merrors.ErrAuthFailed)
	require.Equal(t, Closed, a.State())
}

func TestAdmitVolumeRequiresSessionOpen(t *testing.T) {
	a := New()
	err := a.AdmitVolume(make([]byte, 32))
	require.Error(t, err)
}

func TestFullLifecycleAndZeroOnClose(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.Local)
	a := New()
	require.NoError(t, a.OpenSession("myfs-20260801", now))

	key := []byte("0123456789abcdef0123456789abcdef")
	require.NoError(t, a.AdmitVolume(key))
	require.Equal(t, VolumeOpen, a.State())
	require.NotNil(t, a.MasterKey())

	a.Close()
	require.Equal(t, Closed, a.State())
	require.Nil(t, a.MasterKey())
}
