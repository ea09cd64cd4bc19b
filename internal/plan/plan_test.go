package plan

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"camprovision/internal/hwaddr"
)

func TestLoadPositional(t *testing.T) {
	csv := "FinalIPAddress\n192.168.1.10\n192.168.1.11\n"
	p, err := Load(strings.NewReader(csv), zap.NewNop().Sugar())
	require.NoError(t, err)
	require.False(t, p.IsKeyed())
	require.Equal(t, 2, p.Remaining())
}

func TestLoadKeyedCaseInsensitiveHeader(t *testing.T) {
	csv := "Mac Address, IP\n00:40:8c:12:34:56, 192.168.1.20\n"
	p, err := Load(strings.NewReader(csv), zap.NewNop().Sugar())
	require.NoError(t, err)
	require.True(t, p.IsKeyed())

	hw := hwaddr.MustParse("00:40:8c:12:34:56")
	addr, err := p.Next(hw)
	require.NoError(t, err)
	require.Equal(t, "192.168.1.20", addr.String())
}

func TestLoadDetectsDuplicateIP(t *testing.T) {
	csv := "FinalIPAddress\n192.168.1.10\n192.168.1.10\n"
	_, err := Load(strings.NewReader(csv), zap.NewNop().Sugar())
	require.ErrorIs(t, err, ErrDuplicate)
}

func TestLoadDetectsDuplicateMAC(t *testing.T) {
	csv := "MACAddress,IP\n00:40:8c:12:34:56,192.168.1.10\n00:40:8c:12:34:56,192.168.1.11\n"
	_, err := Load(strings.NewReader(csv), zap.NewNop().Sugar())
	require.ErrorIs(t, err, ErrDuplicate)
}

func TestLoadRejectsUnrecognizedHeader(t *testing.T) {
	csv := "Nickname\nfoo\n"
	_, err := Load(strings.NewReader(csv), zap.NewNop().Sugar())
	require.ErrorIs(t, err, ErrNoHeader)
}

func TestPositionalPlanExhausted(t *testing.T) {
	p, err := Load(strings.NewReader("IP\n192.168.1.10\n"), zap.NewNop().Sugar())
	require.NoError(t, err)

	_, err = p.Next(hwaddr.HardwareAddress{})
	require.NoError(t, err)

	_, err = p.Next(hwaddr.HardwareAddress{})
	require.ErrorIs(t, err, ErrPlanExhausted)
}

func TestKeyedPlanNoMatch(t *testing.T) {
	p, err := Load(strings.NewReader("MAC,IP\n00:40:8c:12:34:56,192.168.1.10\n"), zap.NewNop().Sugar())
	require.NoError(t, err)

	other := hwaddr.MustParse("AA:BB:CC:DD:EE:FF")
	_, err = p.Next(other)
	require.ErrorIs(t, err, ErrNoMatch)
}

func TestLoadSkipsBlankAndInvalidRows(t *testing.T) {
	csv := "FinalIPAddress\n192.168.1.10\n\nnot-an-address\n192.168.1.11\n"
	p, err := Load(strings.NewReader(csv), zap.NewNop().Sugar())
	require.NoError(t, err)
	require.Equal(t, 2, p.Remaining())

	first, err := p.Next(hwaddr.HardwareAddress{})
	require.NoError(t, err)
	require.Equal(t, "192.168.1.10", first.String())
	second, err := p.Next(hwaddr.HardwareAddress{})
	require.NoError(t, err)
	require.Equal(t, "192.168.1.11", second.String())
}
