package worker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseFlagsAppliesDefaults(t *testing.T) {
	s, err := ParseFlags(nil)
	require.NoError(t, err)
	require.Equal(t, LogLevelError, s.LogLevel)
	require.EqualValues(t, 10000, s.RtcMinPort)
	require.EqualValues(t, 59999, s.RtcMaxPort)
	require.False(t, s.SharedWebrtcSocket)
	require.False(t, s.WithStats)
}

func TestParseFlagsPortExhaustionRangeFromScenario(t *testing.T) {
	s, err := ParseFlags([]string{"--rtcMinPort=40000", "--rtcMaxPort=40001"})
	require.NoError(t, err)
	require.EqualValues(t, 40000, s.RtcMinPort)
	require.EqualValues(t, 40001, s.RtcMaxPort)
}

func TestParseFlagsRepeatableLogTags(t *testing.T) {
	s, err := ParseFlags([]string{"--logTags=ice", "--logTags=dtls"})
	require.NoError(t, err)
	require.Equal(t, []string{"ice", "dtls"}, s.LogTags)
}

func TestParseFlagsRejectsInvertedPortRange(t *testing.T) {
	_, err := ParseFlags([]string{"--rtcMinPort=50000", "--rtcMaxPort=40000"})
	require.ErrorIs(t, err, ErrInvalidSettings)
}

func TestParseFlagsRejectsUnknownLogLevel(t *testing.T) {
	_, err := ParseFlags([]string{"--logLevel=verbose"})
	require.ErrorIs(t, err, ErrInvalidSettings)
}

func TestValidateRequiresCertificateAndKeyTogether(t *testing.T) {
	s := DefaultSettings()
	s.DtlsCertificateFile = "/tmp/cert.pem"
	require.ErrorIs(t, s.Validate(), ErrInvalidSettings)

	s.DtlsPrivateKeyFile = "/tmp/key.pem"
	require.NoError(t, s.Validate())
}
