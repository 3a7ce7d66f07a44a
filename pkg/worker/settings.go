// Package worker assembles every other package into the single long-lived process
// spec.md §2/§6 describes: its Routers, one control Channel, one PortManager, an
// optional shared WebRtcServer, and the method handlers that bridge Requests
// arriving on the Channel to Router calls. Settings/flag parsing follows the teacher's mapstructure-
// tagged Config shape (pkg/sfu/sfu.go), carried forward per DESIGN.md's "Dropped
// teacher code" note, rather than spec.md's own worker-process wiring (the teacher
// has none: no cmd/ exists anywhere in it).
package worker

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"time"
)

// LogLevel mirrors the four values spec.md §6's --logLevel flag accepts.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
	LogLevelNone  LogLevel = "none"
)

func (l LogLevel) valid() bool {
	switch l {
	case LogLevelDebug, LogLevelWarn, LogLevelError, LogLevelNone:
		return true
	}
	return false
}

// ErrInvalidSettings is returned by Validate; cmd/ionworker maps it to exit code 42
// (spec.md §6: "42 settings validation error").
var ErrInvalidSettings = errors.New("worker: invalid settings")

// Settings is the process-wide configuration, parsed from CLI flags the way
// pkg/sfu.Config is parsed from a mapstructure-decoded file in the teacher, generalized
// here to spec.md §6's flag surface instead of a YAML config file (this worker has no
// config file, only the flags and environment the controller launches it with).
type Settings struct {
	LogLevel LogLevel `mapstructure:"logLevel"`
	LogTags  []string `mapstructure:"logTags"`

	RtcMinPort uint16 `mapstructure:"rtcMinPort"`
	RtcMaxPort uint16 `mapstructure:"rtcMaxPort"`

	DtlsCertificateFile string `mapstructure:"dtlsCertificateFile"`
	DtlsPrivateKeyFile  string `mapstructure:"dtlsPrivateKeyFile"`

	LibwebrtcFieldTrials string `mapstructure:"libwebrtcFieldTrials"`
	DisableLiburing      bool   `mapstructure:"disableLiburing"`

	// ListenIPs is not a named spec.md §6 flag (the original negotiates announced
	// IPs per-transport, through createWebRtcTransport's own params) but the shared
	// WebRtcServer still needs at least one local address to bind; defaulted to
	// loopback so a bare `--rtcMinPort/--rtcMaxPort` bring-up (scenario S1) works
	// without extra flags.
	ListenIPs []net.IP

	// WithStats gates pkg/stats.Enable the way the teacher's Config.SFU.WithStats
	// gates stats.InitStats (pkg/sfu/sfu.go); not a spec.md §6 flag, off by default.
	WithStats bool

	// SharedWebrtcSocket switches every WebRtcTransport this worker creates onto
	// one shared per-listen-IP UDP socket (pkg/webrtcserver) instead of each
	// binding its own dedicated port. Off by default: scenario S6's port-exhaustion
	// behavior depends on the full rtcMinPort/rtcMaxPort range being available to
	// createWebRtcTransport calls themselves, which a socket pre-bound at startup
	// would eat into.
	SharedWebrtcSocket bool

	// TickInterval drives the periodic Tick(now) calls across WebRtcTransports and
	// Observers (spec.md §4.10/§4.11); not itself a spec.md §6 flag.
	TickInterval time.Duration
}

// DefaultSettings returns the zero-value-safe defaults applied before flag parsing:
// a loopback listen address and a 250ms tick interval, matching the granularity the
// teacher's ICE/DTLS timeout configs (WebRTCTimeoutsConfig) already work in seconds,
// generalized down to sub-second since Tick drives ICE liveness checks and
// observer updates.
func DefaultSettings() Settings {
	return Settings{
		LogLevel:     LogLevelError,
		RtcMinPort:   10000,
		RtcMaxPort:   59999,
		ListenIPs:    []net.IP{net.IPv4(127, 0, 0, 1)},
		TickInterval: 250 * time.Millisecond,
	}
}

// ParseFlags parses spec.md §6's command-line surface out of args (excluding the
// program name) into a copy of DefaultSettings, grounded on the stdlib flag package
// usage n0remac-robot-webrtc's cmd/client and cmd/testclient main.go both use for
// their own CLI surfaces.
func ParseFlags(args []string) (Settings, error) {
	s := DefaultSettings()

	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	logLevel := fs.String("logLevel", string(s.LogLevel), "debug|warn|error|none")
	rtcMinPort := fs.Uint("rtcMinPort", uint(s.RtcMinPort), "lowest UDP/TCP port handed out by the port manager")
	rtcMaxPort := fs.Uint("rtcMaxPort", uint(s.RtcMaxPort), "highest UDP/TCP port handed out by the port manager")
	dtlsCert := fs.String("dtlsCertificateFile", "", "PEM certificate file; requires --dtlsPrivateKeyFile")
	dtlsKey := fs.String("dtlsPrivateKeyFile", "", "PEM private key file; requires --dtlsCertificateFile")
	fieldTrials := fs.String("libwebrtcFieldTrials", "", "opaque field-trial string forwarded verbatim, unused by this pion-based worker")
	disableLiburing := fs.Bool("disableLiburing", false, "accepted for command-line compatibility; this worker has no io_uring backend to disable")
	withStats := fs.Bool("withStats", false, "expose Prometheus metrics via pkg/stats")
	sharedSocket := fs.Bool("sharedWebrtcSocket", false, "share one UDP socket per listen IP across every WebRtcTransport instead of one socket each")

	var logTags tagList
	fs.Var(&logTags, "logTags", "repeatable log tag filter")

	if err := fs.Parse(args); err != nil {
		return Settings{}, err
	}

	s.LogLevel = LogLevel(*logLevel)
	s.LogTags = []string(logTags)
	s.RtcMinPort = uint16(*rtcMinPort)
	s.RtcMaxPort = uint16(*rtcMaxPort)
	s.DtlsCertificateFile = *dtlsCert
	s.DtlsPrivateKeyFile = *dtlsKey
	s.LibwebrtcFieldTrials = *fieldTrials
	s.DisableLiburing = *disableLiburing
	s.WithStats = *withStats
	s.SharedWebrtcSocket = *sharedSocket

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// tagList implements flag.Value so --logTags can be repeated.
type tagList []string

func (t *tagList) String() string { return fmt.Sprint([]string(*t)) }
func (t *tagList) Set(v string) error {
	*t = append(*t, v)
	return nil
}

// Validate enforces spec.md §6's settings-validation-error class: a malformed port
// range, or one of --dtlsCertificateFile/--dtlsPrivateKeyFile given without the
// other, both map to exit code 42 rather than 1.
func (s Settings) Validate() error {
	if !s.LogLevel.valid() {
		return fmt.Errorf("%w: logLevel %q", ErrInvalidSettings, s.LogLevel)
	}
	if s.RtcMinPort == 0 || s.RtcMaxPort == 0 || s.RtcMinPort > s.RtcMaxPort {
		return fmt.Errorf("%w: rtcMinPort/rtcMaxPort %d/%d", ErrInvalidSettings, s.RtcMinPort, s.RtcMaxPort)
	}
	if (s.DtlsCertificateFile == "") != (s.DtlsPrivateKeyFile == "") {
		return fmt.Errorf("%w: dtlsCertificateFile and dtlsPrivateKeyFile must be given together", ErrInvalidSettings)
	}
	if len(s.ListenIPs) == 0 {
		return fmt.Errorf("%w: no listen IPs configured", ErrInvalidSettings)
	}
	return nil
}
