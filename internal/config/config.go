// Package config parses the flag-based configuration shared by the
// sample programs, with environment-variable fallbacks for credentials
// and stream identity (mirroring how a long-running network daemon
// picks up its secrets in a containerized deployment).
package config

import (
	"flag"
	"fmt"
	"os"

	kvserrors "github.com/alxayo/kvs-producer/internal/errors"
)

// StreamPolicy selects the stream buffer's eviction behavior.
type StreamPolicy string

const (
	StreamPolicyNone       StreamPolicy = "none"
	StreamPolicyRingBuffer StreamPolicy = "ring-buffer"
)

// Config holds every flag/env value `cmd/kvs-producer` needs.
type Config struct {
	StreamName string
	Region     string
	FrameDir   string

	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	IotThingName       string
	IotRoleAlias       string
	IotCredentialHost  string
	IotRootCAPath      string
	IotCertificatePath string
	IotPrivateKeyPath  string

	LogLevel          string
	StreamPolicy      StreamPolicy
	StreamRbMemlimit  uint64
	DataRetentionHrs  uint

	ShowVersion bool
}

// defaultRbMemlimit mirrors the options-surface default (1 MiB).
const defaultRbMemlimit = 1 << 20

// Parse parses args (typically os.Args[1:]) into a Config, falling back
// to AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY / AWS_KVS_STREAM_NAME /
// SAMPLE_FRAME_ROOT_DIRECTORY from the environment when the
// corresponding flag is left at its zero value.
func Parse(args []string) (*Config, error) {
	fs := flag.NewFlagSet("kvs-producer", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &Config{}
	var streamPolicy string

	fs.StringVar(&cfg.StreamName, "stream-name", "", "KVS stream name (env AWS_KVS_STREAM_NAME)")
	fs.StringVar(&cfg.Region, "region", "us-west-2", "AWS region")
	fs.StringVar(&cfg.FrameDir, "frame-dir", "", "directory of numbered .h264/.aac frame files (env SAMPLE_FRAME_ROOT_DIRECTORY)")

	fs.StringVar(&cfg.IotThingName, "iot-thing-name", "", "IoT thing name, enables per-session credential fetch")
	fs.StringVar(&cfg.IotRoleAlias, "iot-role-alias", "", "IoT role alias")
	fs.StringVar(&cfg.IotCredentialHost, "iot-credential-host", "", "IoT credentials provider host")
	fs.StringVar(&cfg.IotRootCAPath, "iot-root-ca", "", "path to the IoT root CA PEM")
	fs.StringVar(&cfg.IotCertificatePath, "iot-cert", "", "path to the IoT client certificate PEM")
	fs.StringVar(&cfg.IotPrivateKeyPath, "iot-key", "", "path to the IoT client private key PEM")

	fs.StringVar(&cfg.LogLevel, "log.level", "info", "log level: debug|info|warn|error")
	fs.StringVar(&streamPolicy, "stream-policy", "none", "stream buffer eviction policy: none|ring-buffer")
	fs.Uint64Var(&cfg.StreamRbMemlimit, "stream-rb-memlimit", defaultRbMemlimit, "ring-buffer memory limit in bytes")
	fs.UintVar(&cfg.DataRetentionHrs, "data-retention-hours", 2, "CreateStream data retention window, in hours")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	switch StreamPolicy(streamPolicy) {
	case StreamPolicyNone, StreamPolicyRingBuffer:
		cfg.StreamPolicy = StreamPolicy(streamPolicy)
	default:
		return nil, kvserrors.NewArgumentError("config.Parse", fmt.Errorf("invalid -stream-policy %q", streamPolicy))
	}

	if cfg.StreamName == "" {
		cfg.StreamName = os.Getenv("AWS_KVS_STREAM_NAME")
	}
	if cfg.FrameDir == "" {
		cfg.FrameDir = os.Getenv("SAMPLE_FRAME_ROOT_DIRECTORY")
	}
	cfg.AccessKeyID = os.Getenv("AWS_ACCESS_KEY_ID")
	cfg.SecretAccessKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	cfg.SessionToken = os.Getenv("AWS_SESSION_TOKEN")

	if cfg.ShowVersion {
		return cfg, nil
	}

	if cfg.StreamName == "" {
		return nil, kvserrors.NewArgumentError("config.Parse", fmt.Errorf("stream name required: set -stream-name or AWS_KVS_STREAM_NAME"))
	}
	if cfg.IotThingName == "" && cfg.AccessKeyID == "" {
		return nil, kvserrors.NewArgumentError("config.Parse", fmt.Errorf("no credentials available: set AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY or configure -iot-thing-name"))
	}

	return cfg, nil
}

// UsesIot reports whether this config should drive a per-session IoT
// credential exchange instead of static keys.
func (c *Config) UsesIot() bool {
	return c.IotThingName != "" && c.IotRoleAlias != "" && c.IotCredentialHost != ""
}
