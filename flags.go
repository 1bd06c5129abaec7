package main

import (
	"time"

	"github.com/urfave/cli/v2"
)

var FlagLogLevel = &cli.StringFlag{
	Name:     "log-level",
	EnvVars:  []string{"LOG_LEVEL"},
	Value:    "info",
	Required: false,
}

var FlagLogWriter = &cli.StringFlag{
	Name:     "log-writer",
	EnvVars:  []string{"LOG_WRITER"},
	Value:    "console",
	Required: false,
}

var FlagEndpoint = &cli.StringFlag{
	Name:     "endpoint",
	Usage:    "device management backend hostname",
	EnvVars:  []string{"DMS_ENDPOINT"},
	Required: true,
}

var FlagPort = &cli.IntFlag{
	Name:     "port",
	Usage:    "MQTT over TLS port",
	EnvVars:  []string{"DMS_PORT"},
	Value:    8883,
	Required: false,
}

var FlagClientID = &cli.StringFlag{
	Name:     "client-id",
	Usage:    "device identity, ends with the MAC address",
	EnvVars:  []string{"DMS_CLIENT_ID"},
	Required: true,
}

var FlagCACert = &cli.StringFlag{
	Name:     "ca-cert",
	Usage:    "root CA certificate path",
	EnvVars:  []string{"DMS_CA_CERT"},
	Required: true,
}

var FlagClientCert = &cli.StringFlag{
	Name:     "client-cert",
	Usage:    "client certificate path",
	EnvVars:  []string{"DMS_CLIENT_CERT"},
	Required: true,
}

var FlagPrivateKey = &cli.StringFlag{
	Name:     "private-key",
	Usage:    "client private key path",
	EnvVars:  []string{"DMS_PRIVATE_KEY"},
	Required: true,
}

var FlagKeepAlive = &cli.DurationFlag{
	Name:     "keep-alive",
	EnvVars:  []string{"DMS_KEEP_ALIVE"},
	Value:    60 * time.Second,
	Required: false,
}

var FlagConnectTimeout = &cli.DurationFlag{
	Name:     "connect-timeout",
	EnvVars:  []string{"DMS_CONNECT_TIMEOUT"},
	Value:    30 * time.Second,
	Required: false,
}

var FlagPollTimeout = &cli.DurationFlag{
	Name:     "poll-timeout",
	EnvVars:  []string{"DMS_POLL_TIMEOUT"},
	Value:    time.Second,
	Required: false,
}

var FlagHeartbeatInterval = &cli.DurationFlag{
	Name:     "heartbeat-interval",
	Usage:    "how often the reported state is republished",
	EnvVars:  []string{"DMS_HEARTBEAT_INTERVAL"},
	Value:    60 * time.Second,
	Required: false,
}

var FlagStatusInterval = &cli.DurationFlag{
	Name:     "status-interval",
	Usage:    "how often connection statistics are logged",
	EnvVars:  []string{"DMS_STATUS_INTERVAL"},
	Value:    30 * time.Second,
	Required: false,
}

var FlagShadowGetTimeout = &cli.DurationFlag{
	Name:     "shadow-get-timeout",
	EnvVars:  []string{"DMS_SHADOW_GET_TIMEOUT"},
	Value:    5 * time.Second,
	Required: false,
}

var FlagMaxRetryAttempts = &cli.IntFlag{
	Name:     "max-retry-attempts",
	EnvVars:  []string{"DMS_MAX_RETRY_ATTEMPTS"},
	Value:    10,
	Required: false,
}

var FlagBaseDelay = &cli.DurationFlag{
	Name:     "base-delay",
	Usage:    "initial reconnection backoff",
	EnvVars:  []string{"DMS_BASE_DELAY"},
	Value:    2 * time.Second,
	Required: false,
}

var FlagMaxDelay = &cli.DurationFlag{
	Name:     "max-delay",
	Usage:    "reconnection backoff ceiling",
	EnvVars:  []string{"DMS_MAX_DELAY"},
	Value:    300 * time.Second,
	Required: false,
}

var FlagDeviceType = &cli.StringFlag{
	Name:     "device-type",
	EnvVars:  []string{"DMS_DEVICE_TYPE"},
	Value:    "gateway",
	Required: false,
}

var FlagFirmware = &cli.StringFlag{
	Name:     "firmware",
	EnvVars:  []string{"DMS_FIRMWARE"},
	Value:    "0.0.0",
	Required: false,
}
