package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/james-bug/DMS-Client/adapters"
	"github.com/james-bug/DMS-Client/application"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

var Flags = []cli.Flag{
	FlagLogLevel,
	FlagLogWriter,
	FlagEndpoint,
	FlagPort,
	FlagClientID,
	FlagCACert,
	FlagClientCert,
	FlagPrivateKey,
	FlagKeepAlive,
	FlagConnectTimeout,
	FlagPollTimeout,
	FlagHeartbeatInterval,
	FlagStatusInterval,
	FlagShadowGetTimeout,
	FlagMaxRetryAttempts,
	FlagBaseDelay,
	FlagMaxDelay,
	FlagDeviceType,
	FlagFirmware,
}

func main() {
	var logger zerolog.Logger

	app := cli.App{
		Name:    "dms-client",
		Version: "v0.0.1",
		Flags:   Flags,
		Before: func(ctx *cli.Context) error {
			var logWriter io.Writer
			if ctx.String(FlagLogWriter.Name) == "console" {
				logWriter = zerolog.ConsoleWriter{
					Out:        os.Stderr,
					TimeFormat: time.RFC3339Nano,
				}
			} else if ctx.String(FlagLogWriter.Name) == "json" {
				logWriter = os.Stderr
			}

			logger = zerolog.New(logWriter).With().Timestamp().
				Str("service", "dms-client").
				Str("module", "main").
				Logger()

			level, err := zerolog.ParseLevel(ctx.String(FlagLogLevel.Name))
			if err != nil {
				return err
			}

			zerolog.SetGlobalLevel(level)

			return nil
		},
		Action: func(ctx *cli.Context) error {
			logger.Info().Msg("agent starting...")

			appCtx, cancel := context.WithCancel(logger.WithContext(context.Background()))
			go func() {
				c := make(chan os.Signal, 1)
				signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

				<-c

				logger.Warn().Msg("interrupt signal received")
				cancel()
			}()

			clientID := ctx.String(FlagClientID.Name)

			connection, err := adapters.NewMQTTConnection(adapters.MQTTConnectionParams{
				Endpoint:       ctx.String(FlagEndpoint.Name),
				Port:           ctx.Int(FlagPort.Name),
				ClientID:       clientID,
				CACertPath:     ctx.String(FlagCACert.Name),
				ClientCertPath: ctx.String(FlagClientCert.Name),
				PrivateKeyPath: ctx.String(FlagPrivateKey.Name),
				KeepAlive:      ctx.Duration(FlagKeepAlive.Name),
				ConnectTimeout: ctx.Duration(FlagConnectTimeout.Name),
				Log:            logger.With().Str("module", "mqtt-connection").Logger(),
			})
			if err != nil {
				return err
			}

			dispatcher := adapters.NewCommandDispatcher(adapters.CommandDispatcherParams{
				Log: logger.With().Str("module", "command-dispatcher").Logger(),
			})

			shadow, err := application.NewShadowSync(application.ShadowSyncParams{
				Connection: connection,
				Dispatcher: dispatcher,
				Metrics:    adapters.NewSystemMetrics(),
				Topics:     application.NewShadowTopics(clientID),
				DeviceType: ctx.String(FlagDeviceType.Name),
				Firmware:   ctx.String(FlagFirmware.Name),
				Log:        logger.With().Str("module", "shadow-sync").Logger(),
			})
			if err != nil {
				return err
			}

			reconnect := application.NewReconnectEngine(application.ReconnectEngineParams{
				MaxAttempts: uint32(ctx.Int(FlagMaxRetryAttempts.Name)),
				BaseDelay:   ctx.Duration(FlagBaseDelay.Name),
				MaxDelay:    ctx.Duration(FlagMaxDelay.Name),
				ClientID:    clientID,
				Log:         logger.With().Str("module", "reconnect-engine").Logger(),
			})

			agentService, err := application.NewAgentService(application.AgentServiceParams{
				Connection:        connection,
				Shadow:            shadow,
				Reconnect:         reconnect,
				PollTimeout:       ctx.Duration(FlagPollTimeout.Name),
				HeartbeatInterval: ctx.Duration(FlagHeartbeatInterval.Name),
				StatusInterval:    ctx.Duration(FlagStatusInterval.Name),
				ShadowGetTimeout:  ctx.Duration(FlagShadowGetTimeout.Name),
				Log:               logger.With().Str("module", "agent-service").Logger(),
			})
			if err != nil {
				return err
			}

			logger.Info().Msg("agent started")
			err = agentService.Run(appCtx)
			if err != nil {
				return err
			}

			logger.Info().Msg("agent terminating...")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Err(err).Msg("agent terminated")
	}
}
