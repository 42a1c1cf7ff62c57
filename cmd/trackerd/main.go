package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/comcast/trackerd/internal/adminhttp"
	"github.com/comcast/trackerd/internal/core"
	"github.com/comcast/trackerd/internal/evaluator"
	"github.com/comcast/trackerd/internal/group"
	"github.com/comcast/trackerd/internal/model"
	"github.com/comcast/trackerd/internal/oracle"
	"github.com/comcast/trackerd/internal/transport/ws"
)

// applicationName is both the pflag.FlagSet name and the viper config file
// base name.
const applicationName = "trackerd"

const (
	statusTimeoutKey     = "statusTimeout"
	updateDeviceStateKey = "statusUpdateDeviceState"
	registerUnknownKey   = "databaseRegisterUnknown"
	deviceAddrKey        = "deviceAddress"
	adminAddrKey         = "adminAddress"
)

// defaults gives every recognized configuration key a sane default so the
// process can run unconfigured.
var defaults = map[string]interface{}{
	statusTimeoutKey:     600, // seconds
	updateDeviceStateKey: true,
	registerUnknownKey:   false,
	deviceAddrKey:        ":8080",
	adminAddrKey:         ":8081",
}

func trackerd(arguments []string) (exitCode int) {
	var (
		f = pflag.NewFlagSet(applicationName, pflag.ContinueOnError)
		v = viper.New()
	)

	f.String("config", "", "path to a configuration file")
	if err := f.Parse(arguments); err != nil {
		fmt.Fprintf(os.Stderr, "unable to parse flags: %s\n", err.Error())
		return 1
	}

	for k, value := range defaults {
		v.SetDefault(k, value)
	}

	v.SetConfigName(applicationName)
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/" + applicationName)
	if path, _ := f.GetString("config"); path != "" {
		v.SetConfigFile(path)
	}
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			fmt.Fprintf(os.Stderr, "unable to read config: %s\n", err.Error())
			return 1
		}
	}

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stdout))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
	infoLogger, errorLogger := level.Info(logger), level.Error(logger)

	infoLogger.Log("configurationFile", v.ConfigFileUsed())

	statusTimeout := time.Duration(v.GetInt(statusTimeoutKey)) * time.Second

	identity := oracle.NewMemoryIdentityOracle(v.GetBool(registerUnknownKey))
	devices := oracle.NewMemoryDeviceManager()
	permissions := oracle.NewMemoryPermissionsOracle()
	sink := oracle.NewMemoryNotificationSink()
	cache := oracle.NewMemoryCacheCoordinator()

	manager := core.New(core.Config{
		StatusTimeout:     statusTimeout,
		UpdateDeviceState: v.GetBool(updateDeviceStateKey),
		RegisterUnknown:   v.GetBool(registerUnknownKey),
	}, core.Dependencies{
		Logger:      logger,
		Identity:    identity,
		Devices:     devices,
		Permissions: permissions,
		Sink:        sink,
		Cache:       cache,
		Evaluators: []oracle.Evaluator{
			&evaluator.Motion{Devices: devices},
			&evaluator.Overspeed{Devices: devices},
		},
	})
	defer manager.Close()

	groups := group.New(group.NewMemoryStore())

	wsEndpoint := ws.NewEndpoint(manager, positionSaver{devices: devices}, logger)
	deviceMux := http.NewServeMux()
	deviceMux.Handle("/ws", wsEndpoint)

	// otelhttp wraps the device-facing surface only: it is the boundary
	// where an external, untrusted client's request becomes a traced span.
	deviceServer := &http.Server{
		Addr:    v.GetString(deviceAddrKey),
		Handler: otelhttp.NewHandler(deviceMux, "device"),
	}
	adminServer := &http.Server{Addr: v.GetString(adminAddrKey), Handler: adminhttp.NewRouter(logger, groups)}

	eg, egCtx := errgroup.WithContext(context.Background())
	runServer := func(s *http.Server, name string) func() error {
		return func() error {
			infoLogger.Log("msg", "starting server", "server", name, "address", s.Addr)
			if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errorLogger.Log("msg", "server exited with error", "server", name, "err", err)
				return err
			}
			return nil
		}
	}
	eg.Go(runServer(deviceServer, "device"))
	eg.Go(runServer(adminServer, "admin"))

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt)

	select {
	case sig := <-signals:
		infoLogger.Log("msg", "exiting due to signal", "signal", sig)
	case <-egCtx.Done():
		infoLogger.Log("msg", "exiting: a server stopped unexpectedly")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	deviceServer.Shutdown(shutdownCtx)
	adminServer.Shutdown(shutdownCtx)
	_ = eg.Wait()

	return 0
}

// positionSaver adapts the reference MemoryDeviceManager to ws.PositionSink.
type positionSaver struct {
	devices *oracle.MemoryDeviceManager
}

func (p positionSaver) SavePosition(_ context.Context, deviceID int64, position *model.Position) error {
	p.devices.SetLastPosition(deviceID, position)
	return nil
}

func main() {
	os.Exit(trackerd(os.Args[1:]))
}
