package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spoolsync/spoolsync/cmd/spoolsync/gatesync"
	"github.com/spoolsync/spoolsync/cmd/spoolsync/helper"
	"github.com/spoolsync/spoolsync/cmd/spoolsync/moonraker"
	"github.com/spoolsync/spoolsync/cmd/spoolsync/nfc"
	"github.com/spoolsync/spoolsync/cmd/spoolsync/shared"
	"github.com/spoolsync/spoolsync/cmd/spoolsync/spoolman"
	"github.com/spoolsync/spoolsync/internal"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"go.uber.org/zap"
)

var buildtime string

func main() {
	helper.InitLogging()
	internal.Initfgtrace()
	InitPrometheus()

	zap.S().Infof("This is spoolsync build date: %s", buildtime)

	moonrakerURL, err := env.GetAsString("MOONRAKER_URL", true, "")
	if err != nil {
		zap.S().Fatalf("Moonraker url (MOONRAKER_URL) must be set")
	}
	spoolmanURL, err := env.GetAsString("SPOOLMAN_URL", true, "")
	if err != nil {
		zap.S().Fatalf("Spoolman url (SPOOLMAN_URL) must be set")
	}
	nfcDevice, _ := env.GetAsString("NFC_DEVICE", false, "")
	clearSpool, _ := env.GetAsBool("CLEAR_SPOOL", false, false)
	gate, _ := env.GetAsInt("GATE", false, 0)
	disableWeb, _ := env.GetAsBool("DISABLE_WEB_SERVER", false, false)
	webAddress, _ := env.GetAsString("WEB_ADDRESS", false, "0.0.0.0")
	webPort, _ := env.GetAsInt("WEB_PORT", false, 5001)

	moonrakerClient := moonraker.NewClient(moonrakerURL)
	spoolmanClient := spoolman.NewClient(spoolmanURL)
	engine := gatesync.New(moonrakerClient, clearSpool, gate)

	// Unset the current spool & filament before the reader starts, a stale
	// assignment from a previous run must not survive a restart.
	engine.ClearOnStartup()

	reader, err := nfc.NewReader(nfcDevice)
	if err != nil {
		zap.S().Fatalf("Failed to open NFC reader: %s", err)
	}

	SetupMQTT()

	reader.SetTagPresentCallback(func(rec shared.TagRecord) {
		engine.OnTagPresent(rec)
		announceTagPresent(rec)
	})
	reader.SetNoTagPresentCallback(func() {
		engine.OnTagAbsent()
		announceTagAbsent()
	})

	InitHealthCheck(moonrakerURL)

	readerDone := make(chan struct{})
	internal.NewGracefulShutdown(func() error {
		reader.Stop()
		<-readerDone
		return nil
	})

	if disableWeb {
		zap.S().Infof("Web server disabled, running reader only")
		reader.Run()
		close(readerDone)
		return
	}

	zap.S().Infof("Starting nfc-handler")
	go func() {
		reader.Run()
		close(readerDone)
	}()

	router := SetupRouter(engine, reader, spoolmanClient)
	addr := fmt.Sprintf("%s:%d", webAddress, webPort)
	zap.S().Infof("Starting web server on %s", addr)
	if err := router.Run(addr); err != nil {
		// the reader must not keep firing callbacks into a dead process
		zap.S().Errorf("Web server failed: %s", err)
		reader.Stop()
		<-readerDone
		os.Exit(1)
	}
}

func InitPrometheus() {
	metricsPath := "/metrics"
	metricsPort := ":2112"
	zap.S().Debugf("Setting up metrics %s %v", metricsPath, metricsPort)

	http.Handle(metricsPath, promhttp.Handler())
	go func() {
		/* #nosec G114 */
		err := http.ListenAndServe(metricsPort, nil)
		if err != nil {
			zap.S().Errorf("Error starting metrics: %s", err)
		}
	}()
}

func InitHealthCheck(moonrakerURL string) {
	zap.S().Debugf("Setting up healthcheck")

	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(1000000))
	health.AddReadinessCheck("moonraker", healthcheck.HTTPGetCheck(moonrakerURL+"/printer/info", internal.FiveSeconds))
	go func() {
		/* #nosec G114 */
		err := http.ListenAndServe("0.0.0.0:8086", health)
		if err != nil {
			zap.S().Errorf("Error starting healthcheck: %s", err)
		}
	}()
}
