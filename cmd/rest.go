package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/ui/rest"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var restCmd = &cobra.Command{
	Use:   "rest",
	Short: "Start the REST API, provider webhooks and realtime websocket server",
	Run:   runRest,
}

func init() {
	rootCmd.AddCommand(restCmd)
}

func runRest(_ *cobra.Command, _ []string) {
	startBackground()

	app := rest.NewApp(cfg, rest.AppDeps{
		Issuer:        tokenIssuer,
		Conversations: convUC,
		Advisors:      advisorUC,
		Channels:      channelUC,
		Queues:        queueUC,
		Campaigns:     campaignUC,
		Reports:       reportUC,
		FlowCatalog:   flowCatalog,
		FlowEngine:    flowEngine,
		ChannelRepo:   channelRepo,
		Pipeline:      pipeline,
		Pool:          pool,
		Metrics:       metricsRepo,
		MediaCache:    mediaCache,
		Indexer:       kbIndexer,
		Searcher:      kbSearcher,
		Knowledge:     kbRepo,
		Hub:           hub,
		Valkey:        vkClient,
		Version:       cfg.App.Version,
	})

	// Apagado limpio: el servidor deja de aceptar antes de parar los workers.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-shutdown
		logrus.Infof("[APP] Received signal %s, shutting down...", sig)
		if err := app.Shutdown(); err != nil {
			logrus.WithError(err).Error("[APP] Server shutdown error")
		}
		StopApp()
	}()

	logrus.Infof("[APP] CRM server %s listening on port %s", cfg.App.Version, cfg.App.Port)
	if err := app.Listen(":" + cfg.App.Port); err != nil {
		logrus.Fatalf("[APP] Server stopped: %v", err)
	}
}
