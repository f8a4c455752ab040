package cmd

import (
	"fmt"

	"github.com/andrewhowdencom/drip/internal/campaign"
	"github.com/andrewhowdencom/drip/internal/clients/email"
	"github.com/andrewhowdencom/drip/internal/clients/slack"
	"github.com/andrewhowdencom/drip/internal/datastore"
	"github.com/andrewhowdencom/drip/internal/engine"
	"github.com/andrewhowdencom/drip/internal/executor"
	"github.com/andrewhowdencom/drip/internal/gateway"
	"github.com/andrewhowdencom/drip/internal/http"
	"github.com/andrewhowdencom/drip/internal/kv"
	"github.com/andrewhowdencom/drip/internal/poller"
	"github.com/andrewhowdencom/drip/internal/processor"
	"github.com/andrewhowdencom/drip/internal/scheduler"
	"github.com/andrewhowdencom/drip/internal/sourcer"
	"github.com/andrewhowdencom/drip/internal/worker"
	"github.com/spf13/viper"
)

var (
	datastoreNewStore         = datastore.NewStore
	datastoreNewReadOnlyStore = datastore.NewReadOnlyStore
	slackNewClient            = slack.NewClient
	emailNewClient            = email.NewClient
)

// buildSourcer creates a new sourcer with the default fetchers.
func buildSourcer() sourcer.Sourcer {
	client := http.NewClient(viper.GetDuration("templates.fetch_timeout"))
	fetcher := sourcer.NewCompositeFetcher()
	fetcher.AddFetcher("http", sourcer.NewHTTPFetcher(client))
	fetcher.AddFetcher("https", sourcer.NewHTTPFetcher(client))
	fetcher.AddFetcher("file", sourcer.NewFileFetcher())
	fetcher.AddFetcher("git", sourcer.NewGitFetcher(viper.GetStringMapString("git.tokens")))
	return sourcer.NewSourcer(fetcher, sourcer.NewYAMLParser())
}

// buildGateway routes messages to the configured transports, or logs them in
// dry run mode.
func buildGateway() gateway.Gateway {
	if viper.GetBool("dispatcher.dry_run") {
		return gateway.DryRun{}
	}

	router := gateway.NewRouter(viper.GetString("dispatcher.default_scheme"))
	if token := viper.GetString("slack.app.token"); token != "" {
		router.Handle("slack", gateway.NewSlack(slackNewClient(token)))
	}
	if host := viper.GetString("email.host"); host != "" {
		router.Handle("email", gateway.NewEmail(emailNewClient(
			host,
			viper.GetInt("email.port"),
			viper.GetString("email.username"),
			viper.GetString("email.password"),
			viper.GetString("email.from"),
		)))
	}
	return router
}

// buildEngine wires the scheduler, executor and gateway over store.
func buildEngine(store kv.Storer, templates processor.TemplateStore) (*engine.Engine, error) {
	exec := executor.New(store, processor.NewResolver(templates), buildGateway(),
		executor.WithSendTimeout(viper.GetDuration("engine.send_timeout")),
		executor.WithClaimTTL(viper.GetDuration("engine.claim_ttl")),
		executor.WithMaxFailures(viper.GetInt("engine.max_failures")),
	)

	eng, err := engine.New(scheduler.New(store), exec,
		engine.WithConcurrency(viper.GetInt("engine.concurrency")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	return eng, nil
}

// buildWorker creates a worker sweeping store on the engine.schedule cadence
// and refreshing its template catalog from templates.urls.
func buildWorker(store kv.Storer) (*worker.Worker, error) {
	catalog := processor.NewCatalog()

	eng, err := buildEngine(store, catalog)
	if err != nil {
		return nil, err
	}

	trigger, err := buildTrigger()
	if err != nil {
		return nil, err
	}

	return worker.New(eng, trigger,
		worker.WithTemplates(
			poller.New(buildSourcer()),
			catalog,
			viper.GetStringSlice("templates.urls"),
			viper.GetDuration("templates.refresh_interval"),
		),
	), nil
}

// buildTrigger uses engine.interval when it is set, and the engine.schedule
// cron expression otherwise.
func buildTrigger() (worker.Trigger, error) {
	if d := viper.GetDuration("engine.interval"); d > 0 {
		return worker.NewIntervalTrigger(d), nil
	}
	return worker.NewCronTrigger(viper.GetString("engine.schedule"))
}

// openManager opens the configured store and a campaign manager over it.
func openManager(readOnly bool) (*campaign.Manager, kv.Storer, error) {
	open := datastoreNewStore
	if readOnly {
		open = datastoreNewReadOnlyStore
	}
	store, err := open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create store: %w", err)
	}
	return campaign.New(store), store, nil
}
