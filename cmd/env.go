package main

import (
	"context"
	"os"
	"time"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-cli/internal/crm"
	"github.com/sells-group/campaign-cli/internal/notify"
	"github.com/sells-group/campaign-cli/internal/store"
	"github.com/sells-group/campaign-cli/pkg/anthropic"
	"github.com/sells-group/campaign-cli/pkg/perplexity"
	sfpkg "github.com/sells-group/campaign-cli/pkg/salesforce"
)

func initStore(ctx context.Context) (store.Store, error) {
	if cfg.Store.Driver != "postgres" {
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
}

func initNotifier() notify.Notifier {
	return notify.FromConfig(cfg.Notify.WebhookURL)
}

func initAnthropic() anthropic.Client {
	return anthropic.NewClient(cfg.Anthropic.Key)
}

func initPerplexity() perplexity.Client {
	opts := []perplexity.Option{}
	if cfg.Perplexity.BaseURL != "" {
		opts = append(opts, perplexity.WithBaseURL(cfg.Perplexity.BaseURL))
	}
	if cfg.Perplexity.Model != "" {
		opts = append(opts, perplexity.WithModel(cfg.Perplexity.Model))
	}
	return perplexity.NewClient(cfg.Perplexity.Key, opts...)
}

// initSuppressor builds the CRM suppression check. Missing Salesforce
// credentials disable suppression rather than failing the worker.
func initSuppressor() crm.Suppressor {
	if cfg.Salesforce.ClientID == "" {
		zap.L().Info("salesforce not configured, CRM suppression disabled")
		return crm.Nop{}
	}

	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		zap.L().Warn("read salesforce JWT private key failed, CRM suppression disabled", zap.Error(err))
		return crm.Nop{}
	}

	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         cfg.Salesforce.LoginURL,
		Username:       cfg.Salesforce.Username,
		ConsumerKey:    cfg.Salesforce.ClientID,
		ConsumerRSAPem: string(pemData),
	})
	if err != nil {
		zap.L().Warn("salesforce init failed, CRM suppression disabled", zap.Error(err))
		return crm.Nop{}
	}

	return crm.NewSalesforceSuppressor(sfpkg.NewClient(sf, sfpkg.WithRateLimit(5)))
}

func heartbeatInterval() time.Duration {
	return time.Duration(cfg.Heartbeat.IntervalSecs) * time.Second
}
