package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/campaign-cli/internal/dispatch"
	"github.com/sells-group/campaign-cli/internal/heartbeat"
	"github.com/sells-group/campaign-cli/internal/lease"
	"github.com/sells-group/campaign-cli/internal/orchestrator"
	"github.com/sells-group/campaign-cli/internal/research"
	"github.com/sells-group/campaign-cli/internal/resilience"
	"github.com/sells-group/campaign-cli/internal/worker"
)

var workerStage string

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the poll loop for one campaign stage",
	Long:  "Claims units of work for the given stage (discovery, research, or contact), processes them, and advances runs whose stage gap has closed. Scale out by running more worker processes.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("worker"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		hostname, _ := os.Hostname()
		workerID := fmt.Sprintf("%s-%s-%s", workerStage, hostname, uuid.NewString()[:8])

		leases := lease.NewManager(st, workerID, lease.Config{
			LeaseDuration:      time.Duration(cfg.Lease.Seconds) * time.Second,
			MaxContactAttempts: cfg.Contacts.MaxAttempts,
			Retry:              resilience.FromConfig(resilience.StoreRetry(), cfg.Retry.StoreAttempts, 0, 0),
		})
		orch := orchestrator.New(st, initNotifier(), orchestrator.Config{
			OversampleFactor:   cfg.Discovery.OversampleFactor,
			MaxCloseAttempts:   cfg.Orchestrator.MaxCloseAttempts,
			MaxContactAttempts: cfg.Contacts.MaxAttempts,
		})

		emitter := heartbeat.NewEmitter(st, workerID, workerStage, heartbeatInterval())
		emitter.Start(ctx)
		defer emitter.Stop(cmd.Context())

		handler, err := buildHandler(st, leases, emitter, orch)
		if err != nil {
			return err
		}

		zap.L().Info("worker starting",
			zap.String("worker_id", workerID),
			zap.String("stage", workerStage),
		)
		loop := worker.NewLoop(handler, time.Duration(cfg.Worker.IdleSleepSecs)*time.Second)
		return loop.Run(ctx)
	},
}

func buildHandler(st worker.Store, leases worker.Leases, tasks worker.TaskReporter,
	orch worker.Advancer) (worker.Handler, error) {
	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		OnStateChange: func(state string) {
			zap.L().Warn("search circuit state changed", zap.String("state", state))
		},
	})
	search := research.WithBreaker(initPerplexity(), breaker)
	ai := initAnthropic()
	taskRetry := resilience.FromConfig(resilience.DiscoveryTaskRetry(), cfg.Retry.DiscoveryAttempts, 0, 0)
	agentCfg := research.AgentConfig{
		Model:     cfg.Anthropic.SonnetModel,
		MaxTokens: int64(cfg.Anthropic.MaxTokens),
		Retry:     taskRetry,
	}

	switch workerStage {
	case "discovery":
		return worker.NewDiscoveryHandler(st, leases, tasks, orch,
			research.NewDiscoveryAgent(search, ai, agentCfg),
			initSuppressor(),
			worker.DiscoveryConfig{
				OversampleFactor:   cfg.Discovery.OversampleFactor,
				RegionCount:        cfg.Discovery.PoolSize,
				MaxContactAttempts: cfg.Contacts.MaxAttempts,
				Dispatch: dispatch.Config{
					Concurrency: cfg.Discovery.PoolSize,
					Limiter:     rate.NewLimiter(rate.Limit(cfg.Discovery.RatePerSec), 1),
					Retry:       taskRetry,
				},
			}), nil
	case "research":
		return worker.NewResearchHandler(st, leases, tasks, orch,
			research.NewAgent(search, ai, agentCfg)), nil
	case "contact":
		return worker.NewContactHandler(st, leases, tasks, orch,
			research.NewContactAgent(search, ai, agentCfg)), nil
	default:
		return nil, eris.Errorf("unknown stage %q (want discovery, research, or contact)", workerStage)
	}
}

func init() {
	workerCmd.Flags().StringVar(&workerStage, "stage", "", "stage to work: discovery, research, or contact (required)")
	workerCmd.MarkFlagRequired("stage")
	rootCmd.AddCommand(workerCmd)
}
