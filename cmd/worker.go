package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"caseflow/botengine"
	"caseflow/botengine/providers"
	"caseflow/config"
	"caseflow/domains/whatsapp"
	"caseflow/infrastructure/bucket"
	"caseflow/infrastructure/queue"
	"caseflow/pkg/whatsapi"
	"caseflow/usecase"
	"caseflow/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Drain the ingestion queue and answer users",
	Run:   runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(_ *cobra.Command, _ []string) {
	cfg := config.Global

	store := bucket.NewClient(cfg.Bucket)
	q, err := queue.Open(cfg.Queue.Path)
	if err != nil {
		logrus.Fatalf("[WORKER] %v", err)
	}
	defer q.Close()

	sender := whatsapi.NewClient(cfg.WhatsApp.APIBase, cfg.WhatsApp.Token)

	agent, err := buildAgent(cfg.Agent)
	if err != nil {
		logrus.Fatalf("[WORKER] %v", err)
	}
	hooks := &usecase.AgentHooks{
		Agent: agent,
		Tools: map[string]usecase.ToolFunc{
			"resolve_case": usecase.MarkResolvedTool,
		},
	}

	handlerCfg := usecase.Config{
		MaxContextLen:  cfg.Handler.MaxContextLen,
		StaleThreshold: cfg.Handler.StaleThreshold,
		Debug:          cfg.Handler.DebugEnvelope,
	}
	factory := func(ctx context.Context, operator whatsapp.Metadata, user whatsapp.Contact) (*usecase.CaseHandler, error) {
		h, err := usecase.NewCaseHandler(ctx, store, sender, operator, user, handlerCfg)
		if err != nil {
			return nil, err
		}
		h.SetHooks(hooks)
		return h, nil
	}

	w := worker.New(q, sender, factory, worker.Config{
		PollBusy:      cfg.Queue.PollBusy,
		PollIdle:      cfg.Queue.PollIdle,
		ResponseDelay: cfg.Queue.ResponseDelay,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := w.Run(ctx); err != nil {
		logrus.Fatalf("[WORKER] %v", err)
	}
}

// buildAgent constructs the conversation agent from the configured model
// spec(s) and binds the matching provider.
func buildAgent(cfg config.AgentConfig) (*botengine.Agent, error) {
	specs := strings.Split(cfg.Model, ",")
	for i := range specs {
		specs[i] = strings.TrimSpace(specs[i])
	}

	agent, err := botengine.New("caseflow", specs...)
	if err != nil {
		return nil, err
	}
	if cfg.PromptPath != "" {
		if err := agent.LoadPrompts(botengine.PromptSource{Path: cfg.PromptPath}); err != nil {
			return nil, err
		}
	}
	agent.AddPostProcessor(whatsapi.MarkdownToWhatsApp)

	provider, err := providers.ForAPI(agent.API(), cfg)
	if err != nil {
		return nil, err
	}
	agent.Bind(provider)
	return agent, nil
}
