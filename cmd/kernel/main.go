// Command kernel runs the SeerLord agent kernel: it wires the configured
// providers, stores, plugins, and planner together and serves an interactive
// chat loop on stdin. `kernel skills` lists the stored skills instead.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"seerlord/internal/adapter/embedding"
	"seerlord/internal/adapter/llm"
	"seerlord/internal/adapter/memory"
	"seerlord/internal/adapter/skillstore"
	"seerlord/internal/adapter/vector"
	"seerlord/internal/domain"
	"seerlord/internal/infra/config"
	"seerlord/internal/infra/logger"
	"seerlord/internal/infra/tracer"
	"seerlord/internal/plugins"
	"seerlord/internal/usecase/eventbus"
	"seerlord/internal/usecase/evolution"
	"seerlord/internal/usecase/planner"
	"seerlord/internal/usecase/registry"
	"seerlord/internal/usecase/skills"
)

// embedCacheSize bounds the in-process embedding cache.
const embedCacheSize = 512

func main() {
	configPath := flag.String("config", "seerlord.yaml", "path to the config file")
	tenant := flag.String("tenant", "default", "tenant id for this session")
	user := flag.String("user", "", "user id for this session")
	target := flag.String("plugin", domain.AutoTarget, "target plugin, or auto")
	language := flag.String("lang", "", "force the response language")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch flag.Arg(0) {
	case "", "chat":
		err = runChat(ctx, *configPath, *tenant, *user, *target, *language)
	case "skills":
		err = runSkills(ctx, *configPath, *tenant)
	default:
		err = fmt.Errorf("unknown command %q (expected chat or skills)", flag.Arg(0))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// kernel holds the wired components and their shutdown hooks.
type kernel struct {
	store    *skillstore.SQLStore
	coord    *planner.Coordinator
	bus      *eventbus.Bus
	shutdown []func()
}

func (k *kernel) close() {
	for i := len(k.shutdown) - 1; i >= 0; i-- {
		k.shutdown[i]()
	}
}

func buildKernel(ctx context.Context, configPath string) (*kernel, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, err
	}
	k := &kernel{}
	k.shutdown = append(k.shutdown, func() { _ = closeLog() })

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return nil, err
	}
	k.shutdown = append(k.shutdown, func() { _ = shutdownTracer(context.Background()) })

	embedder := buildEmbedder(cfg.Embedding)

	index, err := buildVectorIndex(ctx, cfg, embedder.Dimensions(), log)
	if err != nil {
		return nil, err
	}
	if closer, ok := index.(interface{ Close() error }); ok {
		k.shutdown = append(k.shutdown, func() { _ = closer.Close() })
	}

	store, err := skillstore.New(cfg.Skills, index, embedder, log)
	if err != nil {
		return nil, err
	}
	k.store = store
	k.shutdown = append(k.shutdown, func() { _ = store.Close() })

	var mem domain.MemoryProvider
	if cfg.Memory.Enabled {
		mem = memory.NewVectorMemory(index, embedder, cfg.Memory.MinScore, log)
	} else {
		mem = memory.NewNoop()
	}

	provider := buildLLM(cfg.LLM, log)

	bus := eventbus.New(log)
	k.bus = bus
	k.shutdown = append(k.shutdown, bus.Close)

	engine := evolution.New(provider, cfg.LLM.Model, log)
	manager := skills.NewManager(store, engine, bus, log)

	builtins, err := plugins.All(plugins.Deps{
		LLM:        provider,
		Model:      cfg.LLM.Model,
		Skills:     manager,
		Memory:     mem,
		MemoryTopK: cfg.Memory.TopK,
		Graph:      cfg.Graph,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}

	reg := registry.New(bus, log)
	for _, p := range builtins {
		if err := reg.Register(ctx, p, p.Name()); err != nil {
			return nil, err
		}
	}

	router := planner.NewRouter(provider, reg, cfg.LLM.Model, cfg.Planner, bus, log)
	k.coord = planner.NewCoordinator(router, reg, provider, cfg.LLM.Model, mem, bus, cfg.Planner, log)
	return k, nil
}

func buildEmbedder(cfg config.EmbeddingConfig) domain.EmbeddingProvider {
	var inner domain.EmbeddingProvider
	switch cfg.Provider {
	case "hash":
		inner = embedding.NewHashProvider(cfg.Dimensions)
	default:
		inner = embedding.NewOpenAIProvider(cfg)
	}
	return embedding.NewCachedEmbedder(inner, embedCacheSize)
}

func buildVectorIndex(ctx context.Context, cfg *config.Config, dims int, log *slog.Logger) (domain.VectorIndex, error) {
	if cfg.Vector.Backend == "qdrant" {
		return vector.NewQdrantIndex(ctx, cfg.Vector.Addr, cfg.Vector.Collection, dims, log)
	}
	// The vector index gets its own database file: the skill store holds a
	// write transaction open while the index upserts, and two writers on
	// one WAL file would deadlock there.
	return vector.NewSQLiteIndex(vectorDBPath(cfg.Skills.DBPath), log)
}

// vectorDBPath derives the vector index file from the relational one.
func vectorDBPath(skillsPath string) string {
	if ext := ".db"; strings.HasSuffix(skillsPath, ext) {
		return strings.TrimSuffix(skillsPath, ext) + ".vectors" + ext
	}
	return skillsPath + ".vectors"
}

func buildLLM(cfg config.LLMConfig, log *slog.Logger) domain.LLMProvider {
	var base domain.LLMProvider
	switch cfg.Provider {
	case "mock":
		base = llm.NewMockProvider()
	default:
		base = llm.NewOpenAIProvider(cfg, log)
	}
	limited := llm.NewRateLimitedProvider(base, cfg.RateLimit, cfg.RateBurst)
	return llm.NewCircuitBreakerProvider(limited, cfg.MaxFailures, log)
}

func runChat(ctx context.Context, configPath, tenant, user, target, language string) error {
	k, err := buildKernel(ctx, configPath)
	if err != nil {
		return err
	}
	defer k.close()

	// Surface skill lifecycle events as "thinking" lines.
	unsubscribe := k.bus.SubscribeAll(func(_ context.Context, ev domain.Event) {
		switch ev.Type {
		case domain.EventSkillRetrieved:
			fmt.Fprintf(os.Stderr, "  · skill %s (%s, %s)\n", ev.Payload["name"], ev.Payload["level"], ev.Payload["reason"])
		case domain.EventSkillEvolutionStart:
			fmt.Fprintln(os.Stderr, "  · evolving a new skill ...")
		case domain.EventSkillEvolved:
			fmt.Fprintf(os.Stderr, "  · evolved skill %s (%s)\n", ev.Payload["name"], ev.Payload["level"])
		case domain.EventSkillRefined:
			fmt.Fprintf(os.Stderr, "  · refined skill %s\n", ev.Payload["name"])
		}
	})
	defer unsubscribe()

	fmt.Printf("seerlord kernel ready (tenant=%s, plugin=%s). Ctrl-D to exit.\n", tenant, target)

	var history []domain.Message
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		history = append(history, domain.UserMessage(line))
		resp, err := k.coord.Handle(ctx, &domain.AgentRequest{
			TenantID:     tenant,
			UserID:       user,
			TargetPlugin: target,
			Language:     language,
			Messages:     history,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		history = append(history, domain.AssistantMessage(resp.Content))
		fmt.Println(resp.Content)
	}
	return scanner.Err()
}

func runSkills(ctx context.Context, configPath, tenant string) error {
	k, err := buildKernel(ctx, configPath)
	if err != nil {
		return err
	}
	defer k.close()

	for _, scope := range []string{tenant, domain.GlobalSkillTenant} {
		list, err := k.store.ListSkills(ctx, scope)
		if err != nil {
			return err
		}
		fmt.Printf("%s (%d skills)\n", scope, len(list))
		for _, s := range list {
			fmt.Printf("  %-26s %-8s ok=%d fail=%d  %s\n",
				s.Name, s.Level, s.Stats.SuccessCount, s.Stats.FailureCount, s.Description)
		}
	}
	return nil
}
