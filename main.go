package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"parley/pkg/agent"
	"parley/pkg/channels"
	_ "parley/pkg/channels/autoload" // register channel factories
	"parley/pkg/config"
	"parley/pkg/credpool"
	"parley/pkg/dispatch"
	"parley/pkg/llm"
	_ "parley/pkg/llm/autoload" // register LLM providers
	"parley/pkg/monitor"
	"parley/pkg/store"
	"parley/pkg/tools"
)

func main() {
	monitor.PrintBanner()

	// --- 0. Configuration ---
	cfg, sysCfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	monitor.SetupSlog(sysCfg.LogLevel)

	// --- 1. Credential pool + provider + gateway ---
	provider, err := llm.NewProvider(cfg.LLM, sysCfg)
	if err != nil {
		log.Fatalf("Failed to init LLM provider: %v", err)
	}

	keys := cfg.LLM.APIKeys
	if len(keys) == 0 {
		// Keyless providers (ollama) still need one pool entry to drive
		// the retry cadence.
		keys = []string{"local"}
	}
	pool := credpool.New(keys, time.Duration(sysCfg.CredentialCooldownMs)*time.Millisecond)

	// --- 2. Tool registry ---
	registry := tools.NewRegistry()
	registry.Register(tools.NewWeatherTool("", time.Duration(sysCfg.ToolTimeoutMs)*time.Millisecond))
	registry.Register(tools.NewClockTool())

	systemPrompt := cfg.SystemPrompt
	if sysCfg.EnableTools {
		systemPrompt += "\n\n" + registry.Describe()
	}

	gateway := llm.NewGateway(provider, pool, systemPrompt, sysCfg)

	// --- 3. Engine wiring ---
	cliMon := monitor.NewCLIMonitor()
	if err := cliMon.Start(); err != nil {
		log.Fatalf("Failed to start monitor: %v", err)
	}

	window := store.NewWindow(sysCfg.RecentWindow)
	dispatcher := dispatch.New(window, sysCfg, cliMon)
	engine := agent.NewEngine(gateway, registry, dispatcher, sysCfg, cliMon)

	// --- 4. Channels ---
	chans := channels.LoadFromConfig(cfg.Channels, sysCfg)
	if len(chans) == 0 {
		log.Fatal("No channels configured; nothing to do")
	}
	for _, ch := range chans {
		engine.RegisterClient(ch.ID(), ch.Client())
		if err := ch.Start(engine); err != nil {
			log.Fatalf("Failed to start channel %s: %v", ch.ID(), err)
		}
	}

	// --- 5. Wait for shutdown signal ---
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("Received shutdown signal. Stopping services...")

	for _, ch := range chans {
		if err := ch.Stop(); err != nil {
			log.Printf("Failed to stop channel %s: %v", ch.ID(), err)
		}
	}
	engine.Shutdown()
	cliMon.Stop()
	log.Println("Bye!")
}
