package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dootlabs/doot/pkg/agent"
	"github.com/dootlabs/doot/pkg/bus"
	"github.com/dootlabs/doot/pkg/channels"
	"github.com/dootlabs/doot/pkg/config"
	"github.com/dootlabs/doot/pkg/heartbeat"
	"github.com/dootlabs/doot/pkg/schedule"
	"github.com/dootlabs/doot/pkg/session"
	"github.com/dootlabs/doot/pkg/store"
	"github.com/dootlabs/doot/pkg/task"
	"github.com/dootlabs/doot/pkg/utils"
	"github.com/dootlabs/doot/pkg/webhook"
)

const sessionKey = "chat_session.json"

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: doot <command> [args]")
		fmt.Println("Commands: serve, onboard")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "onboard":
		runOnboard()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	message := fs.String("m", "", "One-shot message, print the reply and exit")
	configPath := fs.String("c", "", "Path to config file")
	fs.Parse(args)

	// Secrets usually live in .env; a missing file is fine.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	workspace := expandPath(cfg.Agents.Defaults.Workspace)
	utils.SetupLogger(filepath.Join(workspace, "logs"))

	st, err := store.New(workspace)
	if err != nil {
		log.Fatalf("Could not open workspace store: %v", err)
	}

	if cfg.Providers.OpenAI.APIKey == "" {
		log.Println("Warning: no OpenAI API key configured; turns will fail until one is set")
	}
	executor := agent.NewOpenAIExecutor(
		cfg.Providers.OpenAI.APIKey,
		cfg.Providers.OpenAI.APIBase,
		cfg.Agents.Defaults.Model,
		cfg.Agents.Defaults.MaxTokens,
		float32(cfg.Agents.Defaults.Temperature),
	)
	turnTimeout := time.Duration(cfg.Agents.Defaults.TurnTimeoutSec) * time.Second

	coordinator := session.NewCoordinator(st, sessionKey, executor, turnTimeout)
	messageBus := bus.NewMessageBus()
	loop := agent.NewLoop(messageBus, coordinator)

	// An invalid timezone is a startup failure, never a per-tick error.
	engine, err := schedule.NewEngine(st, cfg.Schedule.Timezone, cfg.Schedule.Key, cfg.Schedule.LedgerKey)
	if err != nil {
		log.Fatalf("Could not start schedule engine: %v", err)
	}

	var notifier *channels.TelegramNotifier
	if cfg.Channels.Telegram.Enabled {
		tg := channels.NewTelegramChannel(cfg.Channels.Telegram.Token, cfg.Channels.Telegram.AllowFrom, messageBus, st)
		if err := tg.Start(); err != nil {
			log.Printf("Could not start Telegram channel: %v", err)
		} else {
			defer tg.Stop()
			messageBus.SubscribeOutbound(tg.Name(), func(msg bus.OutboundMessage) {
				if err := tg.Send(msg); err != nil {
					log.Printf("Could not send to Telegram: %v", err)
				}
			})
			notifier = channels.NewTelegramNotifier(tg, st, cfg.Channels.Telegram.ChatID)
		}
	}

	// Replies to webhook-triggered turns go out as notifications.
	messageBus.SubscribeOutbound(bus.ChannelNotify, func(msg bus.OutboundMessage) {
		if notifier == nil {
			log.Printf("Dropping notification (no chat surface): %s", msg.Content)
			return
		}
		if err := notifier.Send(context.Background(), msg.Content); err != nil {
			log.Printf("Could not deliver notification: %v", err)
		}
	})

	// Typed-nil care: only hand the interfaces a notifier that exists.
	var taskNotifier task.Notifier
	var hbNotifier heartbeat.Notifier
	if notifier != nil {
		taskNotifier = notifier
		hbNotifier = notifier
	}

	taskTimeout := turnTimeout
	if cfg.Schedule.TaskTimeoutSec > 0 {
		taskTimeout = time.Duration(cfg.Schedule.TaskTimeoutSec) * time.Second
	}
	supervisor := task.NewSupervisor(st, executor, engine, taskNotifier, nil, task.Config{
		Location:       cfg.Report.Location,
		ToEmail:        cfg.Report.ToEmail,
		MarkFailedRuns: cfg.Schedule.MarkFailedRuns,
		Timeout:        taskTimeout,
	})

	hb := heartbeat.New(
		time.Duration(cfg.Heartbeat.IntervalSec)*time.Second,
		turnTimeout,
		cfg.Heartbeat.ChecklistKey,
		st, executor, engine, supervisor, hbNotifier,
	)
	hb.Start()
	defer hb.Stop()

	server := webhook.NewServer(fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port), messageBus)
	server.Start()

	go messageBus.DispatchOutbound()
	go loop.Run()
	defer loop.Stop()
	defer messageBus.Stop()

	if *message != "" {
		done := make(chan struct{})
		messageBus.SubscribeOutbound("cli", func(msg bus.OutboundMessage) {
			fmt.Println(msg.Content)
			close(done)
		})
		messageBus.PublishInbound(bus.InboundMessage{
			Channel:   "cli",
			SenderID:  "user",
			ChatID:    "direct",
			Content:   *message,
			Origin:    bus.OriginInteractive,
			Timestamp: time.Now(),
		})
		<-done
		return
	}

	fmt.Println("doot running. Press Ctrl+C to stop.")
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Webhook server shutdown: %v", err)
	}
}

func runOnboard() {
	configDir := ".doot"
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		fmt.Printf("Error creating config directory: %v\n", err)
		os.Exit(1)
	}

	configFile := filepath.Join(configDir, "config.json")
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		if abs, err := filepath.Abs(filepath.Join(configDir, "workspace")); err == nil {
			cfg.Agents.Defaults.Workspace = abs
		}
		st, err := store.New(configDir)
		if err != nil {
			fmt.Printf("Error creating config directory: %v\n", err)
			os.Exit(1)
		}
		if err := st.WriteJSON("config.json", cfg); err != nil {
			fmt.Printf("Error writing config file: %v\n", err)
		} else {
			fmt.Printf("Created config file at %s\n", configFile)
		}
	} else {
		fmt.Printf("Config file already exists at %s\n", configFile)
	}

	workspace := filepath.Join(configDir, "workspace")
	st, err := store.New(workspace)
	if err != nil {
		fmt.Printf("Error creating workspace: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Created workspace at %s\n", workspace)

	seedIfMissing(st, "HEARTBEAT.md",
		"Check email and calendar for anything needing attention.\n"+
			"If nothing requires the user's attention, reply with exactly HEARTBEAT_OK.\n")
	seedIfMissing(st, "REPORT_PROMPT.md",
		"Search the web for current weather in {location} and recent police or\n"+
			"public safety activity or incidents in {location}. Compile a brief daily\n"+
			"report with dates and sources. Use a neutral tone.\n")
	seedIfMissing(st, "schedule.json",
		"[\n  {\"time\": \"07:00\", \"task_id\": \"report\", \"recurrence\": \"daily\", \"delivery\": \"email\"}\n]\n")

	fmt.Println("Onboarding complete! Edit .doot/config.json (or .env) to add your API keys.")
}

func seedIfMissing(st *store.Store, key, content string) {
	if _, ok, _ := st.Read(key); ok {
		return
	}
	if err := st.Write(key, []byte(content)); err != nil {
		fmt.Printf("Error creating %s: %v\n", key, err)
		return
	}
	fmt.Printf("Created default %s\n", key)
}
