package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/datRooster/ircapp/bridge"
	"github.com/datRooster/ircapp/irc/config"
	"github.com/datRooster/ircapp/irc/store"
	"github.com/datRooster/ircapp/wait"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (yaml, toml, or json)")
	flag.Parse()

	var cfg *config.Config
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config from %s: %v", *configPath, err)
		}
	} else {
		cfg = config.LoadDefault()
	}

	log.Printf("Starting webapp bridge with the following configuration:")
	log.Printf("IRC server address: %s", cfg.GetBridgeServerAddress())
	log.Printf("Bridge nick: %s", cfg.Bridge.Nick)
	log.Printf("Bridge API bind address: %s", cfg.GetBridgeAPIListenAddress())
	log.Printf("Webhook URL: %s", cfg.Bridge.WebhookURL)

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}

	b, err := bridge.New(cfg, st)
	if err != nil {
		log.Fatalf("Failed to create bridge: %v", err)
	}

	log.Printf("Waiting for IRC server at %s...", cfg.GetBridgeServerAddress())
	err = wait.ForTCP(cfg.GetBridgeServerAddress(),
		wait.DefaultOptions().WithTimeout(2*time.Minute).WithMaxRetries(60))
	if err != nil {
		log.Fatalf("IRC server never became reachable: %v", err)
	}

	go func() {
		if err := b.Run(); err != nil {
			log.Fatalf("Bridge stopped with error: %v", err)
		}
	}()
	log.Println("Webapp bridge started successfully!")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Println("Bridge is running. Press Ctrl+C to stop.")
	<-sigChan
	log.Println("Shutdown signal received, stopping bridge...")

	b.Stop()
	log.Println("Bridge stopped. Goodbye!")
}
