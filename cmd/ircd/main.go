package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"

	"github.com/datRooster/ircapp/irc/config"
	"github.com/datRooster/ircapp/irc/server"
	"github.com/datRooster/ircapp/irc/store"
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

	log.Printf("Starting %s with the following configuration:", cfg.Server.Name)
	log.Printf("IRC bind address: %s", cfg.GetListenAddress())
	if cfg.Admin.Enabled {
		log.Printf("Admin bind address: %s", cfg.GetAdminListenAddress())
	}
	log.Printf("Store path: %s", cfg.Store.Path)
	if cfg.Secure.Key != "" {
		log.Printf("Message encryption: enabled (key id %s)", cfg.Secure.KeyID)
	} else {
		log.Printf("Message encryption: disabled, messages persist as plaintext")
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}

	srv, err := server.NewServer(cfg, st)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	log.Println("IRC server started successfully!")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Println("Server is running. Press Ctrl+C to stop.")
	<-sigChan
	log.Println("Shutdown signal received, stopping server...")

	if err := srv.Stop(); err != nil {
		log.Printf("Error stopping server: %v", err)
	}
	log.Println("Server stopped. Goodbye!")
}
