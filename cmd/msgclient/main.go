package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/parishlink/messaging"
	"github.com/parishlink/messaging/internal/config"
	"github.com/parishlink/messaging/internal/stats"
)

var (
	serverURL string
	token     string
	debugAddr string
)

func main() {
	flag.StringVar(&serverURL, "server", "http://localhost:8080", "base URL of the messaging backend")
	flag.StringVar(&token, "token", "", "session token (JWT)")
	flag.StringVar(&debugAddr, "debug-addr", "", "address to serve /debug/vars on (disabled if empty)")
	flag.Parse()

	logger := log.New(os.Stderr, "[msgclient] ", log.LstdFlags)

	cfg, err := config.NewConfig(serverURL, token)
	if err != nil {
		logger.Fatal("config: ", err)
	}

	deps := messaging.Deps{Logger: logger}

	if debugAddr != "" {
		mux := http.NewServeMux()
		statsUpdater := stats.NewUpdater(mux)
		statsUpdater.Run()
		defer statsUpdater.Stop()
		deps.Stats = statsUpdater

		go func() {
			if err := http.ListenAndServe(debugAddr, mux); err != nil {
				logger.Println("debug server:", err)
			}
		}()
	}

	m, err := messaging.New(cfg, deps)
	if err != nil {
		logger.Fatal("new messenger: ", err)
	}
	defer m.Close()

	m.Store().OnUpdate(func() {
		for _, c := range m.Store().Conversations() {
			preview := ""
			if c.LastMessage != nil {
				preview = c.LastMessage.Content
			}
			logger.Printf("conversation %s unread=%d last=%q", c.Id, c.UnreadCount, preview)
		}
	})

	m.Calls().OnChange(func(s messaging.CallState) {
		logger.Printf("call %s status=%s duration=%s", s.CallId, s.Status, s.Duration)
	})

	if err := m.Connect(); err != nil {
		logger.Println("initial connect:", err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	logger.Printf("received signal: %s, shutting down", sig)
}
