// devserver is a scripted backend for local development: it serves the
// push channel at /api/events with a canned scenario (conversation,
// messages, typing, reactions) plus heartbeats, and stubs the collaborator
// API endpoints. Pass -drop-after (or ?drop_after= on the stream request)
// to sever the stream and exercise the client's reconnect path.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/parishlink/messaging/internal/events"
	"github.com/parishlink/messaging/internal/types"
)

var (
	addr      string
	dropAfter time.Duration
	heartbeat time.Duration
)

type script struct {
	delay time.Duration
	name  string
	data  any
}

func main() {
	flag.StringVar(&addr, "addr", "localhost:8080", "listen address")
	flag.DurationVar(&dropAfter, "drop-after", 0, "sever the stream after this duration (0 = never)")
	flag.DurationVar(&heartbeat, "heartbeat", 15*time.Second, "heartbeat interval")
	flag.Parse()

	logger := log.New(os.Stderr, "[devserver] ", log.LstdFlags)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/events", streamHandler(logger))
	mux.HandleFunc("POST /api/conversations", createConversationHandler)
	mux.HandleFunc("POST /api/conversations/{id}/read", okHandler)
	mux.HandleFunc("POST /api/conversations/{id}/typing", okHandler)
	mux.HandleFunc("POST /api/conversations/{id}/messages", sendMessageHandler)
	mux.HandleFunc("POST /api/calls/offer", okHandler)
	mux.HandleFunc("POST /api/calls/answer", okHandler)
	mux.HandleFunc("POST /api/calls/hangup", okHandler)
	mux.HandleFunc("POST /api/calls/busy", okHandler)

	handler := handlers.LoggingHandler(os.Stdout,
		handlers.CORS(
			handlers.AllowedOrigins([]string{"*"}),
			handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
		)(mux))

	logger.Printf("listening on %s", addr)
	if err := http.ListenAndServe(addr, handler); err != nil {
		logger.Fatal(err)
	}
}

func scenario() []script {
	convId := "c-" + uuid.NewString()
	peer := types.User{Id: "u-martha", Name: "Martha"}

	conv := types.Conversation{
		Id:        convId,
		Type:      types.ConversationDirect,
		Name:      peer.Name,
		UpdatedAt: time.Now(),
	}

	msg := types.Message{
		Id:             uuid.NewString(),
		ConversationId: convId,
		SenderId:       peer.Id,
		Content:        "See you at the potluck on Sunday?",
		CreatedAt:      time.Now(),
	}

	return []script{
		{delay: 0, name: events.TypeNewConversation, data: conv},
		{delay: 2 * time.Second, name: events.TypeTypingStart, data: map[string]string{"conversation_id": convId, "user_id": peer.Id}},
		{delay: 3 * time.Second, name: events.TypeNewMessage, data: msg},
		{delay: 4 * time.Second, name: events.TypeMessageReaction, data: map[string]any{
			"conversation_id": convId,
			"message_id":      msg.Id,
			"reactions":       map[string][]string{"🙏": {peer.Id}},
		}},
	}
}

func streamHandler(logger *log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		write := func(name string, data any) {
			env, err := events.Encode(name, data)
			if err != nil {
				logger.Println("encode:", err)
				return
			}
			raw, _ := json.Marshal(env)
			fmt.Fprintf(w, "data: %s\n\n", raw)
			flusher.Flush()
		}

		write(events.TypeConnectionEstablished, map[string]string{"session_id": uuid.NewString()})

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		drop := dropAfter
		if raw := r.URL.Query().Get("drop_after"); raw != "" {
			if d, err := time.ParseDuration(raw); err == nil {
				drop = d
			} else {
				logger.Println("bad drop_after value:", err)
			}
		}

		var deadline <-chan time.Time
		if drop > 0 {
			deadline = time.After(drop)
		}

		start := time.Now()
		steps := scenario()
		next := 0
		step := time.NewTicker(250 * time.Millisecond)
		defer step.Stop()

		for {
			select {
			case <-r.Context().Done():
				logger.Println("client went away")
				return
			case <-deadline:
				logger.Println("severing stream")
				return
			case <-ticker.C:
				write(events.TypeHeartbeat, nil)
			case <-step.C:
				for next < len(steps) && time.Since(start) >= steps[next].delay {
					write(steps[next].name, steps[next].data)
					next++
				}
			}
		}
	}
}

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func createConversationHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type types.ConversationType `json:"type"`
		Name string                 `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	conv := types.Conversation{
		Id:        "c-" + uuid.NewString(),
		Type:      req.Type,
		Name:      req.Name,
		UpdatedAt: time.Now(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(conv)
}

func sendMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content       string `json:"content"`
		CorrelationId string `json:"correlation_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	msg := types.Message{
		Id:             uuid.NewString(),
		ConversationId: r.PathValue("id"),
		SenderId:       "u-self",
		Content:        req.Content,
		CreatedAt:      time.Now(),
		CorrelationId:  req.CorrelationId,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(msg)
}
