package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mahaj/convoflow/pkg/apiclient"
	"github.com/mahaj/convoflow/pkg/logging"
	"github.com/mahaj/convoflow/pkg/model"
	"github.com/mahaj/convoflow/pkg/presence"
	"github.com/mahaj/convoflow/pkg/typing"
	"github.com/rs/zerolog"
)

type frame struct {
	Type  string          `json:"type"`
	ID    string          `json:"id,omitempty"`
	Query string          `json:"query,omitempty"`
	Args  map[string]any  `json:"args,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// session is the state of one signed-in terminal.
type session struct {
	api    *apiclient.Client
	conn   *websocket.Conn
	selfID string
	log    zerolog.Logger

	writeMu sync.Mutex

	mu         sync.Mutex
	convs      []model.ConversationSummary
	users      []model.User
	unread     map[string]int
	search     string
	openConv   string
	openName   string
	shown      int
	lastFailed string
}

func (s *session) subscribe(id, query string, args map[string]any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(frame{Type: "subscribe", ID: id, Query: query, Args: args})
}

func (s *session) unsubscribe(id string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.WriteJSON(frame{Type: "unsubscribe", ID: id})
}

func (s *session) readLoop(done chan<- struct{}) {
	defer close(done)
	for {
		var f frame
		if err := s.conn.ReadJSON(&f); err != nil {
			s.log.Debug().Err(err).Msg("websocket read ended")
			return
		}
		if f.Type == "error" {
			fmt.Printf("\r[%s] error: %s\n> ", f.ID, f.Error)
			continue
		}
		s.apply(f)
	}
}

func (s *session) apply(f frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	switch {
	case f.ID == "conversations":
		err = json.Unmarshal(f.Data, &s.convs)
	case f.ID == "users":
		err = json.Unmarshal(f.Data, &s.users)
	case f.ID == "unread":
		s.unread = map[string]int{}
		err = json.Unmarshal(f.Data, &s.unread)
	case s.openConv != "" && f.ID == "messages:"+s.openConv:
		var msgs []model.Message
		if err = json.Unmarshal(f.Data, &msgs); err == nil {
			s.printNew(msgs)
		}
	}
	if err != nil {
		s.log.Warn().Err(err).Str("id", f.ID).Msg("undecodable snapshot")
	}
}

// printNew prints the messages not shown yet and marks the thread read.
func (s *session) printNew(msgs []model.Message) {
	now := time.Now()
	for _, m := range msgs[min(s.shown, len(msgs)):] {
		who := s.openName
		if m.SenderID == s.selfID {
			who = "you"
		}
		fmt.Printf("\r[%s] %s: %s\n", formatRelative(now, m.CreatedAt), who, m.Content)
	}
	if len(msgs) > s.shown {
		fmt.Print("> ")
	}
	s.shown = len(msgs)

	convID := s.openConv
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.api.MarkRead(ctx, convID, s.selfID); err != nil {
			s.log.Debug().Err(err).Msg("mark read failed")
		}
	}()
}

func (s *session) printSidebar() {
	s.mu.Lock()
	entries := buildSidebar(time.Now(), s.convs, s.users, s.unread, s.search)
	s.mu.Unlock()

	if len(entries) == 0 {
		fmt.Println("  (nobody here)")
	}
	for _, e := range entries {
		status := "offline"
		if e.Online {
			status = "online"
		}
		line := fmt.Sprintf("  %-20s %s", e.Name, status)
		if e.Typing {
			line += " typing..."
		}
		if e.Unread > 0 {
			line += fmt.Sprintf(" (%d unread)", e.Unread)
		}
		fmt.Println(line)
	}
}

func (s *session) open(ctx context.Context, name string) error {
	s.mu.Lock()
	var target *sidebarEntry
	for _, e := range buildSidebar(time.Now(), s.convs, s.users, s.unread, "") {
		if strings.EqualFold(e.Name, name) || e.UserID == name {
			target = &e
			break
		}
	}
	prev := s.openConv
	s.mu.Unlock()

	if target == nil {
		return fmt.Errorf("no user called %q", name)
	}
	convID, err := s.api.GetOrCreateConversation(ctx, target.UserID)
	if err != nil {
		return err
	}

	if prev != "" {
		s.unsubscribe("messages:" + prev)
	}
	s.mu.Lock()
	s.openConv, s.openName, s.shown = convID, target.Name, 0
	s.mu.Unlock()

	fmt.Printf("--- %s ---\n", target.Name)
	return s.subscribe("messages:"+convID, "messages", map[string]any{"conversation_id": convID})
}

func (s *session) send(ctx context.Context, body string) {
	s.mu.Lock()
	convID := s.openConv
	s.mu.Unlock()
	if convID == "" {
		fmt.Println("open a conversation first: /open <name>")
		return
	}

	if _, err := s.api.SendMessage(ctx, convID, body); err != nil {
		var apiErr *apiclient.APIError
		if errors.As(err, &apiErr) {
			fmt.Printf("message not sent: %s (/retry to resend)\n", apiErr.Message)
		} else {
			fmt.Printf("message not sent: %v (/retry to resend)\n", err)
		}
		s.mu.Lock()
		s.lastFailed = body
		s.mu.Unlock()
		return
	}
	s.mu.Lock()
	s.lastFailed = ""
	s.mu.Unlock()
}

func main() {
	gatewayAddr := flag.String("addr", "localhost:8080", "gateway service address")
	apiAddr := flag.String("api", "http://localhost:8081", "api service address")
	subject := flag.String("user", "user1", "identity subject to sign in as")
	name := flag.String("name", "", "display name")
	email := flag.String("email", "", "email address")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := "warn"
	if *verbose {
		level = "debug"
	}
	log := logging.New("client", level, true)
	ctx := context.Background()

	api := apiclient.New(*apiAddr)
	token, err := api.Login(ctx, apiclient.LoginRequest{Subject: *subject, Name: *name, Email: *email})
	if err != nil {
		log.Fatal().Err(err).Msg("Login failed")
	}
	api = api.WithToken(token)

	selfID, err := api.SyncUser(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("sync failed")
	}

	u := url.URL{Scheme: "ws", Host: *gatewayAddr, Path: "/ws"}
	header := http.Header{}
	header.Add("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		log.Fatal().Err(err).Msg("dial")
	}
	defer conn.Close()

	s := &session{api: api, conn: conn, selfID: selfID, log: log, unread: map[string]int{}}
	done := make(chan struct{})
	go s.readLoop(done)

	for id, args := range map[string]map[string]any{
		"conversations": nil,
		"users":         nil,
		"unread":        {"user_id": selfID},
	} {
		if err := s.subscribe(id, id, args); err != nil {
			log.Fatal().Err(err).Msg("subscribe")
		}
	}

	heartbeat := presence.NewHeartbeat(
		func(ctx context.Context) error {
			_, err := api.UpdatePresence(ctx, selfID)
			if err == nil {
				_, err = api.SetOnline(ctx)
			}
			return err
		},
		func(ctx context.Context) error {
			_, err := api.SetOffline(ctx)
			return err
		},
		log,
	)
	heartbeat.Start(ctx)

	throttle, err := typing.NewThrottle(typing.DefaultMinInterval, log)
	if err != nil {
		log.Fatal().Err(err).Msg("typing throttle")
	}

	fmt.Printf("signed in as %s. /list, /search <term>, /open <name>, /typing, /hide, /show, /retry, /quit\n", *subject)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	fmt.Print("> ")
	for {
		select {
		case <-done:
			heartbeat.Stop()
			return
		case <-interrupt:
			shutdown(s, heartbeat, done)
			return
		case text, ok := <-lines:
			if !ok || text == "/quit" {
				shutdown(s, heartbeat, done)
				return
			}
			handleLine(ctx, s, heartbeat, throttle, text)
			fmt.Print("> ")
		}
	}
}

func handleLine(ctx context.Context, s *session, heartbeat *presence.Heartbeat, throttle *typing.Throttle, text string) {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(text), " ")
	switch cmd {
	case "":
	case "/list":
		s.printSidebar()
	case "/search":
		s.mu.Lock()
		s.search = arg
		s.mu.Unlock()
		s.printSidebar()
	case "/open":
		if err := s.open(ctx, arg); err != nil {
			fmt.Println("open failed:", err)
		}
	case "/typing":
		throttle.Keystroke(ctx, func(ctx context.Context) error {
			return s.api.UpdateTyping(ctx, s.selfID)
		})
	case "/hide":
		heartbeat.SetVisible(false)
	case "/show":
		heartbeat.SetVisible(true)
	case "/retry":
		s.mu.Lock()
		body := s.lastFailed
		s.mu.Unlock()
		if body == "" {
			fmt.Println("nothing to retry")
			return
		}
		s.send(ctx, body)
	default:
		throttle.Keystroke(ctx, func(ctx context.Context) error {
			return s.api.UpdateTyping(ctx, s.selfID)
		})
		s.send(ctx, text)
	}
}

func shutdown(s *session, heartbeat *presence.Heartbeat, done <-chan struct{}) {
	heartbeat.Stop()

	s.writeMu.Lock()
	err := s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()
	if err != nil {
		s.log.Debug().Err(err).Msg("write close")
		return
	}
	select {
	case <-done:
	case <-time.After(time.Second):
	}
}
