package main

import (
	"context"
	"flag"
	"time"

	"github.com/mahaj/convoflow/pkg/apiclient"
	"github.com/mahaj/convoflow/pkg/logging"
	"github.com/mahaj/convoflow/pkg/snowflake"
)

// verify_api walks two dev users through a conversation against a running api.
func main() {
	apiAddr := flag.String("api", "http://localhost:8081", "api service address")
	flag.Parse()

	log := logging.New("verify_api", "info", true)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	base := apiclient.New(*apiAddr)
	if err := base.Health(ctx); err != nil {
		log.Fatal().Err(err).Msg("api is not healthy")
	}

	signIn := func(subject, name string) (*apiclient.Client, string) {
		token, err := base.Login(ctx, apiclient.LoginRequest{Subject: subject, Name: name})
		if err != nil {
			log.Fatal().Err(err).Str("subject", subject).Msg("Login failed")
		}
		c := base.WithToken(token)
		id, err := c.SyncUser(ctx)
		if err != nil {
			log.Fatal().Err(err).Str("subject", subject).Msg("sync failed")
		}
		log.Info().Str("subject", subject).Str("user_id", id).Msg("signed in")
		return c, id
	}

	alice, aliceID := signIn("verify-alice", "Alice")
	bob, bobID := signIn("verify-bob", "Bob")

	convID, err := alice.GetOrCreateConversation(ctx, bobID)
	if err != nil {
		log.Fatal().Err(err).Msg("conversation failed")
	}
	again, err := bob.GetOrCreateConversation(ctx, aliceID)
	if err != nil {
		log.Fatal().Err(err).Msg("conversation failed")
	}
	if again != convID {
		log.Fatal().Str("first", convID).Str("second", again).Msg("pair resolved to two conversations")
	}

	found, err := bob.ConversationWith(ctx, aliceID)
	if err != nil || found == nil || found.ID != convID {
		log.Fatal().Err(err).Msg("direct lookup did not find the conversation")
	}

	msgID, err := alice.SendMessage(ctx, convID, "hello from verify_api")
	if err != nil {
		log.Fatal().Err(err).Msg("send failed")
	}
	sf, err := snowflake.ParseID(msgID)
	if err != nil {
		log.Fatal().Err(err).Msg("message id is not a snowflake")
	}
	log.Info().Str("message_id", msgID).Time("id_time", sf.Time()).Int64("node", sf.Node()).Msg("sent")

	msgs, err := bob.Messages(ctx, convID)
	if err != nil {
		log.Fatal().Err(err).Msg("history failed")
	}
	log.Info().Int("count", len(msgs)).Msg("history")

	unread, err := bob.UnreadCounts(ctx, bobID)
	if err != nil {
		log.Fatal().Err(err).Msg("unread failed")
	}
	log.Info().Int("unread", unread[convID]).Msg("before read")

	if err := bob.MarkRead(ctx, convID, bobID); err != nil {
		log.Fatal().Err(err).Msg("mark read failed")
	}
	unread, err = bob.UnreadCounts(ctx, bobID)
	if err != nil {
		log.Fatal().Err(err).Msg("unread failed")
	}
	if n := unread[convID]; n != 0 {
		log.Fatal().Int("unread", n).Msg("conversation still unread")
	}

	if _, err := bob.UpdatePresence(ctx, bobID); err != nil {
		log.Fatal().Err(err).Msg("presence failed")
	}
	p, err := alice.UserPresence(ctx, bobID)
	if err != nil || p == nil {
		log.Fatal().Err(err).Msg("presence read failed")
	}
	log.Info().Time("last_seen", p.LastSeen).Msg("all checks passed")
}
