package server

import (
	"context"
	"errors"
	"strconv"
	"time"

	"messenger/db"
	"messenger/metrics"
	"messenger/protocol"
)

// minFields is the required field count per command, after the name.
var minFields = map[string]int{
	"register":     2,
	"login":        2,
	"search":       1,
	"create_chat":  4,
	"get_chats":    1,
	"send_message": 3,
	"get_messages": 2,
	"get_user_id":  1,
}

// dispatch routes one decoded message to its handler. Messages with an
// unknown command or too few fields are dropped without a protocol-level
// error: the wire contract is deliberately permissive, so the only trace is
// a debug log line and a counter.
func (s *Server) dispatch(c *client, msg protocol.Message) {
	ctx := context.Background()

	need, known := minFields[msg.Command]
	if !known || len(msg.Fields) < need {
		metrics.Dropped()
		s.log.Debug("message dropped", "conn", c.id, "command", msg.Command, "fields", len(msg.Fields))
		return
	}
	metrics.Command(msg.Command)

	switch msg.Command {
	case "register":
		s.handleRegister(ctx, c, msg.Fields)
	case "login":
		s.handleLogin(ctx, c, msg.Fields)
	case "search":
		s.handleSearch(ctx, c, msg.Fields)
	case "create_chat":
		s.handleCreateChat(ctx, c, msg.Fields)
	case "get_chats":
		s.handleGetChats(ctx, c, msg.Fields)
	case "send_message":
		s.handleSendMessage(ctx, c, msg.Fields)
	case "get_messages":
		s.handleGetMessages(ctx, c, msg.Fields)
	case "get_user_id":
		s.handleGetUserID(ctx, c, msg.Fields)
	}
}

func (s *Server) reply(c *client, command string, fields ...string) {
	if err := c.WriteLine(protocol.Format(command, fields...)); err != nil {
		s.log.Warn("write failed", "conn", c.id, "command", command, "err", err)
	}
}

func (s *Server) handleRegister(ctx context.Context, c *client, fields []string) {
	login, credential := fields[0], fields[1]

	if _, err := s.db.FindUserIDByLogin(ctx, login); err == nil {
		s.reply(c, "register", "fail", "username taken")
		return
	} else if !errors.Is(err, db.ErrNoRows) {
		s.log.Error("register lookup failed", "login", login, "err", err)
		return
	}

	if _, err := s.db.CreateUser(ctx, login, credential); err != nil {
		// A unique violation here means the login was taken between check
		// and insert; everything else is a store failure with no response
		// in the grammar.
		if db.IsUniqueViolation(err) {
			s.reply(c, "register", "fail", "username taken")
			return
		}
		s.log.Error("register insert failed", "login", login, "err", err)
		return
	}

	s.log.Info("user registered", "login", login)
	s.reply(c, "register", "success")
}

func (s *Server) handleLogin(ctx context.Context, c *client, fields []string) {
	login, credential := fields[0], fields[1]

	ok, err := s.db.CredentialMatches(ctx, login, credential)
	if err != nil {
		s.log.Error("login check failed", "login", login, "err", err)
		s.reply(c, "login", "fail")
		return
	}
	if !ok {
		s.reply(c, "login", "fail")
		return
	}

	userID, err := s.db.FindUserIDByLogin(ctx, login)
	if err != nil {
		s.log.Error("login id lookup failed", "login", login, "err", err)
		s.reply(c, "login", "fail")
		return
	}

	// Last login wins: a still-open earlier connection loses its presence
	// entry but stays open.
	s.registry.Register(userID, c)
	s.log.Info("user logged in", "login", login, "user", userID, "conn", c.id)
	s.reply(c, "login", "success")
}

func (s *Server) handleSearch(ctx context.Context, c *client, fields []string) {
	text := fields[0]
	var exclude *string
	if len(fields) >= 2 {
		exclude = &fields[1]
	}

	logins, err := s.db.SearchLogins(ctx, text, exclude)
	if err != nil {
		s.log.Error("search failed", "text", text, "err", err)
		return
	}

	for _, login := range logins {
		s.reply(c, "search_result", login)
	}
	s.reply(c, "search_end")
}

func (s *Server) handleCreateChat(ctx context.Context, c *client, fields []string) {
	name, chatType, loginA, loginB := fields[0], fields[1], fields[2], fields[3]

	userA, err := s.db.FindUserIDByLogin(ctx, loginA)
	if err != nil {
		if !errors.Is(err, db.ErrNoRows) {
			s.log.Error("create_chat lookup failed", "login", loginA, "err", err)
		}
		s.reply(c, "create_chat", "fail")
		return
	}
	userB, err := s.db.FindUserIDByLogin(ctx, loginB)
	if err != nil {
		if !errors.Is(err, db.ErrNoRows) {
			s.log.Error("create_chat lookup failed", "login", loginB, "err", err)
		}
		s.reply(c, "create_chat", "fail")
		return
	}

	chatID, err := s.db.CreateChatBetween(ctx, name, chatType, userA, userB)
	if err != nil {
		if !errors.Is(err, db.ErrChatExists) {
			s.log.Error("create_chat failed", "name", name, "err", err)
		}
		s.reply(c, "create_chat", "fail")
		return
	}

	s.log.Info("chat created", "chat", chatID, "users", loginA+","+loginB)
	s.reply(c, "create_chat", "success", strconv.FormatInt(chatID, 10))
}

func (s *Server) handleGetChats(ctx context.Context, c *client, fields []string) {
	login := fields[0]

	userID, err := s.db.FindUserIDByLogin(ctx, login)
	if err != nil {
		// Unknown login returns nothing at all.
		if !errors.Is(err, db.ErrNoRows) {
			s.log.Error("get_chats lookup failed", "login", login, "err", err)
		}
		return
	}

	chats, err := s.db.ListChatsForUser(ctx, userID)
	if err != nil {
		s.log.Error("get_chats failed", "user", userID, "err", err)
		return
	}

	for _, chat := range chats {
		flag := "no_new_messages"
		if chat.Unread {
			flag = "has_new_messages"
		}
		s.reply(c, "chat_list_item", strconv.FormatInt(chat.ChatID, 10), chat.OtherLogin, flag)
	}
}

func (s *Server) handleSendMessage(ctx context.Context, c *client, fields []string) {
	chatID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		s.reply(c, "send_message", "fail", "invalid chat id")
		return
	}
	senderID, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		s.reply(c, "send_message", "fail", "invalid sender id")
		return
	}
	// The split cut the text on every ':'; the tail is the whole text.
	text := protocol.Tail(fields, 2)

	// The sender is not verified to be a member of the chat; fan-out below
	// simply never targets the sender id.
	if _, err := s.db.InsertMessage(ctx, chatID, senderID, text); err != nil {
		s.log.Error("send_message insert failed", "chat", chatID, "sender", senderID, "err", err)
		s.reply(c, "send_message", "fail", err.Error())
		return
	}

	s.reply(c, "send_message", "success")
	s.notifyChatMembers(ctx, chatID, senderID)
}

// notifyChatMembers pushes new_message_in_chat to every member of the chat
// other than the sender that is currently online. Offline members are
// skipped; a failed push is logged and never surfaced to the sender.
func (s *Server) notifyChatMembers(ctx context.Context, chatID, senderID int64) {
	members, err := s.db.ListChatMembers(ctx, chatID)
	if err != nil {
		s.log.Error("notification member lookup failed", "chat", chatID, "err", err)
		return
	}

	line := protocol.Format("new_message_in_chat", strconv.FormatInt(chatID, 10))
	for _, userID := range members {
		if userID == senderID {
			continue
		}
		conn, online := s.registry.Lookup(userID)
		if !online {
			continue
		}
		if err := conn.WriteLine(line); err != nil {
			s.log.Warn("notification write failed", "chat", chatID, "user", userID, "err", err)
			continue
		}
		metrics.NotificationPushed()
	}
}

func (s *Server) handleGetMessages(ctx context.Context, c *client, fields []string) {
	chatID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		metrics.Dropped()
		return
	}
	requesterID, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		metrics.Dropped()
		return
	}

	messages, err := s.db.ListMessagesForChat(ctx, chatID)
	if err != nil {
		s.log.Error("get_messages failed", "chat", chatID, "err", err)
		return
	}

	now := time.Now()
	for _, msg := range messages {
		s.reply(c, "message_item", msg.Text, strconv.FormatInt(msg.SenderID, 10))

		// First fetch by a non-sender marks the message read; the update is
		// guarded on read_at being null, so repeats never move the timestamp.
		if msg.SenderID != requesterID && !msg.ReadAt.Valid {
			if err := s.db.MarkMessageRead(ctx, msg.ID, now); err != nil {
				s.log.Error("mark read failed", "message", msg.ID, "err", err)
			}
		}
	}
	s.reply(c, "end_of_messages")
}

func (s *Server) handleGetUserID(ctx context.Context, c *client, fields []string) {
	login := fields[0]

	userID, err := s.db.FindUserIDByLogin(ctx, login)
	if err != nil {
		// Unknown login returns nothing at all.
		if !errors.Is(err, db.ErrNoRows) {
			s.log.Error("get_user_id failed", "login", login, "err", err)
		}
		return
	}

	s.reply(c, "user_id", strconv.FormatInt(userID, 10))
}
