package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	tmpfile, err := os.CreateTemp("", "messenger-test-*.db")
	require.NoError(t, err)
	tmpfile.Close()
	os.Remove(tmpfile.Name()) // sqlite recreates it

	database, err := New(tmpfile.Name())
	require.NoError(t, err)

	t.Cleanup(func() {
		database.Close()
		os.Remove(tmpfile.Name())
	})

	return database
}

func TestCreateUserAndFind(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	id, err := database.CreateUser(ctx, "alice", "pw1")
	require.NoError(t, err)
	require.Equal(t, int64(1), id)

	found, err := database.FindUserIDByLogin(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, id, found)

	_, err = database.FindUserIDByLogin(ctx, "nobody")
	require.ErrorIs(t, err, ErrNoRows)
}

func TestCreateUserDuplicateLogin(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	_, err := database.CreateUser(ctx, "alice", "pw1")
	require.NoError(t, err)

	_, err = database.CreateUser(ctx, "alice", "pw2")
	require.Error(t, err)
	require.True(t, IsUniqueViolation(err))
}

func TestCredentialMatchesIsPlaintextEquality(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	_, err := database.CreateUser(ctx, "alice", "pw1")
	require.NoError(t, err)

	ok, err := database.CredentialMatches(ctx, "alice", "pw1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = database.CredentialMatches(ctx, "alice", "pw2")
	require.NoError(t, err)
	require.False(t, ok)

	// Unknown login is not a store error.
	ok, err = database.CredentialMatches(ctx, "nobody", "pw1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSearchLogins(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	for _, login := range []string{"annie", "joanna", "bob"} {
		_, err := database.CreateUser(ctx, login, "pw")
		require.NoError(t, err)
	}

	logins, err := database.SearchLogins(ctx, "ann", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"annie", "joanna"}, logins)

	// The requesting login is excluded even when it matches.
	annie := "annie"
	logins, err = database.SearchLogins(ctx, "ann", &annie)
	require.NoError(t, err)
	require.Equal(t, []string{"joanna"}, logins)

	// Match is case-sensitive.
	logins, err = database.SearchLogins(ctx, "ANN", nil)
	require.NoError(t, err)
	require.Empty(t, logins)
}

func TestSearchLoginsOmittedExcludeKeepsEmptyLogin(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	// The empty string is a registrable login and must only disappear from
	// results when an exclusion was actually supplied.
	_, err := database.CreateUser(ctx, "", "pw")
	require.NoError(t, err)
	_, err = database.CreateUser(ctx, "bob", "pw")
	require.NoError(t, err)

	logins, err := database.SearchLogins(ctx, "", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"", "bob"}, logins)

	empty := ""
	logins, err = database.SearchLogins(ctx, "", &empty)
	require.NoError(t, err)
	require.Equal(t, []string{"bob"}, logins)
}

func TestCreateChatBetweenRefusesDuplicates(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	alice, err := database.CreateUser(ctx, "alice", "pw")
	require.NoError(t, err)
	bob, err := database.CreateUser(ctx, "bob", "pw")
	require.NoError(t, err)

	chatID, err := database.CreateChatBetween(ctx, "dm", "direct", alice, bob)
	require.NoError(t, err)
	require.Equal(t, int64(1), chatID)

	// Same pair in either order fails, regardless of name and type.
	_, err = database.CreateChatBetween(ctx, "dm", "direct", alice, bob)
	require.ErrorIs(t, err, ErrChatExists)
	_, err = database.CreateChatBetween(ctx, "other", "group", bob, alice)
	require.ErrorIs(t, err, ErrChatExists)

	exists, err := database.ChatExistsBetweenUsers(ctx, alice, bob)
	require.NoError(t, err)
	require.True(t, exists)
	exists, err = database.ChatExistsBetweenUsers(ctx, bob, alice)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestCreateChatAndAddMember(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	alice, err := database.CreateUser(ctx, "alice", "pw")
	require.NoError(t, err)
	bob, err := database.CreateUser(ctx, "bob", "pw")
	require.NoError(t, err)

	chatID, err := database.CreateChat(ctx, "dm", "direct")
	require.NoError(t, err)
	require.NoError(t, database.AddMember(ctx, chatID, alice))
	require.NoError(t, database.AddMember(ctx, chatID, bob))

	// The membership pair is unique.
	err = database.AddMember(ctx, chatID, alice)
	require.Error(t, err)
	require.True(t, IsUniqueViolation(err))

	members, err := database.ListChatMembers(ctx, chatID)
	require.NoError(t, err)
	require.Equal(t, []int64{alice, bob}, members)
}

func TestListChatsForUserUnreadFlag(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	alice, err := database.CreateUser(ctx, "alice", "pw")
	require.NoError(t, err)
	bob, err := database.CreateUser(ctx, "bob", "pw")
	require.NoError(t, err)

	chatID, err := database.CreateChatBetween(ctx, "dm", "direct", alice, bob)
	require.NoError(t, err)

	msgID, err := database.InsertMessage(ctx, chatID, alice, "hello")
	require.NoError(t, err)

	// Bob has an unread message from Alice; Alice's own message is not
	// unread for her.
	chats, err := database.ListChatsForUser(ctx, bob)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	require.Equal(t, chatID, chats[0].ChatID)
	require.Equal(t, "alice", chats[0].OtherLogin)
	require.True(t, chats[0].Unread)

	chats, err = database.ListChatsForUser(ctx, alice)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	require.Equal(t, "bob", chats[0].OtherLogin)
	require.False(t, chats[0].Unread)

	require.NoError(t, database.MarkMessageRead(ctx, msgID, time.Now()))

	chats, err = database.ListChatsForUser(ctx, bob)
	require.NoError(t, err)
	require.False(t, chats[0].Unread)
}

func TestListMessagesForChatOrdered(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	alice, err := database.CreateUser(ctx, "alice", "pw")
	require.NoError(t, err)
	bob, err := database.CreateUser(ctx, "bob", "pw")
	require.NoError(t, err)

	chatID, err := database.CreateChatBetween(ctx, "dm", "direct", alice, bob)
	require.NoError(t, err)

	for _, text := range []string{"first", "second", "third"} {
		_, err := database.InsertMessage(ctx, chatID, alice, text)
		require.NoError(t, err)
	}

	messages, err := database.ListMessagesForChat(ctx, chatID)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	require.Equal(t, "first", messages[0].Text)
	require.Equal(t, "second", messages[1].Text)
	require.Equal(t, "third", messages[2].Text)
	require.Equal(t, alice, messages[0].SenderID)
	require.False(t, messages[0].ReadAt.Valid)
	require.NotEmpty(t, messages[0].SentAt)
}

func TestMarkMessageReadSetsTimestampOnce(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	alice, err := database.CreateUser(ctx, "alice", "pw")
	require.NoError(t, err)
	bob, err := database.CreateUser(ctx, "bob", "pw")
	require.NoError(t, err)

	chatID, err := database.CreateChatBetween(ctx, "dm", "direct", alice, bob)
	require.NoError(t, err)
	msgID, err := database.InsertMessage(ctx, chatID, alice, "hello")
	require.NoError(t, err)

	first := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, database.MarkMessageRead(ctx, msgID, first))

	messages, err := database.ListMessagesForChat(ctx, chatID)
	require.NoError(t, err)
	require.True(t, messages[0].ReadAt.Valid)
	was := messages[0].ReadAt.String

	// A later mark must not move the timestamp.
	require.NoError(t, database.MarkMessageRead(ctx, msgID, first.Add(time.Hour)))

	messages, err = database.ListMessagesForChat(ctx, chatID)
	require.NoError(t, err)
	require.Equal(t, was, messages[0].ReadAt.String)
}
