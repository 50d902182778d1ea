package repositories

import (
	"context"
	"log"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"ephemeral-chat/internal/config"
	"ephemeral-chat/internal/db"
	"ephemeral-chat/internal/models"
)

var testDB *sqlx.DB

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("chat"),
		postgres.WithUsername("chat"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		log.Printf("postgres container unavailable, store tests will be skipped: %v", err)
		os.Exit(m.Run())
	}

	code := func() int {
		defer func() {
			if err := container.Terminate(ctx); err != nil {
				log.Printf("failed to terminate container: %v", err)
			}
		}()

		dsn, err := container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			log.Printf("failed to get connection string: %v", err)
			return 1
		}
		testDB, err = db.Connect(ctx, config.DB{DSN: dsn, MaxOpenConns: 16, MaxIdleConns: 4}, zap.NewNop())
		if err != nil {
			log.Printf("failed to connect: %v", err)
			return 1
		}
		defer testDB.Close()
		return m.Run()
	}()
	os.Exit(code)
}

func requireDB(t *testing.T) *sqlx.DB {
	t.Helper()
	if testDB == nil {
		t.Skip("postgres is not available")
	}
	_, err := testDB.Exec(`TRUNCATE users, user_push_tokens, chats, chat_members, messages, stories, notifications RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return testDB
}

func seedUsers(t *testing.T, database *sqlx.DB, ids ...int64) {
	t.Helper()
	users := NewUserRepo(database)
	for _, id := range ids {
		_, err := users.Upsert(context.Background(), models.User{ID: id, Name: "user"})
		require.NoError(t, err)
	}
}

func ageRows(t *testing.T, database *sqlx.DB, table string, age time.Duration) {
	t.Helper()
	_, err := database.Exec(`UPDATE `+table+` SET created_at = NOW() - $1 * INTERVAL '1 second'`, int64(age.Seconds()))
	require.NoError(t, err)
}

func text(body string) *string { return &body }

func TestFindOrCreatePrivateIsCanonical(t *testing.T) {
	database := requireDB(t)
	repo := NewChatRepo(database)
	ctx := context.Background()

	first, created, err := repo.FindOrCreatePrivate(ctx, 5, 3)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, []int64{3, 5}, first.Members)

	second, created, err := repo.FindOrCreatePrivate(ctx, 3, 5)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	_, _, err = repo.FindOrCreatePrivate(ctx, 4, 4)
	assert.ErrorIs(t, err, ErrSelfChat)
}

func TestFindOrCreatePrivateConcurrentCallsConverge(t *testing.T) {
	database := requireDB(t)
	repo := NewChatRepo(database)

	const callers = 8
	ids := make([]int64, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := int64(1), int64(2)
			if i%2 == 1 {
				a, b = b, a
			}
			chat, _, err := repo.FindOrCreatePrivate(context.Background(), a, b)
			assert.NoError(t, err)
			ids[i] = chat.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	var count int
	require.NoError(t, database.Get(&count, `SELECT COUNT(*) FROM chats WHERE type = 'private'`))
	assert.Equal(t, 1, count)
}

func TestGroupMembership(t *testing.T) {
	database := requireDB(t)
	repo := NewChatRepo(database)
	ctx := context.Background()

	chat, err := repo.CreateGroup(ctx, 1, "Team", "", []int64{2, 2, 3, 1})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2, 3}, chat.Members)

	assert.ErrorIs(t, repo.AddMembers(ctx, chat.ID, []int64{4, 2}), ErrAlreadyMember)
	loaded, err := repo.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, loaded.Members, "a failed add changes nothing")

	require.NoError(t, repo.AddMembers(ctx, chat.ID, []int64{4}))
	removed, err := repo.RemoveMember(ctx, chat.ID, 2)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = repo.RemoveMember(ctx, chat.ID, 2)
	require.NoError(t, err)
	assert.False(t, removed)

	member, err := repo.IsMember(ctx, chat.ID, 4)
	require.NoError(t, err)
	assert.True(t, member)

	require.NoError(t, repo.UpdateGroup(ctx, chat.ID, "Crew", "img"))
	chats, total, err := repo.ListForUser(ctx, 4, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, chats, 1)
	assert.Equal(t, "Crew", chats[0].Name)
	assert.Equal(t, []int64{1, 3, 4}, chats[0].Members)

	require.NoError(t, repo.DeleteChat(ctx, chat.ID))
	_, err = repo.GetChat(ctx, chat.ID)
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestMessageLifecycle(t *testing.T) {
	database := requireDB(t)
	seedUsers(t, database, 1, 2)
	chats := NewChatRepo(database)
	messages := NewMessageRepo(database)
	ctx := context.Background()

	chat, _, err := chats.FindOrCreatePrivate(ctx, 1, 2)
	require.NoError(t, err)

	first, err := messages.Create(ctx, models.NewMessage{ChatID: chat.ID, SenderID: 1, Body: text("hi"), ContentType: models.ContentText})
	require.NoError(t, err)
	second, err := messages.Create(ctx, models.NewMessage{
		ChatID: chat.ID, SenderID: 2, ContentType: models.ContentImage,
		Media: &models.MediaRef{URL: "/uploads/a.jpg", Thumbnail: &models.Thumbnail{URL: "/uploads/a_thumb.jpg"}},
	})
	require.NoError(t, err)
	assert.Greater(t, second.ID, first.ID)

	populated, err := messages.GetPopulated(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, "user", populated.Sender.Name)
	assert.Equal(t, models.ChatPrivate, populated.Chat.Type)
	require.NotNil(t, populated.Media.MediaRef)
	assert.Equal(t, "/uploads/a_thumb.jpg", populated.Media.MediaRef.Thumbnail.URL)
	assert.Nil(t, populated.Message)

	page, err := messages.ListPopulated(ctx, chat.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, second.ID, page[0].ID, "newest first")

	marked, err := messages.MarkRead(ctx, []int64{first.ID, second.ID}, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), marked, "the reader's own message is not marked")

	latest, err := messages.LatestForChats(ctx, []int64{chat.ID})
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest[chat.ID].ID)

	require.NoError(t, messages.MarkViewed(ctx, second.ID))
	assert.ErrorIs(t, messages.DeleteBySender(ctx, second.ID, 1), ErrMessageNotFound)
	require.NoError(t, messages.DeleteBySender(ctx, second.ID, 2))
	count, err := messages.Count(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestClaimExpiringIsAtMostOnce(t *testing.T) {
	database := requireDB(t)
	chats := NewChatRepo(database)
	messages := NewMessageRepo(database)
	ctx := context.Background()

	chat, _, err := chats.FindOrCreatePrivate(ctx, 1, 2)
	require.NoError(t, err)
	for i := 0; i < 40; i++ {
		_, err := messages.Create(ctx, models.NewMessage{ChatID: chat.ID, SenderID: int64(1 + i%2), Body: text("m"), ContentType: models.ContentText})
		require.NoError(t, err)
	}
	ageRows(t, database, "messages", 23*time.Hour+time.Minute)
	cutoff := time.Now().Add(-23 * time.Hour)

	var mu sync.Mutex
	var claimed []int64
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				items, err := messages.ClaimExpiring(ctx, cutoff, time.Now(), 7)
				if !assert.NoError(t, err) || len(items) == 0 {
					return
				}
				mu.Lock()
				for _, item := range items {
					claimed = append(claimed, item.ID)
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	sort.Slice(claimed, func(i, j int) bool { return claimed[i] < claimed[j] })
	require.Len(t, claimed, 40)
	for i := 1; i < len(claimed); i++ {
		assert.NotEqual(t, claimed[i-1], claimed[i], "claimed twice")
	}
	again, err := messages.ClaimExpiring(ctx, cutoff, time.Now(), 100)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestDeleteOlderThanIsBatched(t *testing.T) {
	database := requireDB(t)
	chats := NewChatRepo(database)
	messages := NewMessageRepo(database)
	ctx := context.Background()

	chat, _, err := chats.FindOrCreatePrivate(ctx, 1, 2)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := messages.Create(ctx, models.NewMessage{ChatID: chat.ID, SenderID: 1, Body: text("old"), ContentType: models.ContentText})
		require.NoError(t, err)
	}
	ageRows(t, database, "messages", 25*time.Hour)
	fresh, err := messages.Create(ctx, models.NewMessage{ChatID: chat.ID, SenderID: 1, Body: text("new"), ContentType: models.ContentText})
	require.NoError(t, err)

	cutoff := time.Now().Add(-24 * time.Hour)
	deleted, err := messages.DeleteOlderThan(ctx, cutoff, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
	deleted, err = messages.DeleteOlderThan(ctx, cutoff, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	_, err = messages.Get(ctx, fresh.ID)
	assert.NoError(t, err, "messages inside the window survive")
}

func TestStories(t *testing.T) {
	database := requireDB(t)
	stories := NewStoryRepo(database)
	ctx := context.Background()

	old, err := stories.Create(ctx, models.Story{AuthorID: 1, ContentType: models.ContentImage, Media: models.MediaRef{URL: "/uploads/o.jpg"}})
	require.NoError(t, err)
	ageRows(t, database, "stories", 25*time.Hour)
	fresh, err := stories.Create(ctx, models.Story{AuthorID: 1, ContentType: models.ContentVideo, Caption: "hi", Media: models.MediaRef{URL: "/uploads/n.mp4"}})
	require.NoError(t, err)

	since := time.Now().Add(-24 * time.Hour)
	active, err := stories.ListSince(ctx, since, 10, 0)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, fresh.ID, active[0].ID)
	mine, err := stories.ListByAuthor(ctx, 1, since)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	items, err := stories.ClaimExpiring(ctx, time.Now().Add(-23*time.Hour), time.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, []models.ExpiringItem{{ID: old.ID, OwnerID: 1}}, items)

	total, err := stories.CountSince(ctx, since)
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	deleted, err := stories.DeleteOlderThan(ctx, since, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestUsersAndPushTokens(t *testing.T) {
	database := requireDB(t)
	users := NewUserRepo(database)
	ctx := context.Background()

	_, err := users.Upsert(ctx, models.User{ID: 1, Name: "Ana", Phone: "+1"})
	require.NoError(t, err)
	updated, err := users.Upsert(ctx, models.User{ID: 1, Name: "Ana B", Phone: "+2"})
	require.NoError(t, err)
	assert.Equal(t, "Ana B", updated.Name)

	require.NoError(t, users.AddPushToken(ctx, 1, "tok-a"))
	require.NoError(t, users.AddPushToken(ctx, 1, "tok-a"))
	require.NoError(t, users.AddPushToken(ctx, 1, "tok-b"))
	assert.ErrorIs(t, users.AddPushToken(ctx, 99, "tok"), ErrUserNotFound)

	user, err := users.Get(ctx, 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"tok-a", "tok-b"}, user.PushTokens)
	assert.Equal(t, "+2", user.Phone)

	require.NoError(t, users.RemovePushToken(ctx, 1, "tok-a"))
	many, err := users.GetMany(ctx, []int64{1, 42})
	require.NoError(t, err)
	require.Len(t, many, 1)
	assert.Equal(t, []string{"tok-b"}, many[0].PushTokens)

	_, err = users.Get(ctx, 42)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestCreateManyMessagesIsAtomic(t *testing.T) {
	database := requireDB(t)
	seedUsers(t, database, 1, 2, 3)
	chats := NewChatRepo(database)
	messages := NewMessageRepo(database)
	ctx := context.Background()

	a, _, err := chats.FindOrCreatePrivate(ctx, 1, 2)
	require.NoError(t, err)
	b, _, err := chats.FindOrCreatePrivate(ctx, 1, 3)
	require.NoError(t, err)

	out, err := messages.CreateMany(ctx, []models.NewMessage{
		{ChatID: a.ID, SenderID: 1, Body: text("hey"), ContentType: models.ContentText},
		{ChatID: b.ID, SenderID: 1, Body: text("hey"), ContentType: models.ContentText},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, a.ID, out[0].ChatID)
	assert.Equal(t, b.ID, out[1].ChatID)

	_, err = messages.CreateMany(ctx, []models.NewMessage{
		{ChatID: a.ID, SenderID: 1, Body: text("again"), ContentType: models.ContentText},
		{ChatID: 9999, SenderID: 1, Body: text("again"), ContentType: models.ContentText},
	})
	require.Error(t, err)
	count, err := messages.Count(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "a failed batch stores nothing")
}

func TestNotificationInbox(t *testing.T) {
	database := requireDB(t)
	seedUsers(t, database, 1, 2, 3)
	inbox := NewNotificationRepo(database)
	ctx := context.Background()

	n, err := inbox.CreateMany(ctx, 1, []int64{2, 3}, "added you to Team")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	_, err = inbox.CreateMany(ctx, 0, []int64{2}, "your content expires soon")
	require.NoError(t, err)
	n, err = inbox.CreateMany(ctx, 1, nil, "nobody")
	require.NoError(t, err)
	assert.Zero(t, n)

	items, total, err := inbox.ListForReceiver(ctx, 2, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, items, 2)
	assert.Nil(t, items[0].SenderID, "newest first, system notice has no sender")
	require.NotNil(t, items[1].SenderID)
	assert.Equal(t, int64(1), *items[1].SenderID)
	assert.Equal(t, "user", items[1].SenderName)

	assert.ErrorIs(t, inbox.DeleteForReceiver(ctx, items[1].ID, 3), ErrNotificationNotFound)
	require.NoError(t, inbox.DeleteForReceiver(ctx, items[1].ID, 2))
	_, total, err = inbox.ListForReceiver(ctx, 2, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}
