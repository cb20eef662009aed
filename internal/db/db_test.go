package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbc, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "forum.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { dbc.Close() })
	if err := Migrate(context.Background(), dbc); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return New(dbc)
}

func mustUser(t *testing.T, s *Store, name string) int64 {
	t.Helper()
	u, err := s.CreateUser(context.Background(), name, "", "hash")
	if err != nil {
		t.Fatalf("CreateUser(%q) error = %v", name, err)
	}
	return u.ID
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := Migrate(context.Background(), s.DB()); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestCreateUser(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	u, err := s.CreateUser(ctx, "holros", "Holros", "hash")
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if u.ID == 0 {
		t.Error("CreateUser() returned zero id")
	}

	if _, err := s.CreateUser(ctx, "holros", "", "other"); !errors.Is(err, ErrUsernameTaken) {
		t.Errorf("duplicate CreateUser() error = %v, want ErrUsernameTaken", err)
	}

	// usernames are case-sensitive
	if _, err := s.CreateUser(ctx, "Holros", "", "hash"); err != nil {
		t.Errorf("CreateUser(Holros) error = %v, want nil", err)
	}

	got, err := s.UserByUsername(ctx, "holros")
	if err != nil {
		t.Fatalf("UserByUsername() error = %v", err)
	}
	if got.ID != u.ID || got.DisplayName != "Holros" || got.ProfilePicture != nil {
		t.Errorf("UserByUsername() = %+v", got)
	}
	if got.Name() != "Holros" {
		t.Errorf("Name() = %q, want Holros", got.Name())
	}

	if _, err := s.UserByUsername(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("UserByUsername(nobody) error = %v, want ErrNotFound", err)
	}
}

func TestUpdatePassword(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id := mustUser(t, s, "manfol")

	if err := s.UpdatePassword(ctx, id, "new-hash"); err != nil {
		t.Fatalf("UpdatePassword() error = %v", err)
	}
	u, err := s.UserByID(ctx, id)
	if err != nil {
		t.Fatalf("UserByID() error = %v", err)
	}
	if u.PasswordHash != "new-hash" {
		t.Errorf("PasswordHash = %q, want new-hash", u.PasswordHash)
	}
	if err := s.UpdatePassword(ctx, id+100, "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdatePassword(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestTopicsAfterWatermark(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	uid := mustUser(t, s, "goskor")

	var ids []int64
	for _, title := range []string{"one", "two", "three", "four", "five"} {
		id, err := s.CreateTopic(ctx, uid, title, "")
		if err != nil {
			t.Fatalf("CreateTopic() error = %v", err)
		}
		ids = append(ids, id)
	}

	tests := []struct {
		name    string
		lastID  int64
		wantIDs []int64
	}{
		{"from zero", 0, ids},
		{"from middle", ids[1], ids[2:]},
		{"from last", ids[4], nil},
		{"past end", ids[4] + 10, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.TopicsAfter(ctx, tt.lastID)
			if err != nil {
				t.Fatalf("TopicsAfter() error = %v", err)
			}
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("TopicsAfter(%d) returned %d rows, want %d", tt.lastID, len(got), len(tt.wantIDs))
			}
			for i, topic := range got {
				if topic.ID != tt.wantIDs[i] {
					t.Errorf("row %d id = %d, want %d", i, topic.ID, tt.wantIDs[i])
				}
				if topic.ID <= tt.lastID {
					t.Errorf("row %d id %d not above watermark %d", i, topic.ID, tt.lastID)
				}
				if topic.Creator != "goskor" {
					t.Errorf("row %d creator = %q", i, topic.Creator)
				}
			}
		})
	}

	all, err := s.ListTopics(ctx)
	if err != nil {
		t.Fatalf("ListTopics() error = %v", err)
	}
	if len(all) != 5 || all[0].ID != ids[4] {
		t.Errorf("ListTopics() not newest first: %+v", all)
	}
}

func TestCreateTopicWithFirstPost(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	uid := mustUser(t, s, "holros")

	id, err := s.CreateTopic(ctx, uid, "Hello", "first!")
	if err != nil {
		t.Fatalf("CreateTopic() error = %v", err)
	}
	posts, err := s.PostsByTopic(ctx, id)
	if err != nil {
		t.Fatalf("PostsByTopic() error = %v", err)
	}
	if len(posts) != 1 || posts[0].Content != "first!" || posts[0].Author != "holros" {
		t.Errorf("PostsByTopic() = %+v", posts)
	}
}

func TestPostsAndMessagesAfter(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	uid := mustUser(t, s, "holros")
	t1, _ := s.CreateTopic(ctx, uid, "a", "")
	t2, _ := s.CreateTopic(ctx, uid, "b", "")

	var inT1 []int64
	for i := 0; i < 3; i++ {
		id, err := s.CreatePost(ctx, uid, t1, "reply")
		if err != nil {
			t.Fatalf("CreatePost() error = %v", err)
		}
		inT1 = append(inT1, id)
		if _, err := s.CreatePost(ctx, uid, t2, "other"); err != nil {
			t.Fatalf("CreatePost() error = %v", err)
		}
	}

	got, err := s.PostsAfter(ctx, t1, inT1[0])
	if err != nil {
		t.Fatalf("PostsAfter() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != inT1[1] || got[1].ID != inT1[2] {
		t.Errorf("PostsAfter() = %+v, want ids %v", got, inT1[1:])
	}
	for _, p := range got {
		if p.TopicID != t1 {
			t.Errorf("post %d from topic %d leaked into topic %d", p.ID, p.TopicID, t1)
		}
	}

	m1, _ := s.CreateMessage(ctx, uid, "hi")
	m2, _ := s.CreateMessage(ctx, uid, "there")
	msgs, err := s.MessagesAfter(ctx, m1)
	if err != nil {
		t.Fatalf("MessagesAfter() error = %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != m2 || msgs[0].Author != "holros" {
		t.Errorf("MessagesAfter() = %+v", msgs)
	}
	if all, _ := s.Messages(ctx); len(all) != 2 {
		t.Errorf("Messages() returned %d rows, want 2", len(all))
	}
}

func TestCreatePostUnknownTopic(t *testing.T) {
	s := newTestStore(t)
	uid := mustUser(t, s, "holros")
	if _, err := s.CreatePost(context.Background(), uid, 999, "orphan"); !errors.Is(err, ErrNotFound) {
		t.Errorf("CreatePost(unknown topic) error = %v, want ErrNotFound", err)
	}
}

func TestToggleLike(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")
	topic, _ := s.CreateTopic(ctx, alice, "likes", "")
	post, _ := s.CreatePost(ctx, alice, topic, "like me")

	liked, n, err := s.ToggleLike(ctx, alice, post)
	if err != nil || !liked || n != 1 {
		t.Fatalf("first ToggleLike() = %v, %d, %v; want true, 1, nil", liked, n, err)
	}
	liked, n, err = s.ToggleLike(ctx, bob, post)
	if err != nil || !liked || n != 2 {
		t.Fatalf("bob ToggleLike() = %v, %d, %v; want true, 2, nil", liked, n, err)
	}
	liked, n, err = s.ToggleLike(ctx, alice, post)
	if err != nil || liked || n != 1 {
		t.Fatalf("second ToggleLike() = %v, %d, %v; want false, 1, nil", liked, n, err)
	}

	counts, err := s.LikeCounts(ctx, topic)
	if err != nil {
		t.Fatalf("LikeCounts() error = %v", err)
	}
	if counts[post] != 1 {
		t.Errorf("LikeCounts()[%d] = %d, want 1", post, counts[post])
	}

	likedByBob, err := s.LikedPosts(ctx, bob, topic)
	if err != nil {
		t.Fatalf("LikedPosts() error = %v", err)
	}
	if !likedByBob[post] {
		t.Error("LikedPosts() missing bob's like")
	}

	if _, _, err := s.ToggleLike(ctx, alice, post+100); !errors.Is(err, ErrNotFound) {
		t.Errorf("ToggleLike(unknown post) error = %v, want ErrNotFound", err)
	}
}

func TestToggleLikeTwiceRestoresCount(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	uid := mustUser(t, s, "alice")
	topic, _ := s.CreateTopic(ctx, uid, "t", "")
	post, _ := s.CreatePost(ctx, uid, topic, "p")

	before, _ := s.Post(ctx, post)
	for i := 0; i < 2; i++ {
		if _, _, err := s.ToggleLike(ctx, uid, post); err != nil {
			t.Fatalf("ToggleLike() error = %v", err)
		}
	}
	after, _ := s.Post(ctx, post)
	if after.Likes != before.Likes {
		t.Errorf("likes after two toggles = %d, want %d", after.Likes, before.Likes)
	}
}

func TestReconcileLikeCounts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	uid := mustUser(t, s, "alice")
	topic, _ := s.CreateTopic(ctx, uid, "t", "")
	p1, _ := s.CreatePost(ctx, uid, topic, "p1")
	p2, _ := s.CreatePost(ctx, uid, topic, "p2")
	s.ToggleLike(ctx, uid, p1)

	if _, err := s.DB().Exec(`UPDATE posts SET like_count = 7 WHERE id = ?`, p2); err != nil {
		t.Fatalf("corrupt counter: %v", err)
	}
	n, err := s.ReconcileLikeCounts(ctx)
	if err != nil {
		t.Fatalf("ReconcileLikeCounts() error = %v", err)
	}
	if n != 1 {
		t.Errorf("ReconcileLikeCounts() fixed %d rows, want 1", n)
	}
	counts, _ := s.LikeCounts(ctx, topic)
	if counts[p1] != 1 || counts[p2] != 0 {
		t.Errorf("counts after reconcile = %v", counts)
	}
}

func TestSessions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.CommitSession(ctx, "live", []byte("payload"), time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("CommitSession() error = %v", err)
	}
	if err := s.CommitSession(ctx, "live", []byte("updated"), time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("CommitSession() upsert error = %v", err)
	}
	if err := s.CommitSession(ctx, "stale", []byte("old"), time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("CommitSession() error = %v", err)
	}

	b, found, err := s.FindSession(ctx, "live")
	if err != nil || !found || string(b) != "updated" {
		t.Errorf("FindSession(live) = %q, %v, %v", b, found, err)
	}
	if _, found, _ := s.FindSession(ctx, "stale"); found {
		t.Error("FindSession(stale) found an expired session")
	}

	n, err := s.DeleteExpiredSessions(ctx)
	if err != nil || n != 1 {
		t.Errorf("DeleteExpiredSessions() = %d, %v; want 1, nil", n, err)
	}

	if err := s.DeleteSession(ctx, "live"); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if _, found, _ := s.FindSession(ctx, "live"); found {
		t.Error("FindSession(live) found a deleted session")
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open("oracle", "x"); err == nil {
		t.Error("Open(oracle) error = nil, want error")
	}
}

func TestAfterQueriesOrderByCreationTime(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	uid := mustUser(t, s, "manfol")

	backdate := func(table string, id int64, at time.Time) {
		t.Helper()
		if _, err := s.DB().ExecContext(ctx, s.q(`UPDATE `+table+` SET created_at = ? WHERE id = ?`), at, id); err != nil {
			t.Fatalf("backdate %s %d: %v", table, id, err)
		}
	}
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	var topicIDs, postIDs, msgIDs []int64
	for i := 0; i < 3; i++ {
		tid, err := s.CreateTopic(ctx, uid, "topic", "")
		if err != nil {
			t.Fatalf("CreateTopic() error = %v", err)
		}
		topicIDs = append(topicIDs, tid)
		pid, err := s.CreatePost(ctx, uid, topicIDs[0], "post")
		if err != nil {
			t.Fatalf("CreatePost() error = %v", err)
		}
		postIDs = append(postIDs, pid)
		mid, err := s.CreateMessage(ctx, uid, "msg")
		if err != nil {
			t.Fatalf("CreateMessage() error = %v", err)
		}
		msgIDs = append(msgIDs, mid)
	}
	// first row newest, last two share a timestamp
	offsets := []time.Duration{time.Hour, 0, 0}
	for i, off := range offsets {
		backdate("topics", topicIDs[i], base.Add(off))
		backdate("posts", postIDs[i], base.Add(off))
		backdate("chat_messages", msgIDs[i], base.Add(off))
	}
	want := func(ids []int64) []int64 { return []int64{ids[1], ids[2], ids[0]} }

	topics, err := s.TopicsAfter(ctx, 0)
	if err != nil {
		t.Fatalf("TopicsAfter() error = %v", err)
	}
	posts, err := s.PostsAfter(ctx, topicIDs[0], 0)
	if err != nil {
		t.Fatalf("PostsAfter() error = %v", err)
	}
	msgs, err := s.MessagesAfter(ctx, 0)
	if err != nil {
		t.Fatalf("MessagesAfter() error = %v", err)
	}

	tests := []struct {
		name string
		got  []int64
		want []int64
	}{
		{"topics", nil, want(topicIDs)},
		{"posts", nil, want(postIDs)},
		{"messages", nil, want(msgIDs)},
	}
	for _, tp := range topics {
		tests[0].got = append(tests[0].got, tp.ID)
	}
	for _, p := range posts {
		tests[1].got = append(tests[1].got, p.ID)
	}
	for _, m := range msgs {
		tests[2].got = append(tests[2].got, m.ID)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if len(tt.got) != len(tt.want) {
				t.Fatalf("got ids %v, want %v", tt.got, tt.want)
			}
			for i := range tt.want {
				if tt.got[i] != tt.want[i] {
					t.Fatalf("got ids %v, want %v", tt.got, tt.want)
				}
			}
		})
	}
}
