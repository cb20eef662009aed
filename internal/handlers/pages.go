package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"chatforum/internal/auth"
	"chatforum/internal/db"
	"chatforum/internal/logging"
	"chatforum/internal/metrics"
)

// -------- account

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{"Title": "Register", "Username": "", "Name": ""}
	if r.Method == http.MethodGet {
		h.render(w, r, http.StatusOK, "register", data)
		return
	}

	form := registerForm{
		Username: r.FormValue("username"),
		Password: r.FormValue("password"),
		Name:     formValue(r, "name"),
	}
	data["Username"], data["Name"] = form.Username, form.Name
	if msg := h.check(form); msg != "" {
		data["Error"] = msg
		h.render(w, r, http.StatusBadRequest, "register", data)
		return
	}

	u, err := h.creds.Register(r.Context(), form.Username, form.Password, form.Name)
	switch {
	case errors.Is(err, db.ErrUsernameTaken):
		data["Error"] = "Username already exists"
		h.render(w, r, http.StatusConflict, "register", data)
		return
	case errors.Is(err, bcrypt.ErrPasswordTooLong):
		data["Error"] = "Password is too long"
		h.render(w, r, http.StatusBadRequest, "register", data)
		return
	case err != nil:
		h.serverError(w, r, err)
		return
	}
	metrics.Registrations.Inc()
	logging.Ctx(r.Context()).Info().Int64("user_id", u.ID).Str("username", u.Username).Msg("user registered")
	http.Redirect(w, r, "/login?registered=1", http.StatusSeeOther)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.sessions.CurrentUserID(r); ok {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	data := map[string]any{
		"Title":      "Login",
		"Registered": r.URL.Query().Get("registered") == "1",
		"Username":   "",
	}
	if r.Method == http.MethodGet {
		h.render(w, r, http.StatusOK, "login", data)
		return
	}

	form := loginForm{Username: r.FormValue("username"), Password: r.FormValue("password")}
	data["Username"] = form.Username
	if msg := h.check(form); msg != "" {
		data["Error"] = msg
		h.render(w, r, http.StatusBadRequest, "login", data)
		return
	}

	u, err := h.creds.Authenticate(r.Context(), form.Username, form.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		metrics.Logins.WithLabelValues("invalid").Inc()
		data["Error"] = "Invalid credentials"
		h.render(w, r, http.StatusUnauthorized, "login", data)
		return
	}
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if err := h.sessions.Create(r.Context(), u); err != nil {
		h.serverError(w, r, err)
		return
	}
	metrics.Logins.WithLabelValues("success").Inc()
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Destroy(r.Context()); err != nil {
		h.logError(r, err)
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{"Title": "Change password", "Changed": r.URL.Query().Get("changed") == "1"}
	if r.Method == http.MethodGet {
		h.render(w, r, http.StatusOK, "password", data)
		return
	}
	uid, _ := h.sessions.CurrentUserID(r)

	form := passwordForm{Current: r.FormValue("current"), New: r.FormValue("new")}
	if msg := h.check(form); msg != "" {
		data["Error"] = msg
		h.render(w, r, http.StatusBadRequest, "password", data)
		return
	}
	err := h.creds.ChangePassword(r.Context(), uid, form.Current, form.New)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		data["Error"] = "Current password is wrong"
		h.render(w, r, http.StatusUnauthorized, "password", data)
		return
	case errors.Is(err, bcrypt.ErrPasswordTooLong):
		data["Error"] = "Password is too long"
		h.render(w, r, http.StatusBadRequest, "password", data)
		return
	case err != nil:
		h.serverError(w, r, err)
		return
	}
	http.Redirect(w, r, "/account/password?changed=1", http.StatusSeeOther)
}

// -------- content

func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	topics, err := h.store.ListTopics(r.Context())
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	var lastID int64
	for _, t := range topics {
		lastID = max(lastID, t.ID)
	}
	h.render(w, r, http.StatusOK, "index", map[string]any{
		"Title":  "Forum",
		"Topics": topics,
		"LastID": lastID,
	})
}

func (h *Handler) NewTopic(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{"Title": "New topic", "TopicTitle": "", "Content": ""}
	if r.Method == http.MethodGet {
		h.render(w, r, http.StatusOK, "new_topic", data)
		return
	}
	uid, _ := h.sessions.CurrentUserID(r)

	form := topicForm{Title: formValue(r, "title"), Content: formValue(r, "content")}
	data["TopicTitle"], data["Content"] = form.Title, form.Content
	if msg := h.check(form); msg != "" {
		data["Error"] = msg
		h.render(w, r, http.StatusBadRequest, "new_topic", data)
		return
	}

	id, err := h.store.CreateTopic(r.Context(), uid, form.Title, form.Content)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	metrics.ContentCreated.WithLabelValues("topic").Inc()
	if form.Content != "" {
		metrics.ContentCreated.WithLabelValues("post").Inc()
	}
	http.Redirect(w, r, topicURL(id), http.StatusSeeOther)
}

// Topic shows a topic with its posts and, on POST, adds a reply to it.
func (h *Handler) Topic(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		h.NotFound(w, r)
		return
	}
	topic, err := h.store.Topic(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		h.NotFound(w, r)
		return
	}
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	uid, _ := h.sessions.CurrentUserID(r)

	status := http.StatusOK
	data := map[string]any{"Title": topic.Title, "Topic": topic, "Content": ""}
	if r.Method == http.MethodPost {
		form := postForm{Content: formValue(r, "content")}
		msg := h.check(form)
		if msg == "" {
			_, err := h.store.CreatePost(r.Context(), uid, id, form.Content)
			if errors.Is(err, db.ErrNotFound) {
				h.NotFound(w, r)
				return
			}
			if err != nil {
				h.serverError(w, r, err)
				return
			}
			metrics.ContentCreated.WithLabelValues("post").Inc()
			http.Redirect(w, r, topicURL(id), http.StatusSeeOther)
			return
		}
		status = http.StatusBadRequest
		data["Error"] = msg
	}

	posts, err := h.store.PostsByTopic(r.Context(), id)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	liked, err := h.store.LikedPosts(r.Context(), uid, id)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	var lastID int64
	for _, p := range posts {
		lastID = max(lastID, p.ID)
	}
	data["Posts"] = posts
	data["Liked"] = liked
	data["LastID"] = lastID
	h.render(w, r, status, "topic", data)
}

// ToggleLike flips the current user's like on a post and sends the browser
// back where it came from.
func (h *Handler) ToggleLike(w http.ResponseWriter, r *http.Request) {
	postID, ok := pathID(r, "postID")
	if !ok {
		h.NotFound(w, r)
		return
	}
	uid, _ := h.sessions.CurrentUserID(r)

	liked, count, err := h.store.ToggleLike(r.Context(), uid, postID)
	if errors.Is(err, db.ErrNotFound) {
		h.NotFound(w, r)
		return
	}
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	state := "unliked"
	if liked {
		state = "liked"
	}
	metrics.LikeToggles.WithLabelValues(state).Inc()
	logging.Ctx(r.Context()).Debug().Int64("post_id", postID).Str("state", state).Int("likes", count).Msg("like toggled")

	if ref, ok := localReferer(r); ok {
		http.Redirect(w, r, ref, http.StatusSeeOther)
		return
	}
	post, err := h.store.Post(r.Context(), postID)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	http.Redirect(w, r, topicURL(post.TopicID), http.StatusSeeOther)
}

func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	data := map[string]any{"Title": "Chat"}
	if r.Method == http.MethodPost {
		uid, _ := h.sessions.CurrentUserID(r)
		form := postForm{Content: formValue(r, "content")}
		msg := h.check(form)
		if msg == "" {
			if _, err := h.store.CreateMessage(r.Context(), uid, form.Content); err != nil {
				h.serverError(w, r, err)
				return
			}
			metrics.ContentCreated.WithLabelValues("message").Inc()
			http.Redirect(w, r, "/chat", http.StatusSeeOther)
			return
		}
		status = http.StatusBadRequest
		data["Error"] = msg
	}

	msgs, err := h.store.Messages(r.Context())
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	var lastID int64
	for _, m := range msgs {
		lastID = max(lastID, m.ID)
	}
	data["Messages"] = msgs
	data["LastID"] = lastID
	h.render(w, r, status, "chat", data)
}

// localReferer returns the path of the referring page when it is on this host.
func localReferer(r *http.Request) (string, bool) {
	ref := r.Referer()
	if ref == "" {
		return "", false
	}
	u, err := url.Parse(ref)
	if err != nil || (u.Host != "" && u.Host != r.Host) || !strings.HasPrefix(u.Path, "/") {
		return "", false
	}
	return u.RequestURI(), true
}
