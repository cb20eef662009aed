package handlers

import (
	"bytes"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"chatforum/internal/auth"
	"chatforum/internal/db"
	"chatforum/internal/logging"
	"chatforum/internal/metrics"
	"chatforum/internal/models"
	"chatforum/web"
)

type Handler struct {
	store    *db.Store
	creds    *auth.Credentials
	sessions *auth.Manager
	tpls     *template.Template
	validate *validator.Validate
}

func New(store *db.Store, creds *auth.Credentials, sessions *auth.Manager) (*Handler, error) {
	tpls, err := template.New("").Funcs(template.FuncMap{
		"ts": func(t time.Time) string { return models.FormatTimestamp(t) },
	}).ParseFS(web.Templates, "templates/*.html")
	if err != nil {
		return nil, err
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.RegisterValidation("trimmed", trimmed); err != nil {
		return nil, err
	}
	return &Handler{
		store:    store,
		creds:    creds,
		sessions: sessions,
		tpls:     tpls,
		validate: validate,
	}, nil
}

// Routes builds the full HTTP surface. Page routes without a session
// redirect to /login; sync routes answer 401 JSON.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(logging.Middleware)
	r.Use(metrics.Middleware)
	r.Use(WithRecover)

	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(web.Static()))))
	r.Get("/healthz", h.Health)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(h.sessions.LoadAndSave)
		r.NotFound(h.NotFound)

		r.Get("/register", h.Register)
		r.Post("/register", h.Register)
		r.Get("/login", h.Login)
		r.Post("/login", h.Login)
		r.Get("/logout", h.Logout)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireLogin)

			r.Get("/", h.Index)
			r.Get("/topic/new", h.NewTopic)
			r.Post("/topic/new", h.NewTopic)
			r.Get("/create_topic", h.NewTopic)
			r.Post("/create_topic", h.NewTopic)
			r.Get("/topic/{id}", h.Topic)
			r.Post("/topic/{id}", h.Topic)
			r.Post("/create_post/{id}", h.Topic)
			r.Post("/like/{postID}", h.ToggleLike)
			r.Get("/chat", h.Chat)
			r.Post("/chat", h.Chat)
			r.Get("/account/password", h.ChangePassword)
			r.Post("/account/password", h.ChangePassword)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.RequireSessionJSON)

			r.Get("/sync/messages/{lastID}", h.SyncMessages)
			r.Get("/sync/topics/{lastID}", h.SyncTopics)
			r.Get("/sync/posts/{topicID}/{lastID}", h.SyncPosts)
			r.Get("/sync/likes/{topicID}", h.SyncLikes)

			r.Get("/get_new_messages/{lastID}", h.SyncMessages)
			r.Get("/get_new_topics/{lastID}", h.SyncTopics)
			r.Get("/get_new_posts/{topicID}/{lastID}", h.SyncPosts)
			r.Get("/get_post_likes/{topicID}", h.SyncLikes)
		})
	})
	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// render executes a page template into a buffer first so a template error
// still produces a clean 500.
func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, name string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	if _, ok := data["Title"]; !ok {
		data["Title"] = "Forum"
	}
	if _, ok := data["Error"]; !ok {
		data["Error"] = ""
	}
	var user *auth.Session
	if s, ok := h.sessions.Current(r); ok {
		user = &s
	}
	data["User"] = user

	var buf bytes.Buffer
	if err := h.tpls.ExecuteTemplate(&buf, name, data); err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Str("template", name).Msg("render failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusNotFound, "notfound", map[string]any{"Title": "Not Found"})
}

// serverError logs err against the request and answers with the error page.
func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, err error) {
	h.logError(r, err)
	h.render(w, r, http.StatusInternalServerError, "error", map[string]any{"Title": "Error"})
}

func (h *Handler) logError(r *http.Request, err error) {
	logging.Ctx(r.Context()).Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

func topicURL(id int64) string {
	return "/topic/" + strconv.FormatInt(id, 10)
}
