package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

type registerForm struct {
	Username string `validate:"required,max=150,trimmed"`
	Password string `validate:"required,max=72"`
	Name     string `validate:"max=150"`
}

type loginForm struct {
	Username string `validate:"required"`
	Password string `validate:"required"`
}

type topicForm struct {
	Title   string `validate:"required,max=200"`
	Content string
}

type postForm struct {
	Content string `validate:"required"`
}

type passwordForm struct {
	Current string `validate:"required"`
	New     string `validate:"required,max=72"`
}

func formValue(r *http.Request, key string) string {
	return strings.TrimSpace(r.FormValue(key))
}

// trimmed rejects values with leading or trailing whitespace. Usernames are
// matched exactly, so a padded one would be a different account.
func trimmed(fl validator.FieldLevel) bool {
	v := fl.Field().String()
	return v == strings.TrimSpace(v)
}

// check validates a form and returns the message to show inline, or "".
func (h *Handler) check(form any) string {
	err := h.validate.Struct(form)
	if err == nil {
		return ""
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid input"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "max":
		return fe.Field() + " is too long"
	case "trimmed":
		return fe.Field() + " must not start or end with spaces"
	default:
		return fe.Field() + " is invalid"
	}
}
