// Package oauth настраивает вход через Discord OAuth на основе goth.
package oauth

import (
	"crypto/rand"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/sessions"
	"github.com/markbates/goth"
	"github.com/markbates/goth/gothic"
	"github.com/markbates/goth/providers/discord"

	"github.com/mmeshcher/subscription-storefront/internal/model"
)

const stateTTL = 10 * time.Minute

// Config содержит параметры OAuth-приложения Discord.
type Config struct {
	ClientID      string
	ClientSecret  string
	CallbackURL   string
	SessionSecret string
	SecureCookie  bool
}

// Identity описывает учётную запись пользователя у провайдера.
type Identity struct {
	Provider  string
	AccountID string
	Name      string
	Email     string
}

// Discord выполняет вход через Discord.
type Discord struct{}

// Setup регистрирует провайдера Discord и хранилище состояния OAuth в cookie.
func Setup(cfg Config) *Discord {
	goth.UseProviders(
		discord.New(
			cfg.ClientID,
			cfg.ClientSecret,
			cfg.CallbackURL,
			discord.ScopeIdentify, discord.ScopeEmail,
		),
	)

	key := []byte(cfg.SessionSecret)
	if len(key) == 0 {
		key = make([]byte, 32)
		_, _ = rand.Read(key)
	}

	store := sessions.NewCookieStore(key)
	store.MaxAge(int(stateTTL.Seconds()))
	store.Options.Path = "/"
	store.Options.HttpOnly = true
	store.Options.Secure = cfg.SecureCookie
	store.Options.SameSite = http.SameSiteLaxMode

	gothic.Store = store
	gothic.GetProviderName = func(*http.Request) (string, error) {
		return model.ProviderDiscord, nil
	}

	return &Discord{}
}

// BeginAuth перенаправляет пользователя на страницу авторизации Discord.
func (d *Discord) BeginAuth(w http.ResponseWriter, r *http.Request) {
	gothic.BeginAuthHandler(w, r)
}

// CompleteAuth обменивает код авторизации на данные учётной записи.
func (d *Discord) CompleteAuth(w http.ResponseWriter, r *http.Request) (*Identity, error) {
	u, err := gothic.CompleteUserAuth(w, r)
	if err != nil {
		return nil, fmt.Errorf("complete oauth: %w", err)
	}
	return identityFromUser(u), nil
}

// Logout очищает сессию OAuth.
func (d *Discord) Logout(w http.ResponseWriter, r *http.Request) error {
	return gothic.Logout(w, r)
}

func identityFromUser(u goth.User) *Identity {
	name := strings.TrimSpace(u.Name)
	if name == "" {
		name = strings.TrimSpace(u.NickName)
	}
	return &Identity{
		Provider:  model.ProviderDiscord,
		AccountID: u.UserID,
		Name:      name,
		Email:     strings.TrimSpace(u.Email),
	}
}
