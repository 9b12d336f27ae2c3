package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

// DiscordBot выполняет действия исполнения через REST API Discord.
type DiscordBot struct {
	session *discordgo.Session
}

// NewDiscordBot создаёт REST-сессию бота. Gateway-соединение не открывается.
func NewDiscordBot(token string) (*DiscordBot, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return &DiscordBot{session: session}, nil
}

// SendDirectMessage открывает личный канал с пользователем и отправляет в него текст.
func (b *DiscordBot) SendDirectMessage(ctx context.Context, userID, text string) error {
	ch, err := b.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return classifyDiscordError(fmt.Errorf("open dm channel: %w", err))
	}

	if _, err := b.session.ChannelMessageSend(ch.ID, text, discordgo.WithContext(ctx)); err != nil {
		return classifyDiscordError(fmt.Errorf("send dm: %w", err))
	}
	return nil
}

// GrantRole выдаёт роль участнику сервера. Повторная выдача не меняет результат.
func (b *DiscordBot) GrantRole(ctx context.Context, guildID, userID, roleID string) error {
	if err := b.session.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx)); err != nil {
		return classifyDiscordError(fmt.Errorf("add role: %w", err))
	}
	return nil
}

// classifyDiscordError помечает как постоянные ответы 4xx, кроме 429.
func classifyDiscordError(err error) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		code := restErr.Response.StatusCode
		if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
			return fmt.Errorf("%w: %w", ErrPermanent, err)
		}
	}
	return err
}
