package social

import (
	"context"
	"strconv"

	tele "gopkg.in/telebot.v4"

	"github.com/wpowiertowski/posse/internal/config"
)

// Telegram posts to one chat or channel through the Bot API. It is
// publish-only: Telegram has no public per-message engagement to read back,
// so it does not implement InteractionSource.
type Telegram struct {
	name string
	chat chatRef
	bot  *tele.Bot
}

// chatRef addresses a chat by numeric id or @username.
type chatRef string

func (c chatRef) Recipient() string { return string(c) }

// NewTelegram builds a client for a configured chat. The bot is constructed
// offline so startup never blocks on the Bot API; Verify does the live check.
func NewTelegram(ac config.TelegramAccount) (*Telegram, error) {
	token, err := readSecret(ac.CredentialsFile)
	if err != nil {
		return nil, err
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   token,
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &Telegram{name: ac.Name, chat: chatRef(ac.ChatID), bot: b}, nil
}

func (t *Telegram) Platform() string { return PlatformTelegram }
func (t *Telegram) Name() string     { return t.name }

// Verify calls getMe to confirm the token is live.
func (t *Telegram) Verify(ctx context.Context) error {
	_, err := t.bot.Raw("getMe", nil)
	return err
}

// Publish sends the message: plain text without media, a captioned photo for
// one image, an album for several. A replyTo result threads the message onto
// an earlier one in the chat.
func (t *Telegram) Publish(ctx context.Context, msg Message, replyTo *Result) (*Result, error) {
	opt := &tele.SendOptions{DisableWebPagePreview: false}
	if replyTo != nil {
		if id, err := strconv.Atoi(replyTo.RemoteID); err == nil {
			opt.ReplyTo = &tele.Message{ID: id, Chat: &tele.Chat{}}
		}
	}

	var (
		sent *tele.Message
		err  error
	)
	switch {
	case len(msg.Media) == 0:
		sent, err = t.bot.Send(t.chat, msg.Text, opt)
	case len(msg.Media) == 1:
		photo := &tele.Photo{File: tele.FromDisk(msg.Media[0].Path), Caption: msg.Text}
		sent, err = t.bot.Send(t.chat, photo, opt)
	default:
		album := make(tele.Album, 0, len(msg.Media))
		for i, md := range msg.Media {
			p := &tele.Photo{File: tele.FromDisk(md.Path)}
			// Telegram shows the album caption from the first entry.
			if i == 0 {
				p.Caption = msg.Text
			}
			album = append(album, p)
		}
		var msgs []tele.Message
		msgs, err = t.bot.SendAlbum(t.chat, album, opt)
		if err == nil && len(msgs) > 0 {
			sent = &msgs[0]
		}
	}
	if err != nil {
		return nil, err
	}
	if sent == nil {
		return &Result{}, nil
	}
	return &Result{RemoteID: strconv.Itoa(sent.ID)}, nil
}
