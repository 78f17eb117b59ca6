package bot

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
)

const (
	colorSpawn   = 0xF1C40F // gold
	colorClaimed = 0x2ECC71 // green
	colorExpired = 0x95A5A6 // gray
)

// noticeBook remembers which message announced which item, so the notice can
// be edited once the egg is claimed or gone.
type noticeBook struct {
	mu       sync.Mutex
	messages map[string]spawnNotice // item id -> notice
}

type spawnNotice struct {
	channelID string
	messageID string
	cellLabel string
}

func (b *noticeBook) put(itemID string, n spawnNotice) {
	b.mu.Lock()
	if b.messages == nil {
		b.messages = make(map[string]spawnNotice)
	}
	b.messages[itemID] = n
	b.mu.Unlock()
}

func (b *noticeBook) take(itemID string) (spawnNotice, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.messages[itemID]
	if ok {
		delete(b.messages, itemID)
	}
	return n, ok
}

// Notifier posts spawn and claim notices. Every method is best-effort: a
// failed send is logged and dropped, the engine state has already moved on.
type Notifier struct {
	s       *discordgo.Session
	notices noticeBook
	logger  *slog.Logger
}

func NewNotifier(s *discordgo.Session, logger *slog.Logger) *Notifier {
	return &Notifier{s: s, logger: logger}
}

func (n *Notifier) HuntStarted(guildID, channelID, itemID, cellLabel string) {
	n.postNotice(channelID, itemID, cellLabel, &discordgo.MessageEmbed{
		Title:       "An egg has appeared!",
		Description: fmt.Sprintf("An egg is hidden at **%s**. First to grab it keeps it!", cellLabel),
		Color:       colorSpawn,
	})
}

func (n *Notifier) HuntSpotted(guildID, channelID, itemID, userID, cellLabel string) {
	n.postNotice(channelID, itemID, cellLabel, &discordgo.MessageEmbed{
		Title:       "An egg rolled into the open!",
		Description: fmt.Sprintf("<@%s> was seen digging at **%s**. First to grab the egg keeps it!", userID, cellLabel),
		Color:       colorSpawn,
	})
}

// postNotice sends a spawn message with its claim button and remembers it
// for the later edit.
func (n *Notifier) postNotice(channelID, itemID, cellLabel string, embed *discordgo.MessageEmbed) {
	components := []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Grab the egg",
					Style:    discordgo.PrimaryButton,
					CustomID: claimPrefix + itemID,
					Emoji:    &discordgo.ComponentEmoji{Name: "🥚"},
				},
			},
		},
	}

	msg, err := n.s.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{embed},
		Components: components,
	})
	if err != nil {
		logREST(n.logger, "spawn notice failed", err)
		return
	}
	n.notices.put(itemID, spawnNotice{channelID: channelID, messageID: msg.ID, cellLabel: cellLabel})
}

func (n *Notifier) HuntClaimed(guildID, channelID, itemID, userID string, collected int) {
	if notice, ok := n.notices.take(itemID); ok {
		n.finishNotice(notice, fmt.Sprintf("The egg at **%s** was picked up by <@%s>.", notice.cellLabel, userID), colorClaimed)
	}

	_, err := n.s.ChannelMessageSendEmbed(channelID, &discordgo.MessageEmbed{
		Title:       "Egg collected!",
		Description: fmt.Sprintf("<@%s> picked up the egg. Their basket holds **%d** %s.", userID, collected, plural("egg", collected)),
		Color:       colorClaimed,
	})
	if err != nil {
		logREST(n.logger, "claim notice failed", err)
	}
}

func (n *Notifier) HuntExpired(guildID, channelID, itemID, cellLabel string) {
	if notice, ok := n.notices.take(itemID); ok {
		n.finishNotice(notice, fmt.Sprintf("The egg at **%s** was never found...", cellLabel), colorExpired)
	}
}

// finishNotice rewrites a spawn message once its egg is settled, dropping
// the claim button.
func (n *Notifier) finishNotice(notice spawnNotice, text string, color int) {
	embed := &discordgo.MessageEmbed{Description: text, Color: color}
	empty := []discordgo.MessageComponent{}
	_, err := n.s.ChannelMessageEditComplex(&discordgo.MessageEdit{
		Channel:    notice.channelID,
		ID:         notice.messageID,
		Embeds:     &[]*discordgo.MessageEmbed{embed},
		Components: &empty,
	})
	if err != nil {
		logREST(n.logger, "notice edit failed", err)
	}
}

func logREST(logger *slog.Logger, msg string, err error) {
	if rerr, ok := err.(*discordgo.RESTError); ok && rerr.Message != nil {
		logger.Warn(msg, "code", rerr.Message.Code, "message", rerr.Message.Message)
	} else {
		logger.Warn(msg, "error", err)
	}
}
