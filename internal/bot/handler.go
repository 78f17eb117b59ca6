package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Dashstrom/easterobot/internal/ledger"
	"github.com/Dashstrom/easterobot/internal/ratelimit"
	"github.com/Dashstrom/easterobot/internal/scheduler"
	"github.com/Dashstrom/easterobot/internal/session"
)

const claimPrefix = "hunt_claim:"

var rankMedals = map[int]string{1: "🥇", 2: "🥈", 3: "🥉"}

type module struct {
	s          *discordgo.Session
	appID      string
	scopeGuild string
	mgr        *session.Manager
	store      ledger.Store
	basketLim  *ratelimit.Limiter
	topLim     *ratelimit.Limiter
	searchLim  *ratelimit.Limiter
	logger     *slog.Logger
}

// Setup registers the slash commands and the interaction handler.
func Setup(
	sess *discordgo.Session,
	appID, scopeGuild string,
	mgr *session.Manager,
	store ledger.Store,
	basketLim *ratelimit.Limiter,
	topLim *ratelimit.Limiter,
	searchLim *ratelimit.Limiter,
	logger *slog.Logger,
) error {
	m := &module{
		s:          sess,
		appID:      appID,
		scopeGuild: scopeGuild,
		mgr:        mgr,
		store:      store,
		basketLim:  basketLim,
		topLim:     topLim,
		searchLim:  searchLim,
		logger:     logger,
	}

	created, err := sess.ApplicationCommandBulkOverwrite(appID, scopeGuild, commandDefs())
	if err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}
	for _, c := range created {
		logger.Info("command active", "name", c.Name)
	}

	sess.AddHandler(m.onInteraction)
	return nil
}

func (m *module) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		switch i.ApplicationCommandData().Name {
		case "hunt":
			m.handleHunt(s, i)
		case "search":
			m.handleSearch(s, i)
		case "basket":
			m.handleBasket(s, i)
		case "top":
			m.handleTop(s, i)
		}
	case discordgo.InteractionMessageComponent:
		customID := i.MessageComponentData().CustomID
		if strings.HasPrefix(customID, claimPrefix) {
			m.handleClaim(s, i, strings.TrimPrefix(customID, claimPrefix))
		}
	}
}

func (m *module) handleHunt(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.GuildID == "" {
		respondEphemeral(s, i, "Use this command in a server!")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sub := i.ApplicationCommandData().Options[0].Name
	switch sub {
	case "enable":
		err := m.mgr.Start(ctx, i.GuildID, i.ChannelID)
		if errors.Is(err, session.ErrAlreadyActive) {
			respondEphemeral(s, i, "A hunt is already running here.")
			return
		}
		if err != nil {
			m.logger.Error("failed to start hunt", "guild", i.GuildID, "error", err)
			respondEphemeral(s, i, "Could not start the hunt, try again later.")
			return
		}
		respond(s, i, "🐰 The hunt is on! Eggs will appear in this channel.")
	case "disable":
		if err := m.mgr.Stop(ctx, i.GuildID); err != nil {
			m.logger.Error("failed to stop hunt", "guild", i.GuildID, "error", err)
			respondEphemeral(s, i, "Could not stop the hunt, try again later.")
			return
		}
		respond(s, i, "The hunt is over. Thanks for playing!")
	case "pause":
		if err := m.mgr.Pause(i.GuildID, true); err != nil {
			respondEphemeral(s, i, "No hunt is running in this server.")
			return
		}
		respond(s, i, "The hunt is paused. Eggs already hidden can still be picked up.")
	case "resume":
		if err := m.mgr.Pause(i.GuildID, false); err != nil {
			respondEphemeral(s, i, "No hunt is running in this server.")
			return
		}
		respond(s, i, "The hunt resumes!")
	}
}

func (m *module) handleClaim(s *discordgo.Session, i *discordgo.InteractionCreate, itemID string) {
	if i.GuildID == "" || i.Member == nil || i.Member.User == nil {
		return
	}
	userID := i.Member.User.ID

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	outcome, err := m.mgr.RouteClaim(ctx, i.GuildID, itemID, userID, time.Now())
	if errors.Is(err, session.ErrUnknownGuild) {
		respondEphemeral(s, i, "This egg is not part of an active hunt.")
		return
	}
	if err != nil {
		m.logger.Error("claim failed", "guild", i.GuildID, "item", itemID, "error", err)
		respondEphemeral(s, i, "Something went wrong, try again.")
		return
	}

	switch outcome {
	case ledger.OutcomeWon:
		count, _ := m.store.Collected(ctx, i.GuildID, userID)
		respondEphemeral(s, i, fmt.Sprintf("🥚 You grabbed the egg! Your basket holds %d.", count))
	case ledger.OutcomeAlreadyClaimed:
		respondEphemeral(s, i, "Too late, someone was faster!")
	case ledger.OutcomeExpired:
		respondEphemeral(s, i, "The egg is gone...")
	default:
		respondEphemeral(s, i, "This egg is not part of an active hunt.")
	}
}

func (m *module) handleSearch(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.GuildID == "" || i.Member == nil || i.Member.User == nil {
		respondEphemeral(s, i, "Use this command in a server!")
		return
	}
	userID := i.Member.User.ID

	if ok, rem := m.searchLim.TryUser(i.GuildID, userID); !ok {
		respondEphemeral(s, i, fmt.Sprintf("⏳ You just combed this spot... try again in %s.", pretty(rem)))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, count, err := m.mgr.RouteSearch(ctx, i.GuildID, userID, time.Now())
	if errors.Is(err, session.ErrUnknownGuild) {
		respondEphemeral(s, i, "No hunt is running in this server.")
		return
	}
	if err != nil {
		m.logger.Error("search failed", "guild", i.GuildID, "user", userID, "error", err)
		respondEphemeral(s, i, "Something went wrong, try again.")
		return
	}

	switch result {
	case scheduler.SearchFound:
		respondEmbed(s, i, &discordgo.MessageEmbed{
			Title:       "🥚 Egg found!",
			Description: fmt.Sprintf("<@%s> dug up a hidden egg. Their basket holds **%d** %s.", userID, count, plural("egg", count)),
			Color:       colorClaimed,
		})
	case scheduler.SearchSpotted:
		respondEphemeral(s, i, "👀 Someone saw you digging! The egg is up for grabs in the channel.")
	default:
		respondEmbed(s, i, &discordgo.MessageEmbed{
			Title:       "🍃 Nothing here",
			Description: fmt.Sprintf("<@%s> rummaged through the bushes and came back empty-handed.", userID),
			Color:       colorExpired,
		})
	}
}

func (m *module) handleBasket(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.GuildID == "" {
		respondEphemeral(s, i, "Use this command in a server!")
		return
	}
	userID := ""
	if i.Member != nil && i.Member.User != nil {
		userID = i.Member.User.ID
	}

	if ok, rem := m.basketLim.TryUser(i.GuildID, userID); !ok {
		respondEphemeral(s, i, fmt.Sprintf("⏳ Your basket is being counted… try again in %s.", pretty(rem)))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	count, err := m.store.Collected(ctx, i.GuildID, userID)
	if err != nil {
		m.logger.Error("failed to load basket", "guild", i.GuildID, "error", err)
		respondEphemeral(s, i, "Error loading your basket.")
		return
	}

	desc := fmt.Sprintf("You have collected **%d** %s.", count, plural("egg", count))
	if count > 0 {
		// standing relative to the guild leader, the further behind the
		// better the draw odds feel
		if lead, err := m.store.MaxCollected(ctx, i.GuildID); err == nil && lead > 0 {
			desc += fmt.Sprintf("\nThe top hunter holds **%d**, you are at **%.0f%%** of the lead.",
				lead, float64(count)/float64(lead)*100)
		}
	} else {
		desc += "\nKeep an eye on the hunt channel!"
	}

	respondEmbedEphemeral(s, i, &discordgo.MessageEmbed{
		Title:       "🧺 Your basket",
		Description: desc,
		Color:       colorSpawn,
	})
}

func (m *module) handleTop(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.GuildID == "" {
		respondEphemeral(s, i, "Use this command in a server!")
		return
	}

	if ok, rem := m.topLim.TryGuild(i.GuildID, "top"); !ok {
		respondEphemeral(s, i, fmt.Sprintf("⏳ Leaderboard refreshing... try again in %s.", pretty(rem)))
		return
	}

	limit := 10
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == "count" {
			limit = int(opt.IntValue())
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	entries, err := m.store.Leaderboard(ctx, i.GuildID, limit)
	if err != nil {
		m.logger.Error("failed to load leaderboard", "guild", i.GuildID, "error", err)
		respondEphemeral(s, i, "Error loading leaderboard.")
		return
	}
	if len(entries) == 0 {
		respondEphemeral(s, i, "No eggs collected yet, watch for the next spawn!")
		return
	}

	desc := strings.Builder{}
	for idx, e := range entries {
		rank := idx + 1
		badge, ok := rankMedals[rank]
		if !ok {
			badge = fmt.Sprintf("`#%d`", rank)
		}
		fmt.Fprintf(&desc, "%s <@%s> · **%d** %s\n", badge, e.UserID, e.Collected, plural("egg", e.Collected))
	}

	respondEmbed(s, i, &discordgo.MessageEmbed{
		Title:       "🏆 Egg hunt leaderboard",
		Description: desc.String(),
		Color:       colorClaimed,
	})
}

func respond(s *discordgo.Session, i *discordgo.InteractionCreate, msg string) {
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: msg},
	})
}

func respondEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, msg string) {
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: msg,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

func respondEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{embed}},
	})
}

func respondEmbedEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  discordgo.MessageFlagsEphemeral,
		},
	})
}

func pretty(d time.Duration) string {
	// mm:ss
	if d < 0 {
		d = 0
	}
	m := int(d / time.Minute)
	s := int((d % time.Minute) / time.Second)
	return fmt.Sprintf("%d:%02d", m, s)
}

func plural(word string, n int) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
