// Package notifier renders moderation output into guild channels: the
// confirmation prompts, the mod log and operator alerts.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/Slipstreamm/openguard/internal/config"
	"github.com/Slipstreamm/openguard/internal/decision"
	"github.com/Slipstreamm/openguard/internal/logging"
	"github.com/Slipstreamm/openguard/internal/models"
	"github.com/Slipstreamm/openguard/pkg/util"
)

const (
	colorRed    = 0xED4245
	colorOrange = 0xE67E22
	colorGreen  = 0x57F287
	colorGrey   = 0x95A5A6
	colorPurple = 0x9B59B6
	colorBlue   = 0x5865F2

	footer = "OpenGuard moderation"
)

// Sender is the slice of *discordgo.Session the notifier uses.
type Sender interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// PolicySource finds the mod log of guilds whose output is not tied to a
// decision, such as appeals.
type PolicySource interface {
	Snapshot(ctx context.Context, guildID util.Snowflake) (*config.GuildPolicy, error)
}

type Notifier struct {
	sender   Sender
	policies PolicySource
	logger   *slog.Logger
	now      func() time.Time
}

func New(sender Sender, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = logging.L()
	}
	return &Notifier{sender: sender, logger: logger.With("component", "notifier"), now: time.Now}
}

func (n *Notifier) SetPolicies(p PolicySource) {
	n.policies = p
}

// PresentConfirmation posts the approve/reject prompt into the mod log.
func (n *Notifier) PresentConfirmation(ctx context.Context, c *decision.Confirmation) (string, error) {
	d := c.Decision
	if d.LogChannelID.IsZero() {
		return "", nil
	}
	msg := &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{n.confirmationEmbed(c)},
		Components: ConfirmationButtons(c.ID, false),
	}
	if !d.NotifyRoleID.IsZero() {
		msg.Content = fmt.Sprintf("<@&%s> confirmation needed", d.NotifyRoleID)
		msg.AllowedMentions = &discordgo.MessageAllowedMentions{Roles: []string{d.NotifyRoleID.String()}}
	}
	m, err := n.sender.ChannelMessageSendComplex(d.LogChannelID.String(), msg, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("post confirmation %s: %w", c.ID, err)
	}
	return m.ID, nil
}

// ConfirmationClosed replaces the prompt buttons with the final state.
func (n *Notifier) ConfirmationClosed(ctx context.Context, c *decision.Confirmation) {
	if c.MessageID == "" || c.Decision.LogChannelID.IsZero() {
		return
	}
	components := ConfirmationButtons(c.ID, true)
	embeds := []*discordgo.MessageEmbed{n.confirmationEmbed(c)}
	edit := &discordgo.MessageEdit{
		ID:         c.MessageID,
		Channel:    c.Decision.LogChannelID.String(),
		Embeds:     &embeds,
		Components: &components,
	}
	if _, err := n.sender.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx)); err != nil {
		n.logger.Warn("confirmation prompt not updated", "confirmation", c.ID, "err", err)
	}
}

// Escalate pings the guild's responder role about self-harm content.
func (n *Notifier) Escalate(ctx context.Context, d models.Decision) {
	if d.LogChannelID.IsZero() {
		n.logger.Warn("self-harm escalation has no log channel", "guild", d.GuildID, "target", d.TargetID)
		return
	}
	msg := &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       "Possible self-harm content",
			Color:       colorPurple,
			Description: fmt.Sprintf("<@%s> may need support. Help resources were sent by DM.", d.TargetID),
			Fields:      decisionFields(d),
			Footer:      &discordgo.MessageEmbedFooter{Text: footer},
			Timestamp:   n.now().UTC().Format(time.RFC3339),
		}},
	}
	if !d.NotifyRoleID.IsZero() {
		msg.Content = fmt.Sprintf("<@&%s>", d.NotifyRoleID)
		msg.AllowedMentions = &discordgo.MessageAllowedMentions{Roles: []string{d.NotifyRoleID.String()}}
	}
	if _, err := n.sender.ChannelMessageSendComplex(d.LogChannelID.String(), msg, discordgo.WithContext(ctx)); err != nil {
		n.logger.Error("self-harm escalation not delivered", "guild", d.GuildID, "target", d.TargetID, "err", err)
	}
}

// ReportOutcome writes the result of an enforcement to the mod log.
func (n *Notifier) ReportOutcome(ctx context.Context, d models.Decision, inf *models.Infraction, err error) {
	if d.LogChannelID.IsZero() || d.Action == models.ActionEscalate && err == nil {
		return
	}
	embed := OutcomeEmbed(d, inf, err)
	embed.Timestamp = n.now().UTC().Format(time.RFC3339)
	n.send(ctx, d.LogChannelID, embed)
}

// ReportTestMode logs what would have been done in a test-mode guild.
func (n *Notifier) ReportTestMode(ctx context.Context, d models.Decision) {
	if d.LogChannelID.IsZero() {
		return
	}
	embed := &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("Test mode: would %s %s", d.Action, d.TargetID),
		Color:       colorBlue,
		Description: "No action was taken.",
		Fields:      decisionFields(d),
		Footer:      &discordgo.MessageEmbedFooter{Text: footer + " (test mode)"},
		Timestamp:   n.now().UTC().Format(time.RFC3339),
	}
	if d.RequiresConfirmation {
		embed.Description = "No action was taken. A moderator would have been asked to confirm."
	}
	n.send(ctx, d.LogChannelID, embed)
}

// AppealFiled posts a new appeal with accept/reject buttons into the mod
// log, pinging the confirmation role.
func (n *Notifier) AppealFiled(ctx context.Context, a *models.Appeal, inf *models.Infraction) {
	if n.policies == nil {
		return
	}
	policy, err := n.policies.Snapshot(ctx, a.GuildID)
	if err != nil {
		n.logger.Warn("appeal not announced", "appeal", a.ID, "err", err)
		return
	}
	if policy.ModLogChannelID.IsZero() {
		n.logger.Warn("appeal has no log channel", "guild", a.GuildID, "appeal", a.ID)
		return
	}
	msg := &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{AppealEmbed(a, inf)},
		Components: AppealButtons(a.ID, false),
	}
	if role := policy.ConfirmationPingRoleID; !role.IsZero() {
		msg.Content = fmt.Sprintf("<@&%s> new appeal", role)
		msg.AllowedMentions = &discordgo.MessageAllowedMentions{Roles: []string{role.String()}}
	}
	if _, err := n.sender.ChannelMessageSendComplex(policy.ModLogChannelID.String(), msg, discordgo.WithContext(ctx)); err != nil {
		n.logger.Warn("appeal not announced", "appeal", a.ID, "err", err)
	}
}

// AlertFailure flags a permanent enforcement failure for operators.
func (n *Notifier) AlertFailure(ctx context.Context, d models.Decision, err error) {
	n.logger.Error("permanent enforcement failure", "guild", d.GuildID, "target", d.TargetID, "action", d.Action, "err", err)
	if d.LogChannelID.IsZero() {
		return
	}
	embed := &discordgo.MessageEmbed{
		Title:       "Enforcement needs attention",
		Color:       colorRed,
		Description: fmt.Sprintf("Could not %s <@%s>: %s", d.Action, d.TargetID, failureHint(err)),
		Fields:      decisionFields(d),
		Footer:      &discordgo.MessageEmbedFooter{Text: footer},
		Timestamp:   n.now().UTC().Format(time.RFC3339),
	}
	n.send(ctx, d.LogChannelID, embed)
}

func (n *Notifier) send(ctx context.Context, channelID util.Snowflake, embed *discordgo.MessageEmbed) {
	msg := &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}}
	if _, err := n.sender.ChannelMessageSendComplex(channelID.String(), msg, discordgo.WithContext(ctx)); err != nil {
		n.logger.Warn("mod log message not delivered", "channel", channelID, "err", err)
	}
}

func (n *Notifier) confirmationEmbed(c *decision.Confirmation) *discordgo.MessageEmbed {
	d := c.Decision
	color := colorOrange
	title := fmt.Sprintf("Confirm %s of %s?", d.Action, d.TargetID)
	switch c.State {
	case decision.StateApproved:
		color, title = colorGreen, fmt.Sprintf("%s approved by %s", actionTitle(d.Action), d.ModeratorID)
	case decision.StateRejected:
		color, title = colorGrey, fmt.Sprintf("%s rejected", actionTitle(d.Action))
	case decision.StateExpired:
		color, title = colorGrey, "Confirmation expired, no action taken"
	case decision.StateCancelled:
		color, title = colorGrey, "Confirmation cancelled"
	}
	fields := decisionFields(d)
	if c.Coalesced > 0 {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Repeat triggers", Value: fmt.Sprintf("%d", c.Coalesced), Inline: true})
	}
	if c.State == decision.StatePending {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Expires", Value: fmt.Sprintf("<t:%d:R>", c.Deadline.Unix()), Inline: true})
	}
	return &discordgo.MessageEmbed{
		Title:     title,
		Color:     color,
		Fields:    fields,
		Footer:    &discordgo.MessageEmbedFooter{Text: "Confirmation " + c.ID},
		Timestamp: c.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// AppealEmbed renders an appeal and the infraction it contests. Resolved
// appeals show who decided them.
func AppealEmbed(a *models.Appeal, inf *models.Infraction) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("Appeal from %s", a.UserID),
		Color:       colorOrange,
		Description: clip(a.Text, 2048),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "User", Value: fmt.Sprintf("<@%s> (`%s`)", a.UserID, a.UserID), Inline: true},
			{Name: "Infraction", Value: "`" + a.InfractionID + "`", Inline: true},
		},
		Footer:    &discordgo.MessageEmbedFooter{Text: "Appeal " + a.ID},
		Timestamp: a.CreatedAt.UTC().Format(time.RFC3339),
	}
	if inf != nil {
		embed.Fields = append(embed.Fields,
			&discordgo.MessageEmbedField{Name: "Action", Value: string(inf.Action), Inline: true},
			&discordgo.MessageEmbedField{Name: "Reason", Value: clip(orDash(inf.Reason), 1024)},
		)
	}
	switch a.Status {
	case models.AppealAccepted:
		embed.Color = colorGreen
		embed.Title = fmt.Sprintf("Appeal accepted by %s", a.ResolvedBy)
	case models.AppealRejected:
		embed.Color = colorGrey
		embed.Title = fmt.Sprintf("Appeal rejected by %s", a.ResolvedBy)
	}
	return embed
}

// ConfirmationButtons builds the approve/reject row. The custom IDs are
// parsed back by ParseConfirmationID.
func ConfirmationButtons(id string, disabled bool) []discordgo.MessageComponent {
	return buttonRow(confirmPrefix, "Approve", "approve", "Reject", "reject", id, disabled)
}

// AppealButtons builds the accept/reject row parsed by ParseAppealID.
func AppealButtons(id string, disabled bool) []discordgo.MessageComponent {
	return buttonRow(appealPrefix, "Accept", "accept", "Reject", "reject", id, disabled)
}

func buttonRow(prefix, yesLabel, yes, noLabel, no, id string, disabled bool) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{Label: yesLabel, Style: discordgo.DangerButton, CustomID: prefix + yes + ":" + id, Disabled: disabled},
			discordgo.Button{Label: noLabel, Style: discordgo.SecondaryButton, CustomID: prefix + no + ":" + id, Disabled: disabled},
		}},
	}
}

const (
	confirmPrefix = "confirm:"
	appealPrefix  = "appeal:"
)

// ParseConfirmationID splits "confirm:approve:<id>" and
// "confirm:reject:<id>".
func ParseConfirmationID(customID string) (id string, approve bool, ok bool) {
	return parseButton(customID, confirmPrefix, "approve", "reject")
}

// ParseAppealID splits "appeal:accept:<id>" and "appeal:reject:<id>".
func ParseAppealID(customID string) (id string, accept bool, ok bool) {
	return parseButton(customID, appealPrefix, "accept", "reject")
}

func parseButton(customID, prefix, yes, no string) (string, bool, bool) {
	rest, found := strings.CutPrefix(customID, prefix)
	if !found {
		return "", false, false
	}
	verb, id, found := strings.Cut(rest, ":")
	if !found || id == "" {
		return "", false, false
	}
	switch verb {
	case yes:
		return id, true, true
	case no:
		return id, false, true
	}
	return "", false, false
}

// OutcomeEmbed renders the mod log entry of one enforcement.
func OutcomeEmbed(d models.Decision, inf *models.Infraction, err error) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Fields: decisionFields(d),
		Footer: &discordgo.MessageEmbedFooter{Text: footer},
	}
	if err != nil {
		embed.Title = fmt.Sprintf("%s of %s failed", actionTitle(d.Action), d.TargetID)
		embed.Color = colorRed
		embed.Description = failureHint(err)
		return embed
	}
	embed.Title = fmt.Sprintf("%s: %s", actionTitle(d.Action), d.TargetID)
	embed.Color = colorGreen
	if d.Action == models.ActionBan || d.Action == models.ActionKick {
		embed.Color = colorRed
	}
	if inf != nil {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Infraction", Value: "`" + inf.ID + "`"})
	}
	if !d.ModeratorID.IsZero() {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Confirmed by", Value: fmt.Sprintf("<@%s>", d.ModeratorID), Inline: true})
	}
	return embed
}

func decisionFields(d models.Decision) []*discordgo.MessageEmbedField {
	fields := []*discordgo.MessageEmbedField{
		{Name: "User", Value: fmt.Sprintf("<@%s> (`%s`)", d.TargetID, d.TargetID), Inline: true},
		{Name: "Action", Value: string(d.Action), Inline: true},
	}
	if !d.ChannelID.IsZero() {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Channel", Value: fmt.Sprintf("<#%s>", d.ChannelID), Inline: true})
	}
	if d.Reason != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Reason", Value: clip(d.Reason, 1024)})
	}
	if d.Evidence != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Evidence", Value: clip(d.Evidence, 1024)})
	}
	return fields
}

// Casers are stateful, so each call gets its own.
func actionTitle(kind models.ActionKind) string {
	return cases.Title(language.English).String(string(kind))
}

func failureHint(err error) string {
	var ee *models.EnforcementError
	if errors.As(err, &ee) && ee.StatusCode == 403 {
		return "the bot is missing permissions or the target is above the bot's role"
	}
	return clip(err.Error(), 1024)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
