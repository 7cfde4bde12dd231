package flightless

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// CommandKind identifies a built-in command
type CommandKind int

const (
	CommandTags CommandKind = iota + 1
	CommandTag
	CommandAliases
	CommandAlias
	CommandTop
	CommandTime
	CommandTranslate
	CommandHelp
)

const (
	tagSubCreate = "create"
	tagSubEdit   = "edit"
	tagSubDelete = "delete"
	tagSubAlias  = "alias"
	tagSubInfo   = "info"
)

const (
	msgTagCreateFailed = "Tag could not be created.\nPlease make sure its name is not already in use."
	msgTagEmptyBody    = "Tag could not be created.\nA tag needs a reply or an image."
	msgTagEditFailed   = "Tag could not be edited.\nYou can only edit tags that you own or that exist."
	msgTagEditEmpty    = "Tag could not be edited.\nA tag needs a reply or an image."
	msgTagDeleteFailed = "Tag could not be deleted.\nYou can only delete tags that you own or that exist."
	msgTagDeleted      = "Tag `%s` deleted."
	msgAliasConflict   = "Alias could not be created.\nPlease make sure its name is not already in use."
	msgAliasMissing    = "Alias could not be created.\nYou can only create aliases for tags or commands that exist."
	msgAliasCreated    = "Alias `%s` now points to `%s`."
	msgPersistFailed   = "Your change could not be saved. Please try again later."
	msgTopNotReady     = "I am still counting messages for this command sorry. Try again later."
	msgTopGuildOnly    = "The leaderboard is only available in servers."
	msgTranslateOff    = "Translate is not available."
	msgTranslateFailed = "Text could not be translated."
	msgUsage           = "Usage: `%s%s`"
)

// commandDef describes a built-in command and the minimum number of
// arguments it accepts
type commandDef struct {
	Kind        CommandKind
	Name        string
	Usage       string
	Description string
	MinArgs     int
}

var builtinCommands = []commandDef{
	{
		Kind:        CommandTags,
		Name:        "tags",
		Usage:       "tags",
		Description: "List every tag and command",
	},
	{
		Kind:        CommandTag,
		Name:        "tag",
		Usage:       "tag <create|edit|delete|info|alias> <name> [text and/or image url]",
		Description: "Create, edit, delete or inspect a tag",
	},
	{
		Kind:        CommandAliases,
		Name:        "aliases",
		Usage:       "aliases",
		Description: "List every alias",
	},
	{
		Kind:        CommandAlias,
		Name:        "alias",
		Usage:       "alias <tag or command> <alias>",
		Description: "Create another name for a tag or command",
		MinArgs:     2,
	},
	{
		Kind:        CommandTop,
		Name:        "top",
		Usage:       "top",
		Description: "Show who has sent the most messages in this server",
	},
	{
		Kind:        CommandTime,
		Name:        "time",
		Usage:       "time",
		Description: "Show the current UTC time",
	},
	{
		Kind:        CommandTranslate,
		Name:        "translate",
		Usage:       "translate <text>",
		Description: "Translate text",
		MinArgs:     1,
	},
	{
		Kind:        CommandHelp,
		Name:        "help",
		Usage:       "help",
		Description: "Show this message",
	},
}

var commandsByName = func() map[string]commandDef {
	m := make(map[string]commandDef, len(builtinCommands))
	for _, c := range builtinCommands {
		m[c.Name] = c
	}
	return m
}()

// LookupCommand returns the built-in command registered under name
func LookupCommand(name string) (CommandKind, bool) {
	c, ok := commandsByName[name]
	return c.Kind, ok
}

// CommandNames returns the built-in command names in registry order
func CommandNames() []string {
	names := make([]string, len(builtinCommands))
	for i, c := range builtinCommands {
		names[i] = c.Name
	}
	return names
}

func (k CommandKind) def() commandDef {
	for _, c := range builtinCommands {
		if c.Kind == k {
			return c
		}
	}
	return commandDef{}
}

func (k CommandKind) String() string {
	if s := k.def(); s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("CommandKind(%d)", int(k))
}

// validate checks cmd against the command's argument contract
func (k CommandKind) validate(cmd ParsedCommand) bool {
	return cmd.ArgCount() >= k.def().MinArgs
}

func (e *Engine) usage(m Message, kind CommandKind) *Reply {
	return e.message(m, fmt.Sprintf(msgUsage, e.parser.Prefix(), kind.def().Usage))
}

func (e *Engine) dispatch(
	ctx context.Context,
	kind CommandKind,
	cmd ParsedCommand,
	m Message,
) *Reply {
	if !kind.validate(cmd) {
		return e.usage(m, kind)
	}
	switch kind {
	case CommandTags:
		return e.tagsCommand(m)
	case CommandTag:
		return e.tagCommand(ctx, cmd, m)
	case CommandAliases:
		return e.aliasesCommand(m)
	case CommandAlias:
		return e.aliasCommand(ctx, cmd.Args[0], cmd.Args[1], m)
	case CommandTop:
		return e.topCommand(m)
	case CommandTime:
		return e.timeCommand(m)
	case CommandTranslate:
		return e.translateCommand(ctx, cmd, m)
	case CommandHelp:
		return e.helpCommand(m)
	default:
		panic(fmt.Sprintf("unhandled command kind: %s", kind))
	}
}

func (e *Engine) tagsCommand(m Message) *Reply {
	s := e.Snapshot()
	fields := listFields("Tags", s.TagNames())
	fields = append(fields, listFields("Commands", CommandNames())...)

	r := e.message(m, "")
	r.Title = fmt.Sprintf("%s reserved Commands/Tags", possessive(e.BotName()))
	r.Fields = fields
	return r
}

func (e *Engine) tagCommand(
	ctx context.Context,
	cmd ParsedCommand,
	m Message,
) *Reply {
	name := cmd.Args[1]
	body := cmd.Args[2]
	logger := loggerFrom(ctx, e.logger)

	switch strings.ToLower(cmd.Args[0]) {
	case tagSubCreate:
		t, err := e.CreateTag(ctx, m.AuthorID, name, body)
		switch {
		case err == nil:
			return e.tagReply(ctx, m, t)
		case errors.Is(err, ErrEmptyBody):
			return e.message(m, msgTagEmptyBody)
		case errors.Is(err, ErrPersist):
			return e.message(m, msgPersistFailed)
		default:
			logger.InfoContext(ctx, "tag not created", tint.Err(err))
			return e.message(m, msgTagCreateFailed)
		}
	case tagSubEdit:
		t, err := e.EditTag(ctx, name, m.AuthorID, body)
		switch {
		case err == nil:
			return e.tagReply(ctx, m, t)
		case errors.Is(err, ErrEmptyBody):
			return e.message(m, msgTagEditEmpty)
		case errors.Is(err, ErrPersist):
			return e.message(m, msgPersistFailed)
		default:
			logger.InfoContext(ctx, "tag not edited", tint.Err(err))
			return e.message(m, msgTagEditFailed)
		}
	case tagSubDelete:
		canonical, err := e.DeleteTag(ctx, name, m.AuthorID)
		switch {
		case err == nil:
			return e.message(m, fmt.Sprintf(msgTagDeleted, canonical))
		case errors.Is(err, ErrPersist):
			return e.message(m, msgPersistFailed)
		default:
			logger.InfoContext(ctx, "tag not deleted", tint.Err(err))
			return e.message(m, msgTagDeleteFailed)
		}
	case tagSubAlias:
		alias, _, _ := strings.Cut(body, " ")
		return e.aliasCommand(ctx, name, alias, m)
	case tagSubInfo:
		return e.tagInfo(ctx, name, m)
	default:
		return e.tagsCommand(m)
	}
}

func (e *Engine) tagInfo(ctx context.Context, name string, m Message) *Reply {
	t, ok := e.GetTag(name)
	if !ok {
		return e.message(m, fmt.Sprintf("Tag `%s` doesn't exist.", normalizeName(name)))
	}

	owner := t.OwnerID
	if e.users != nil {
		if n := e.users.UserName(ctx, t.OwnerID); n != "" {
			owner = n
		}
	}

	var aliases []string
	for _, a := range e.Snapshot().AliasList() {
		if a.Target == t.Name {
			aliases = append(aliases, a.Name)
		}
	}

	r := e.message(m, "")
	r.Title = fmt.Sprintf("Tag `%s`", t.Name)
	r.Fields = []Field{
		{Name: "Owner", Value: owner, Inline: true},
		{
			Name:   "Created",
			Value:  time.UnixMilli(t.CreatedAt).UTC().Format(time.DateTime),
			Inline: true,
		},
	}
	if t.ImageURL != nil {
		r.Fields = append(r.Fields, Field{Name: "Image", Value: *t.ImageURL})
	}
	r.Fields = append(r.Fields, listFields("Aliases", aliases)...)
	return r
}

func (e *Engine) aliasesCommand(m Message) *Reply {
	aliases := e.Snapshot().AliasList()
	names := make([]string, len(aliases))
	targets := make([]string, len(aliases))
	for i, a := range aliases {
		names[i] = a.Name
		targets[i] = a.Target
	}

	r := e.message(m, "")
	r.Title = fmt.Sprintf(
		"%s reserved Aliases for Commands/Tags",
		possessive(e.BotName()),
	)
	r.Fields = pairFields("Alias", "Command/Tag", names, targets)
	return r
}

func (e *Engine) aliasCommand(
	ctx context.Context,
	target string,
	alias string,
	m Message,
) *Reply {
	if target == "" || alias == "" {
		return e.usage(m, CommandAlias)
	}
	err := e.CreateAlias(ctx, target, alias)
	switch {
	case err == nil:
		return e.message(
			m,
			fmt.Sprintf(msgAliasCreated, normalizeName(alias), e.Resolve(alias)),
		)
	case errors.Is(err, ErrAliasTargetMissing):
		return e.message(m, msgAliasMissing)
	case errors.Is(err, ErrPersist):
		return e.message(m, msgPersistFailed)
	default:
		return e.message(m, msgAliasConflict)
	}
}

func (e *Engine) topCommand(m Message) *Reply {
	if m.GuildID == "" {
		return e.message(m, msgTopGuildOnly)
	}
	if e.leaderboard == nil {
		return e.message(m, msgTopNotReady)
	}
	standings, ok := e.leaderboard.Standings(m.GuildID)
	if !ok {
		return e.message(m, msgTopNotReady)
	}

	users := standings.Users
	maxUsers := embedMaxFields - 1
	other := standings.Other
	if len(users) > maxUsers {
		for _, u := range users[maxUsers:] {
			other.Messages += u.Messages
		}
		other.Share = float64(other.Messages) / float64(standings.Total)
		users = users[:maxUsers]
	}

	fields := make([]Field, 0, len(users)+1)
	for _, u := range users {
		fields = append(
			fields, Field{
				Name:   u.Name,
				Value:  fmt.Sprintf("%.2f%% (%d)", u.Share*100, u.Messages),
				Inline: true,
			},
		)
	}
	if other.Messages > 0 {
		fields = append(
			fields, Field{
				Name:   other.Name,
				Value:  fmt.Sprintf("%.2f%% (%d)", other.Share*100, other.Messages),
				Inline: true,
			},
		)
	}

	guild := m.GuildName
	if guild == "" {
		guild = m.GuildID
	}
	r := e.message(m, fmt.Sprintf("%d messages counted.", standings.Total))
	r.Title = capitalize(guild)
	r.Fields = fields
	return r
}

func (e *Engine) timeCommand(m Message) *Reply {
	now := e.now().UTC()
	return e.message(
		m,
		fmt.Sprintf("It is %s UTC on %s.", now.Format("15:04"), now.Format("Monday, 2 January 2006")),
	)
}

func (e *Engine) translateCommand(
	ctx context.Context,
	cmd ParsedCommand,
	m Message,
) *Reply {
	if e.translator == nil {
		return e.message(m, msgTranslateOff)
	}
	text := cmd.Rest()
	t, err := e.translator.Translate(ctx, text)
	if err != nil {
		loggerFrom(ctx, e.logger).WarnContext(ctx, "translation failed", tint.Err(err))
		return e.message(m, msgTranslateFailed)
	}

	r := e.message(m, "")
	r.Title = "Translate"
	r.Fields = []Field{
		{Name: "Original", Value: text},
		{Name: "Translated", Value: t.Text},
	}
	r.Footer = fmt.Sprintf("Translated from %s to %s", t.Source, t.Target)
	return r
}

func (e *Engine) helpCommand(m Message) *Reply {
	fields := make([]Field, 0, len(builtinCommands))
	for _, c := range builtinCommands {
		fields = append(
			fields, Field{
				Name:  e.parser.Prefix() + c.Usage,
				Value: c.Description,
			},
		)
	}
	r := e.message(m, "Send a tag's name after the prefix to show it.")
	r.Title = "Commands"
	r.Fields = fields
	return r
}
