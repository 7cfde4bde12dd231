package flightless

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
)

const (
	embedColour           = 0x985F35
	embedMaxDescription   = 4096
	embedMaxFields        = 25
	embedMaxFieldName     = 256
	embedMaxFieldValue    = 1024
	embedMaxFooter        = 2048
	embedMaxTotal         = 6000
	embedOverflowReserve  = 32
	embedEmptyFieldValue  = "\u200b"
	tagListChunkSize      = 15
	maxTagNameLength      = 64
	missingImageNotice    = "*This tag's image is no longer available.*"
	directMessagesContext = "direct messages"
)

// Field is a labelled value shown in a reply
type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// Reply is the structured response to a command. The Discord adapter
// renders it as an embed.
type Reply struct {
	Title     string    `json:"title,omitempty"`
	Body      string    `json:"body,omitempty"`
	Footer    string    `json:"footer,omitempty"`
	Fields    []Field   `json:"fields,omitempty"`
	ImageURL  string    `json:"image_url,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Embed renders the reply with the bot's name as the embed author
func (r *Reply) Embed(botName string) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Type:        discordgo.EmbedTypeRich,
		Title:       r.Title,
		Description: truncate(r.Body, embedMaxDescription),
		Color:       embedColour,
		Author: &discordgo.MessageEmbedAuthor{
			Name: capitalize(botName),
		},
	}
	if !r.Timestamp.IsZero() {
		embed.Timestamp = r.Timestamp.UTC().Format(time.RFC3339)
	}
	if r.ImageURL != "" {
		embed.Image = &discordgo.MessageEmbedImage{URL: r.ImageURL}
	}

	// Discord rejects embeds over embedMaxTotal characters, counted
	// across the author, title, description, footer and fields
	budget := embedMaxTotal - runeCount(embed.Author.Name, embed.Title, embed.Description)
	if r.Footer != "" && budget > 0 {
		footer := truncate(r.Footer, min(embedMaxFooter, budget))
		embed.Footer = &discordgo.MessageEmbedFooter{Text: footer}
		budget -= runeCount(footer)
	}

	for i, f := range r.Fields {
		field := &discordgo.MessageEmbedField{
			Name:   truncate(f.Name, embedMaxFieldName),
			Value:  truncate(f.Value, embedMaxFieldValue),
			Inline: f.Inline,
		}
		if strings.TrimSpace(field.Value) == "" {
			field.Value = embedEmptyFieldValue
		}
		size := runeCount(field.Name, field.Value)

		last := i == len(r.Fields)-1
		reserve := embedOverflowReserve
		if last {
			reserve = 0
		}
		full := len(embed.Fields) == embedMaxFields-1 && !last
		if full || size+reserve > budget {
			if more := overflowField(r.Fields[i:]); runeCount(more.Name, more.Value) <= budget {
				embed.Fields = append(embed.Fields, more)
			}
			break
		}
		embed.Fields = append(embed.Fields, field)
		budget -= size
	}
	return embed
}

// overflowField notes how many lines of the omitted fields weren't shown
func overflowField(omitted []Field) *discordgo.MessageEmbedField {
	n := 0
	for _, f := range omitted {
		if v := strings.TrimSpace(f.Value); v != "" {
			n += strings.Count(v, "\n") + 1
		}
	}
	return &discordgo.MessageEmbedField{
		Name:  embedEmptyFieldValue,
		Value: fmt.Sprintf("…and %d more", n),
	}
}

// runeCount is the number of characters Discord counts for ss
func runeCount(ss ...string) int {
	n := 0
	for _, s := range ss {
		n += utf8.RuneCountInString(s)
	}
	return n
}

// listFields splits lines into fields small enough for an embed. The
// label is only shown on the first field.
func listFields(label string, lines []string) []Field {
	if len(lines) == 0 {
		return []Field{{Name: label, Value: "*none*", Inline: true}}
	}
	var fields []Field
	for i, chunk := range chunkItems(tagListChunkSize, lines...) {
		name := label
		if i > 0 {
			name = embedEmptyFieldValue
		}
		fields = append(
			fields, Field{
				Name:   name,
				Value:  strings.Join(chunk, "\n"),
				Inline: true,
			},
		)
	}
	return fields
}

// pairFields lays out two equal-length columns as inline fields, chunk
// by chunk. Each chunk after the first starts a new row, so the
// columns stay lined up.
func pairFields(leftLabel, rightLabel string, left, right []string) []Field {
	if len(left) == 0 {
		return []Field{
			{Name: leftLabel, Value: "*none*", Inline: true},
			{Name: rightLabel, Value: "*none*", Inline: true},
		}
	}
	lefts := listFields(leftLabel, left)
	rights := listFields(rightLabel, right)
	fields := make([]Field, 0, len(lefts)*3)
	for i := range lefts {
		if i > 0 {
			// a third inline field fills the row
			fields = append(fields, Field{Name: embedEmptyFieldValue, Value: embedEmptyFieldValue, Inline: true})
		}
		fields = append(fields, lefts[i], rights[i])
	}
	return fields
}

// possessive returns "Flightless'" or "Bot's"
func possessive(name string) string {
	name = capitalize(name)
	if strings.HasSuffix(strings.ToLower(name), "s") {
		return name + "'"
	}
	return name + "'s"
}

func runningInFooter(botName string, guildName string) string {
	if guildName == "" {
		guildName = directMessagesContext
	}
	return fmt.Sprintf("%s running in %s", capitalize(botName), guildName)
}
