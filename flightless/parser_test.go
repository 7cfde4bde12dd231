package flightless

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_Parse(t *testing.T) {
	p := NewParser(DefaultPrefix)

	tests := []struct {
		raw  string
		want ParsedCommand
	}{
		{
			raw:  "f/tags",
			want: ParsedCommand{Name: "tags"},
		},
		{
			raw:  "f/TAGS",
			want: ParsedCommand{Name: "tags"},
		},
		{
			raw: "f/tag create greet Hello there!",
			want: ParsedCommand{
				Name: "tag",
				Args: [3]string{"create", "greet", "Hello there!"},
			},
		},
		{
			raw: "f/tag create greet line one\nline two\n",
			want: ParsedCommand{
				Name: "tag",
				Args: [3]string{"create", "greet", "line one\nline two"},
			},
		},
		{
			raw: "f/tag   create \t greet",
			want: ParsedCommand{
				Name: "tag",
				Args: [3]string{"create", "greet", ""},
			},
		},
		{
			raw: "f/translate hola",
			want: ParsedCommand{
				Name: "translate",
				Args: [3]string{"hola", "", ""},
			},
		},
		{
			raw: "f/greet\nsecond line",
			want: ParsedCommand{
				Name: "greet",
				Args: [3]string{"second", "line", ""},
			},
		},
	}
	for _, tc := range tests {
		t.Run(
			tc.raw, func(t *testing.T) {
				got, err := p.Parse(tc.raw)
				require.NoError(t, err)
				assert.Equal(t, tc.want, got)
			},
		)
	}
}

func TestParser_NotACommand(t *testing.T) {
	p := NewParser(DefaultPrefix)
	for _, raw := range []string{"", "f/", "f/ tags", " f/tags", "tags", "F/tags", "hi f/tags"} {
		_, err := p.Parse(raw)
		assert.ErrorIs(t, err, ErrNotACommand, raw)
	}
}

func TestParser_QuotesPrefix(t *testing.T) {
	p := NewParser("$.")
	got, err := p.Parse("$.help")
	require.NoError(t, err)
	assert.Equal(t, "help", got.Name)
	assert.Equal(t, "$.", p.Prefix())

	_, err = p.Parse("$xhelp")
	assert.ErrorIs(t, err, ErrNotACommand)
}

func TestParsedCommand_Rest(t *testing.T) {
	tests := []struct {
		cmd   ParsedCommand
		rest  string
		count int
	}{
		{ParsedCommand{Name: "tags"}, "", 0},
		{ParsedCommand{Name: "translate", Args: [3]string{"hola", "", ""}}, "hola", 1},
		{
			ParsedCommand{Name: "translate", Args: [3]string{"hola", "mi", "buen amigo"}},
			"hola mi buen amigo",
			3,
		},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.rest, tc.cmd.Rest())
		assert.Equal(t, tc.count, tc.cmd.ArgCount())
	}
}

func TestSplitURL(t *testing.T) {
	tests := []struct {
		name string
		text string
		url  string
		rest string
	}{
		{
			name: "url only",
			text: "https://example.com/a.png",
			url:  "https://example.com/a.png",
			rest: "",
		},
		{
			name: "surrounded",
			text: "look at this https://example.com/img/cat.jpeg isn't it nice",
			url:  "https://example.com/img/cat.jpeg",
			rest: "look at this  isn't it nice",
		},
		{
			name: "upper case extension",
			text: "http://cdn.example.co.uk/pics/Bird.GIF",
			url:  "http://cdn.example.co.uk/pics/Bird.GIF",
			rest: "",
		},
		{
			name: "webp after newline",
			text: "caption\nhttps://example.org/x.webp",
			url:  "https://example.org/x.webp",
			rest: "caption\n",
		},
		{
			name: "last of two",
			text: "https://example.com/1.jpg https://example.com/2.jpg",
			url:  "https://example.com/2.jpg",
			rest: "https://example.com/1.jpg ",
		},
		{
			name: "no url",
			text: "just some text",
			url:  "",
			rest: "just some text",
		},
		{
			name: "not an image",
			text: "read https://example.com/page.html",
			url:  "",
			rest: "read https://example.com/page.html",
		},
		{
			name: "extension continues",
			text: "https://example.com/a.pngx",
			url:  "",
			rest: "https://example.com/a.pngx",
		},
		{
			name: "not http",
			text: "ftp://example.com/a.png",
			url:  "",
			rest: "ftp://example.com/a.png",
		},
		{
			name: "empty",
			text: "",
			url:  "",
			rest: "",
		},
	}
	for _, tc := range tests {
		t.Run(
			tc.name, func(t *testing.T) {
				url, rest := SplitURL(tc.text)
				assert.Equal(t, tc.url, url)
				assert.Equal(t, tc.rest, rest)
			},
		)
	}
}
