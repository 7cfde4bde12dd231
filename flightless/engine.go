package flightless

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

var (
	ErrInvalidName        = errors.New("tag name must be 1-64 characters")
	ErrTagExists          = errors.New("name is already in use")
	ErrTagNotFound        = errors.New("tag not found")
	ErrNotTagOwner        = errors.New("not the tag's owner")
	ErrEmptyBody          = errors.New("tag needs a reply or an image")
	ErrAliasConflict      = errors.New("alias is already in use")
	ErrAliasTargetMissing = errors.New("alias target doesn't exist")
	ErrPersist            = errors.New("error saving tags")
)

// Message is an inbound chat message. Only Text and AuthorID matter
// to command handling; the rest feeds replies and the leaderboard.
type Message struct {
	ID           string
	AuthorID     string
	AuthorName   string
	AuthorBot    bool
	AuthorRoles  []string
	AuthorColour int
	GuildID      string
	GuildName    string
	ChannelID    string
	Text         string
	Received     time.Time
}

// UserNamer looks up a display name for a user ID
type UserNamer interface {
	UserName(ctx context.Context, userID string) string
}

// EngineConfig holds the engine's collaborators. Nil collaborators
// disable the features that need them.
type EngineConfig struct {
	Prefix      string
	AdminUserID string
	BotName     string
	URLChecker  URLChecker
	Translator  Translator
	Leaderboard *Leaderboard
	Users       UserNamer
	Logger      *slog.Logger
	Now         func() time.Time
}

// Engine executes commands against the in-memory tag and alias tables.
// Every mutation builds a new snapshot and only replaces the current
// one after the shelf has durably saved it.
type Engine struct {
	mu     sync.RWMutex
	state  Snapshot
	shelf  Shelf
	parser *Parser

	adminID     string
	botName     string
	urls        URLChecker
	translator  Translator
	leaderboard *Leaderboard
	users       UserNamer
	logger      *slog.Logger
	now         func() time.Time
}

func NewEngine(shelf Shelf, cfg EngineConfig) *Engine {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.BotName == "" {
		cfg.BotName = DefaultBotName
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		state:       NewSnapshot(),
		shelf:       shelf,
		parser:      NewParser(cfg.Prefix),
		adminID:     cfg.AdminUserID,
		botName:     cfg.BotName,
		urls:        cfg.URLChecker,
		translator:  cfg.Translator,
		leaderboard: cfg.Leaderboard,
		users:       cfg.Users,
		logger:      cfg.Logger.With(loggerNameKey, "engine"),
		now:         cfg.Now,
	}
}

// Load replaces the in-memory state with the shelf's
func (e *Engine) Load(ctx context.Context) error {
	s, err := e.shelf.Load(ctx)
	if err != nil {
		return err
	}
	s.normalize()

	e.mu.Lock()
	e.state = s
	e.mu.Unlock()

	e.logger.InfoContext(
		ctx,
		"loaded tags",
		"tags", len(s.Tags),
		"aliases", len(s.Aliases),
	)
	return nil
}

// Save writes the current state to the shelf
func (e *Engine) Save(ctx context.Context) error {
	e.mu.RLock()
	s := e.state.clone()
	e.mu.RUnlock()
	return e.shelf.Save(ctx, s)
}

// SetBotName updates the name used in reply titles and footers, once
// the gateway reports it
func (e *Engine) SetBotName(name string) {
	if name == "" {
		return
	}
	e.mu.Lock()
	e.botName = name
	e.mu.Unlock()
}

func (e *Engine) BotName() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.botName
}

// Snapshot returns a copy of the current tags and aliases
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := NewSnapshot()
	for name, t := range e.state.Tags {
		s.Tags[name] = t.clone()
	}
	for name, target := range e.state.Aliases {
		s.Aliases[name] = target
	}
	return s
}

// Replace persists s as the complete state, as when importing an export
func (e *Engine) Replace(ctx context.Context, s Snapshot) error {
	s.normalize()
	if err := s.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.commit(ctx, s)
}

// commit saves next and makes it current. If the save fails, the
// state is reloaded from the shelf. Callers hold e.mu.
func (e *Engine) commit(ctx context.Context, next Snapshot) error {
	if err := e.shelf.Save(ctx, next); err != nil {
		logger := loggerFrom(ctx, e.logger)
		logger.ErrorContext(ctx, "error saving tags, reloading", tint.Err(err))
		s, loadErr := e.shelf.Load(ctx)
		if loadErr != nil {
			logger.ErrorContext(ctx, "error reloading tags", tint.Err(loadErr))
			return fmt.Errorf("%w: %w", ErrPersist, errors.Join(err, loadErr))
		}
		s.normalize()
		e.state = s
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	e.state = next
	return nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Resolve follows a single alias hop. Names that aren't aliases are
// returned unchanged.
func (e *Engine) Resolve(name string) string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.resolve(normalizeName(name))
}

// Exists reports whether name resolves to a tag or a built-in command
func (e *Engine) Exists(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.exists(normalizeName(name))
}

func (s Snapshot) resolve(name string) string {
	if target, ok := s.Aliases[name]; ok {
		return target
	}
	return name
}

func (s Snapshot) exists(name string) bool {
	canonical := s.resolve(name)
	if _, ok := s.Tags[canonical]; ok {
		return true
	}
	_, ok := LookupCommand(canonical)
	return ok
}

// inUse reports whether name is taken by a tag, alias or built-in,
// including aliases whose target no longer exists
func (s Snapshot) inUse(name string) bool {
	if _, ok := s.Aliases[name]; ok {
		return true
	}
	return s.exists(name)
}

func (e *Engine) canModify(t *Tag, requester string) bool {
	return t.OwnerID == requester || (e.adminID != "" && requester == e.adminID)
}

// splitBody separates an inline image URL from the rest of a tag body
func splitBody(body string) (reply *string, imageURL *string) {
	url, rest := SplitURL(body)
	return stringPointer(strings.TrimSpace(rest)), stringPointer(url)
}

// CreateTag adds a tag owned by owner. The body's last image URL
// becomes the tag's image, and the remaining text its reply.
func (e *Engine) CreateTag(
	ctx context.Context,
	owner string,
	name string,
	body string,
) (*Tag, error) {
	name = normalizeName(name)
	if name == "" || len([]rune(name)) > maxTagNameLength {
		return nil, ErrInvalidName
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.inUse(name) {
		return nil, ErrTagExists
	}
	reply, imageURL := splitBody(body)
	t := &Tag{
		Name:      name,
		OwnerID:   owner,
		Reply:     reply,
		ImageURL:  imageURL,
		CreatedAt: e.now().UnixMilli(),
	}
	if !t.hasBody() {
		return nil, ErrEmptyBody
	}

	next := e.state.clone()
	next.Tags[name] = t
	if err := e.commit(ctx, next); err != nil {
		return nil, err
	}
	loggerFrom(ctx, e.logger).InfoContext(ctx, "created tag", "tag", t)
	return t.clone(), nil
}

// EditTag replaces the reply and image of the tag name resolves to.
// Only the owner and the administrator may edit.
func (e *Engine) EditTag(
	ctx context.Context,
	name string,
	requester string,
	body string,
) (*Tag, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	canonical := e.state.resolve(normalizeName(name))
	current, ok := e.state.Tags[canonical]
	if !ok {
		return nil, ErrTagNotFound
	}
	if !e.canModify(current, requester) {
		return nil, ErrNotTagOwner
	}

	t := current.clone()
	t.Reply, t.ImageURL = splitBody(body)
	if !t.hasBody() {
		return nil, ErrEmptyBody
	}

	next := e.state.clone()
	next.Tags[canonical] = t
	if err := e.commit(ctx, next); err != nil {
		return nil, err
	}
	loggerFrom(ctx, e.logger).InfoContext(
		ctx, "edited tag", "tag", t, "requester", requester,
	)
	return t.clone(), nil
}

// DeleteTag removes the tag name resolves to, along with every alias
// pointing at it. Only the owner and the administrator may delete.
// It returns the deleted tag's canonical name.
func (e *Engine) DeleteTag(
	ctx context.Context,
	name string,
	requester string,
) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	canonical := e.state.resolve(normalizeName(name))
	current, ok := e.state.Tags[canonical]
	if !ok {
		return "", ErrTagNotFound
	}
	if !e.canModify(current, requester) {
		return "", ErrNotTagOwner
	}

	next := e.state.clone()
	delete(next.Tags, canonical)
	removed := next.removeAliasesFor(canonical)
	if err := e.commit(ctx, next); err != nil {
		return "", err
	}
	loggerFrom(ctx, e.logger).InfoContext(
		ctx,
		"deleted tag",
		"tag", current,
		"requester", requester,
		"aliases_removed", removed,
	)
	return canonical, nil
}

// GetTag returns the tag name resolves to. Built-in command names
// never match.
func (e *Engine) GetTag(name string) (*Tag, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.state.Tags[e.state.resolve(normalizeName(name))]
	if !ok {
		return nil, false
	}
	return t.clone(), true
}

// CreateAlias points alias at whatever target resolves to. The alias
// name must be unused, and the target must be a tag or built-in.
func (e *Engine) CreateAlias(
	ctx context.Context,
	target string,
	alias string,
) error {
	alias = normalizeName(alias)
	if alias == "" || len([]rune(alias)) > maxTagNameLength {
		return ErrInvalidName
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.inUse(alias) {
		return ErrAliasConflict
	}
	canonical := e.state.resolve(normalizeName(target))
	if !e.state.exists(canonical) {
		return ErrAliasTargetMissing
	}

	next := e.state.clone()
	next.Aliases[alias] = canonical
	if err := e.commit(ctx, next); err != nil {
		return err
	}
	loggerFrom(ctx, e.logger).InfoContext(
		ctx, "created alias", "alias", alias, "target", canonical,
	)
	return nil
}

// RemoveAliasesFor deletes every alias targeting canonical and returns
// how many were removed
func (e *Engine) RemoveAliasesFor(
	ctx context.Context,
	canonical string,
) (int, error) {
	canonical = normalizeName(canonical)

	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.state.clone()
	removed := next.removeAliasesFor(canonical)
	if removed == 0 {
		return 0, nil
	}
	if err := e.commit(ctx, next); err != nil {
		return 0, err
	}
	return removed, nil
}

func (s Snapshot) removeAliasesFor(canonical string) int {
	removed := 0
	for alias, target := range s.Aliases {
		if target == canonical {
			delete(s.Aliases, alias)
			removed++
		}
	}
	return removed
}

// clearImage drops the tag's image if it's still imageURL, returning
// the tag as it stands afterward
func (e *Engine) clearImage(
	ctx context.Context,
	name string,
	imageURL string,
) (*Tag, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	current, ok := e.state.Tags[name]
	if !ok {
		return nil, ErrTagNotFound
	}
	if stringPointerValue(current.ImageURL) != imageURL {
		return current.clone(), nil
	}
	t := current.clone()
	t.ImageURL = nil

	next := e.state.clone()
	next.Tags[name] = t
	if err := e.commit(ctx, next); err != nil {
		return current.clone(), err
	}
	return t.clone(), nil
}

// Handle runs a single message through parse, resolve and dispatch.
// It returns nil when there's nothing to send: the message isn't a
// command, or names neither a tag nor a built-in.
func (e *Engine) Handle(ctx context.Context, m Message) *Reply {
	if m.AuthorBot {
		return nil
	}
	if e.leaderboard != nil {
		e.leaderboard.Observe(m)
	}

	cmd, err := e.parser.Parse(m.Text)
	if err != nil {
		return nil
	}

	logger := loggerFrom(ctx, e.logger).With(
		"command", cmd.Name,
		slog.Group("message", messageLogAttrs(m)...),
	)
	ctx = WithLogger(ctx, logger)

	e.mu.RLock()
	canonical := e.state.resolve(cmd.Name)
	t, isTag := e.state.Tags[canonical]
	if isTag {
		t = t.clone()
	}
	e.mu.RUnlock()

	if isTag {
		logger.DebugContext(ctx, "sending tag", "tag", canonical)
		return e.tagReply(ctx, m, t)
	}

	kind, ok := LookupCommand(canonical)
	if !ok {
		logger.DebugContext(ctx, "ignoring unknown command")
		return nil
	}
	logger.InfoContext(ctx, "running command", "kind", kind)
	return e.dispatch(ctx, kind, cmd, m)
}

// tagReply renders t, first checking that its image still resolves.
// A dead image is removed from the tag and the change persisted.
func (e *Engine) tagReply(ctx context.Context, m Message, t *Tag) *Reply {
	logger := loggerFrom(ctx, e.logger)

	if t.ImageURL != nil && e.urls != nil {
		imageURL := *t.ImageURL
		alive, err := e.urls.Alive(ctx, imageURL)
		switch {
		case err != nil:
			logger.WarnContext(
				ctx,
				"unable to check tag image, keeping it",
				"tag", t.Name,
				tint.Err(err),
			)
		case !alive:
			logger.InfoContext(
				ctx,
				"tag image no longer resolves, removing it",
				"tag", t.Name,
				"image_url", imageURL,
			)
			updated, clearErr := e.clearImage(ctx, t.Name, imageURL)
			if clearErr != nil {
				logger.ErrorContext(ctx, "error removing tag image", tint.Err(clearErr))
			}
			if updated != nil {
				t = updated
			}
			if t.ImageURL != nil && *t.ImageURL == imageURL {
				t.ImageURL = nil
			}
		}
	}

	owner := t.OwnerID
	if e.users != nil {
		if name := e.users.UserName(ctx, t.OwnerID); name != "" {
			owner = name
		}
	}

	r := &Reply{
		Body:      stringPointerValue(t.Reply),
		ImageURL:  stringPointerValue(t.ImageURL),
		Footer:    fmt.Sprintf("%s's tag", owner),
		Timestamp: e.now().UTC(),
	}
	if r.Body == "" && r.ImageURL == "" {
		r.Body = missingImageNotice
	}
	return r
}

// message builds a plain text reply with the default footer
func (e *Engine) message(m Message, body string) *Reply {
	return &Reply{
		Body:      body,
		Footer:    runningInFooter(e.BotName(), m.GuildName),
		Timestamp: e.now().UTC(),
	}
}
