// Package flightless implements a Discord bot for user-defined tags:
// named replies, optionally with an image, that anyone can post by
// sending the bot's prefix followed by the tag's name.
//
// Messages are parsed into a command name and up to three arguments.
// The name is resolved through the alias table (one hop) and then
// either sends the matching tag or runs a built-in command:
//
//   - tags: lists every tag.
//   - tag create|edit|delete|alias|info: manages tags.
//   - aliases, alias: lists and creates aliases.
//   - top: the guild's message leaderboard.
//   - time: the current UTC time.
//   - translate: translates text via an OpenAI-compatible API.
//   - help: lists the built-ins.
//
// Only a tag's owner, or the configured administrator, may edit or
// delete it. Deleting a tag deletes every alias pointing at it.
//
// Key components of the package include:
//
//   - Engine: parses, resolves and dispatches messages, and owns the
//     in-memory tag and alias tables.
//   - Shelf: durable storage, backed by gorm (sqlite, postgres) or bolt.
//     Every mutation is saved before it becomes visible.
//   - Discord: the gateway adapter, which queues inbound messages and
//     sends replies as embeds.
//   - Supervisor: the gateway connection's lifecycle and reconnects.
//   - API: an optional admin HTTP API.
//   - Bot: wires it all together.
package flightless
