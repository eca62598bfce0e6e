// Package discordtest provides a recording discord.Messenger.
package discordtest

import (
	"context"
	"sync"

	"github.com/open-builders/knock-backend/internal/service/discord"
)

// Edit is a recorded EditOriginal call.
type Edit struct {
	Ref   discord.Ref
	Reply discord.Reply
}

// Post is a recorded PostChannel call.
type Post struct {
	ChannelID string
	Reply     discord.Reply
}

// Messenger records calls and returns the configured errors.
type Messenger struct {
	mu    sync.Mutex
	edits []Edit
	posts []Post
	gets  int

	EditErr error
	GetErr  error
	PostErr error
}

func (m *Messenger) EditOriginal(_ context.Context, ref discord.Ref, reply discord.Reply) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EditErr != nil {
		return m.EditErr
	}
	m.edits = append(m.edits, Edit{Ref: ref, Reply: reply})
	return nil
}

func (m *Messenger) GetOriginal(context.Context, discord.Ref) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	return m.GetErr
}

func (m *Messenger) PostChannel(_ context.Context, channelID string, reply discord.Reply) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PostErr != nil {
		return m.PostErr
	}
	m.posts = append(m.posts, Post{ChannelID: channelID, Reply: reply})
	return nil
}

func (m *Messenger) Edits() []Edit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Edit(nil), m.edits...)
}

// LastEdit returns the most recent edit, or a zero Edit.
func (m *Messenger) LastEdit() Edit {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.edits) == 0 {
		return Edit{}
	}
	return m.edits[len(m.edits)-1]
}

func (m *Messenger) Posts() []Post {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Post(nil), m.posts...)
}

func (m *Messenger) Gets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets
}

var _ discord.Messenger = (*Messenger)(nil)
