package server

import (
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/omochice/duochat/internal/chat"
	"github.com/omochice/duochat/internal/chatlog"
	"github.com/omochice/duochat/internal/console"
	"github.com/omochice/duochat/internal/transport"
	"github.com/omochice/duochat/pkg/protocol"
)

// Journal is the server side chat.Handler: it shows traffic on the console
// and appends it to the archive when one is configured.
type Journal struct {
	presenter *console.Presenter
	archive   *chatlog.Archive
	log       zerolog.Logger
}

// NewJournal creates a Journal. archive may be nil.
func NewJournal(p *console.Presenter, archive *chatlog.Archive, logger zerolog.Logger) *Journal {
	return &Journal{
		presenter: p,
		archive:   archive,
		log:       logger.With().Str("component", "journal").Logger(),
	}
}

var _ chat.Handler = (*Journal)(nil)

func (j *Journal) OnSessionOpened(addr string) {
	j.presenter.System(time.Now(), "client %s connected", addr)
}

func (j *Journal) OnPayload(p chat.Payload) {
	j.record(chatlog.Record{
		Time:      p.Time,
		Channel:   p.Channel.String(),
		Direction: chatlog.DirectionIn,
		Peer:      p.Peer,
		Data:      p.Data,
	})

	switch p.Channel {
	case protocol.ChannelText:
		j.presenter.Text(p.Time, p.Data)
	case protocol.ChannelImage:
		j.presenter.Image(p.Time, string(protocol.RoleClient)+"("+transport.Host(p.Peer)+")", p.Data)
	}
}

func (j *Journal) OnSessionClosed(addr string) {
	j.presenter.System(time.Now(), "client %s disconnected", addr)
}

func (j *Journal) OnQueueChanged(waiting []string) {
	if len(waiting) == 0 {
		j.presenter.System(time.Now(), "waiting queue is empty")
		return
	}
	j.presenter.System(time.Now(), "waiting (%d): %s", len(waiting), strings.Join(waiting, ", "))
}

// Sent records a payload this server delivered to the session.
func (j *Journal) Sent(ch protocol.Channel, data []byte) {
	now := time.Now()
	j.record(chatlog.Record{
		Time:      now,
		Channel:   ch.String(),
		Direction: chatlog.DirectionOut,
		Data:      data,
	})

	switch ch {
	case protocol.ChannelText:
		j.presenter.Outgoing(now, string(data))
	case protocol.ChannelImage:
		j.presenter.Outgoing(now, "sent "+console.Describe(data))
	}
}

func (j *Journal) record(r chatlog.Record) {
	if j.archive == nil {
		return
	}
	if err := j.archive.Append(r); err != nil {
		j.log.Warn().Err(err).Msg("archive append failed")
	}
}
