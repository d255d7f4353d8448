package sip

import (
	"context"
	"log/slog"

	"braces.dev/errtrace"
)

type logParty struct {
	Party
	log *slog.Logger
	lvl slog.Level
}

// NewLogParty decorates a party with logging of the sent messages.
// Retargeting a decorated party keeps the decoration.
func NewLogParty(p Party, logger *slog.Logger, lvl slog.Level) Party {
	if p == nil {
		return nil
	}
	if _, ok := p.(*logParty); ok {
		return p
	}
	return &logParty{
		Party: p,
		log:   logger.With("party", p),
		lvl:   lvl,
	}
}

func (p *logParty) Transmit(ctx context.Context, msg Message) error {
	if err := p.Party.Transmit(ctx, msg); err != nil {
		p.log.LogAttrs(ctx, p.lvl, "failed to send the message",
			slog.Any("message", msg),
			slog.Any("error", err),
		)
		return errtrace.Wrap(err)
	}
	p.log.LogAttrs(ctx, p.lvl, "sent the message", slog.Any("message", msg))
	return nil
}

func (p *logParty) Retarget(sentBy string) Party {
	rt, ok := p.Party.(Retargeter)
	if !ok {
		return p
	}
	return &logParty{
		Party: rt.Retarget(sentBy),
		log:   p.log,
		lvl:   p.lvl,
	}
}

func (p *logParty) LogValue() slog.Value {
	if lv, ok := p.Party.(slog.LogValuer); ok {
		return lv.LogValue()
	}
	return slog.StringValue(p.RemoteAddr())
}
