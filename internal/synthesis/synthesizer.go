package synthesis

import (
	"context"
	"log/slog"
)

// Reply is the composed answer for a turn.
type Reply struct {
	Text     string
	Mode     Mode
	Packages []Package
}

// Synthesizer selects the reply mode and asks a Narrator for the text.
type Synthesizer struct {
	narrator Narrator
	logger   *slog.Logger
}

// New creates a Synthesizer. A nil narrator uses TemplateNarrator.
func New(n Narrator, logger *slog.Logger) *Synthesizer {
	if n == nil {
		n = TemplateNarrator{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{narrator: n, logger: logger}
}

// Compose builds the reply for in. It never fails: narrator errors are
// replaced by FallbackReply.
func (s *Synthesizer) Compose(ctx context.Context, in Input) Reply {
	mode := Select(in)
	if mode == ModeRetry {
		return Reply{Text: RetryReply, Mode: mode}
	}
	b := NewBrief(in, mode)

	text, err := s.narrator.Narrate(ctx, b)
	if err != nil || text == "" {
		s.logger.Warn("narration failed, using fallback", "mode", mode, "error", err)
		return Reply{Text: FallbackReply, Mode: mode, Packages: b.Packages}
	}
	return Reply{Text: Prune(text, b.Allowed), Mode: mode, Packages: b.Packages}
}
