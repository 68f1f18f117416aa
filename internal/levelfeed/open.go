package levelfeed

import (
	"fmt"
	"os"
	"time"

	"github.com/banshee-data/motion.report/internal/config"
	"github.com/banshee-data/motion.report/internal/timeutil"
)

// Open builds the feed selected by the [source] config section.
func Open(cfg *config.Config, clock timeutil.Clock) (Feed, error) {
	render := &Renderer{Width: cfg.GetFrameWidth(), Height: cfg.GetFrameHeight(), FullScale: 2 * cfg.GetTriggerPoint()}
	interval := time.Second / time.Duration(cfg.GetFPS())
	opts := LineOptions{Clock: clock, Render: render}

	switch kind := cfg.GetSourceKind(); kind {
	case config.SourceStdin:
		return NewLineFeed("stdin", os.Stdin, opts), nil
	case config.SourceSerial:
		return OpenSerial(cfg.GetSourcePath(), PortOptions{BaudRate: cfg.GetBaudRate()}, nil, opts)
	case config.SourceReplay:
		f, err := os.Open(cfg.GetSourcePath())
		if err != nil {
			return nil, fmt.Errorf("failed to open replay file: %w", err)
		}
		opts.Interval = interval
		return NewLineFeed("replay "+cfg.GetSourcePath(), f, opts), nil
	case config.SourceSynthetic:
		s := NewSynthetic(cfg.GetFPS(), render)
		s.Clock = clock
		return s, nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", kind)
	}
}
