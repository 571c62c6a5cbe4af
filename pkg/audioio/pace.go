package audioio

import "time"

// pacer spaces software reads so a source delivers samples at real-time
// rate. It is not safe for concurrent use.
type pacer struct {
	due time.Time
}

// next returns how long the caller should sleep before handing back n
// samples. It returns 0 when the config is unpaced. A caller that fell more
// than a second behind is resynchronized instead of bursting to catch up.
func (p *pacer) next(cfg Config, n int) time.Duration {
	if cfg.FrameDuration <= 0 {
		return 0
	}
	now := time.Now()
	if p.due.IsZero() || now.Sub(p.due) > time.Second {
		p.due = now
	}
	p.due = p.due.Add(cfg.SamplesDuration(n))
	return p.due.Sub(now)
}
