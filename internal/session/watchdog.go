package session

import "time"

// watch enforces the end-to-end timeout of r. The clock is paused while
// confirmed speech is still being captured.
func (c *Controller) watch(r *run) {
	log := r.log.With().Str("worker", "watchdog").Logger()
	timeout := r.session.Config.Timeout

	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	var elapsed time.Duration
	last := time.Now()
	for {
		select {
		case <-r.ctx.Done():
			return
		case now := <-ticker.C:
			if !r.session.SpeechActive() {
				elapsed += now.Sub(last)
			}
			last = now
			if elapsed < timeout {
				continue
			}
			if c.expire(r) {
				log.Warn().Err(ErrTimeout).Dur("timeout", timeout).Msg("session expired")
			}
			return
		}
	}
}

// expire cancels r if its recognition has not finished yet.
func (c *Controller) expire(r *run) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != r || r.aborted || r.finished || r.suppress {
		return false
	}
	c.terminate(r, "timeout", ErrTimeout)
	return true
}
