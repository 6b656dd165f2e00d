package vad

// Params are the block-count thresholds a Window works with. Durations are
// converted to blocks by the caller.
type Params struct {
	LeadInBlocks int // pre-speech blocks retained for the lead-in
	TailBlocks   int // silence run that must be exceeded to end the utterance
	NoiseBlocks  int // falling loud blocks tolerated inside a silence run
	SilenceLevel int // levels strictly below this count as silence
}

// Decision tells the capture worker what to do with an observed block.
type Decision[B any] struct {
	// Emit lists blocks to enqueue, oldest first. Empty while speech has not
	// begun and the block went into the lead-in ring.
	Emit []B

	// SpeechStarted is set on the block that confirmed speech.
	SpeechStarted bool

	// Evicted is set when the lead-in ring dropped its oldest block.
	Evicted bool

	// Ended is set once the silence run exceeded TailBlocks.
	Ended bool
}

// Window tracks the lead-in ring and the silence and transient-noise run
// counters for one utterance.
//
// A loud block inside a silence run only resets the run when it is clearly
// speech: the first loud block after silence is tolerated, and further loud
// blocks keep being tolerated while each is quieter than the one before,
// up to NoiseBlocks of them.
type Window[B any] struct {
	p Params

	ring   []B
	speech bool

	silence   int
	noise     int
	prevLevel int
}

func NewWindow[B any](p Params) *Window[B] {
	return &Window[B]{
		p:    p,
		ring: make([]B, 0, max(p.LeadInBlocks, 0)+1),
	}
}

func (w *Window[B]) SpeechBegun() bool { return w.speech }

// Retained reports how many lead-in blocks are waiting in the ring.
func (w *Window[B]) Retained() int { return len(w.ring) }

// SilenceRun reports the current consecutive-silence counter.
func (w *Window[B]) SilenceRun() int { return w.silence }

// Observe feeds the next captured block and its mic level.
func (w *Window[B]) Observe(block B, level int) Decision[B] {
	defer func() { w.prevLevel = level }()

	if !w.speech {
		if level == 0 {
			w.ring = append(w.ring, block)
			if len(w.ring) > w.p.LeadInBlocks {
				var zero B
				w.ring[0] = zero
				w.ring = w.ring[1:]
				return Decision[B]{Evicted: true}
			}
			return Decision[B]{}
		}

		w.speech = true
		emit := make([]B, 0, len(w.ring)+1)
		emit = append(emit, w.ring...)
		emit = append(emit, block)
		w.ring = nil
		return Decision[B]{Emit: emit, SpeechStarted: true}
	}

	if level < w.p.SilenceLevel {
		w.silence++
	} else {
		switch {
		case w.silence == 0:
			w.noise = 0
		case w.noise == 0:
			w.noise++
		case w.noise < w.p.NoiseBlocks && w.prevLevel > level:
			w.noise++
		default:
			w.silence = 0
		}
	}

	return Decision[B]{
		Emit:  []B{block},
		Ended: w.silence > w.p.TailBlocks,
	}
}
