package output

import "time"

// MinDelay is the shortest re-trigger delay Delay hands out.
const MinDelay = time.Second

// Delay picks the re-trigger delay of one evaluation as the minimum of the candidates
// offered. Later offers may shorten it but never lengthen it.
type Delay struct {
	d      time.Duration
	reason string
	set    bool
}

// Offer proposes a delay. Values below MinDelay are raised to it.
func (dl *Delay) Offer(d time.Duration, reason string) {
	if d < MinDelay {
		d = MinDelay
	}
	if dl.set && d >= dl.d {
		return
	}
	dl.d = d
	dl.reason = reason
	dl.set = true
}

// Get returns the chosen delay and the reason that contributed it.
func (dl *Delay) Get() (time.Duration, string, bool) {
	return dl.d, dl.reason, dl.set
}
