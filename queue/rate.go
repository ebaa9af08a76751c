package queue

import "time"

// Infinite is the RAM-duration-target sentinel meaning "keep everything in
// RAM" (no eager demotion). It also doubles as the measured ram_duration
// result when both ingress and egress rates are currently zero.
const Infinite time.Duration = -1

// unboundedRAM is the target_ram_msg_count sentinel paired with Infinite.
const unboundedRAM = -1

// rateWindow tracks one direction's (ingress or egress) message count over
// a wallclock window, plus the previous window's count so ram_duration can
// smooth across two samples instead of resetting to zero every call.
type rateWindow struct {
	start     time.Time
	prevStart time.Time
	count     int
	prevCount int
}

// sample closes the window, returning the smoothed average messages/sec
// over the current and previous windows together, then reopens a fresh
// window starting at now. Before any previous window exists, the average
// covers the current window alone.
func (w *rateWindow) sample(now time.Time) float64 {
	from := w.prevStart
	if from.IsZero() {
		from = w.start
	}
	elapsed := now.Sub(from).Microseconds()
	if elapsed <= 0 {
		elapsed = 1
	}
	avg := float64(w.count+w.prevCount) * 1e6 / float64(elapsed)
	w.prevCount = w.count
	w.count = 0
	w.prevStart = w.start
	w.start = now
	return avg
}

// rateEstimator keeps the ingress/egress windows and the last computed
// averages, plus the previous ram_msg_count sample used to smooth the
// duration estimate.
type rateEstimator struct {
	ingress, egress rateWindow
	avgIn, avgOut   float64
	prevRAMMsgCount int
}

// newRateEstimator seeds ingress with deltaCount (the recovered, not-yet-
// read backlog) and egress with zero. This biases the very first
// ram_duration call toward a high ingress estimate; callers should treat
// that first result as advisory only.
func newRateEstimator(now time.Time, deltaCount int) *rateEstimator {
	return &rateEstimator{
		ingress: rateWindow{start: now, count: deltaCount},
		egress:  rateWindow{start: now},
	}
}

func (r *rateEstimator) recordPublish(n int) { r.ingress.count += n }
func (r *rateEstimator) recordFetch(n int)   { r.egress.count += n }

// update closes both windows and caches the resulting averages.
func (r *rateEstimator) update(now time.Time) (avgIn, avgOut float64) {
	avgIn = r.ingress.sample(now)
	avgOut = r.egress.sample(now)
	r.avgIn, r.avgOut = avgIn, avgOut
	return
}

// computeDuration derives the measured ram_duration from the previous and
// current ram_msg_count samples and the freshly measured rates.
func computeDuration(prevRAM, ram int, avgIn, avgOut float64) time.Duration {
	if avgIn == 0 && avgOut == 0 {
		return Infinite
	}
	secs := float64(prevRAM+ram) / (2 * (avgIn + avgOut))
	return time.Duration(secs * float64(time.Second))
}
