package marketmaker

// adverseDetector keeps a sliding window of fill outcomes and converts an
// excessive adverse ratio into a spread penalty in basis points.
type adverseDetector struct {
	cfg     AdverseConfig
	window  []bool
	next    int
	count   int
	adverse int
}

func newAdverseDetector(cfg AdverseConfig) *adverseDetector {
	return &adverseDetector{cfg: cfg, window: make([]bool, cfg.Window)}
}

func (d *adverseDetector) record(isAdverse bool) {
	if d.count == len(d.window) {
		if d.window[d.next] {
			d.adverse--
		}
	} else {
		d.count++
	}
	d.window[d.next] = isAdverse
	if isAdverse {
		d.adverse++
	}
	d.next = (d.next + 1) % len(d.window)
}

// ratio returns the adverse share of fills in the window.
func (d *adverseDetector) ratio() float64 {
	if d.count == 0 {
		return 0
	}
	return float64(d.adverse) / float64(d.count)
}

// penaltyBps is (ratio - threshold) * 2 * penalty_factor once MinFills are
// in the window and the ratio exceeds the threshold, else 0.
func (d *adverseDetector) penaltyBps() float64 {
	if d.count < d.cfg.MinFills {
		return 0
	}
	r := d.ratio()
	if r <= d.cfg.Threshold {
		return 0
	}
	return AdversePenalty(r, d.cfg.Threshold, d.cfg.PenaltyFactor)
}

// AdversePenalty returns the spread penalty for an adverse ratio above
// threshold.
func AdversePenalty(ratio, threshold, penaltyFactor float64) float64 {
	if ratio <= threshold {
		return 0
	}
	return (ratio - threshold) * 2 * penaltyFactor
}
