package audio

import (
	"math"
	"sync"
)

// DTMF keypad frequencies (Hz). A digit is the superposition of one row
// tone and one column tone.
var (
	dtmfRowFreqs = [4]float64{697, 770, 852, 941}
	dtmfColFreqs = [4]float64{1209, 1336, 1477, 1633}

	dtmfDigits = [4][4]byte{
		{'1', '2', '3', 'A'},
		{'4', '5', '6', 'B'},
		{'7', '8', '9', 'C'},
		{'*', '0', '#', 'D'},
	}
)

const (
	// Goertzel block length at 8 kHz. Scaled proportionally for other
	// sample rates so bin width stays near 39 Hz.
	dtmfBlockSamplesAt8k = 205

	// A tone pair must be present in this many consecutive blocks before a
	// digit is reported. Filters clicks and speech transients.
	dtmfConfirmBlocks = 2

	// Minimum fraction of total block energy the row+col pair must carry.
	dtmfEnergyRatio = 0.7

	// Minimum absolute tone magnitude, normalized per sample, below which
	// a block is treated as silence.
	dtmfMinLevel = 0.02
)

// DTMFDetector recognizes in-band DTMF tones in a PCM16LE stream using
// per-block Goertzel analysis. Detected digits are delivered through the
// OnDigit callback; a digit is reported once per key press regardless of
// how long the key is held.
type DTMFDetector struct {
	config  Config
	block   int
	coeffs  [8]float64 // 4 row + 4 col Goertzel coefficients
	onDigit func(digit byte)

	mu       sync.Mutex
	pending  []byte
	lastPair byte // candidate digit seen in the previous block, 0 = none
	runLen   int  // consecutive blocks the candidate has been present
	reported bool // candidate already delivered for this key press
}

// NewDTMFDetector creates a detector for the given audio format.
// onDigit is invoked synchronously from Write for each detected key press.
func NewDTMFDetector(config Config, onDigit func(digit byte)) *DTMFDetector {
	block := config.SampleRate * dtmfBlockSamplesAt8k / 8000
	if block < 64 {
		block = 64
	}
	d := &DTMFDetector{
		config:  config,
		block:   block,
		onDigit: onDigit,
	}
	for i, f := range dtmfRowFreqs {
		d.coeffs[i] = goertzelCoeff(f, config.SampleRate, block)
	}
	for i, f := range dtmfColFreqs {
		d.coeffs[4+i] = goertzelCoeff(f, config.SampleRate, block)
	}
	return d
}

func goertzelCoeff(freq float64, sampleRate, block int) float64 {
	k := math.Round(float64(block) * freq / float64(sampleRate))
	return 2 * math.Cos(2*math.Pi*k/float64(block))
}

// Write feeds PCM16LE audio into the detector. Partial blocks are carried
// over to the next call.
func (d *DTMFDetector) Write(pcm []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = append(d.pending, pcm...)
	blockBytes := d.block * 2
	for len(d.pending) >= blockBytes {
		d.analyzeBlock(d.pending[:blockBytes])
		d.pending = d.pending[blockBytes:]
	}
}

// Reset clears carry-over samples and in-progress key press state.
func (d *DTMFDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = d.pending[:0]
	d.lastPair = 0
	d.runLen = 0
	d.reported = false
}

// analyzeBlock runs Goertzel over one block and updates press state.
// Caller holds d.mu.
func (d *DTMFDetector) analyzeBlock(block []byte) {
	n := len(block) / 2
	samples := make([]float64, n)
	var total float64
	for i := 0; i < n; i++ {
		s := float64(int16(block[2*i])|int16(block[2*i+1])<<8) / 32768.0
		samples[i] = s
		total += s * s
	}

	var mags [8]float64
	for i, coeff := range d.coeffs {
		mags[i] = goertzelPower(samples, coeff)
	}

	row, rowMag := maxIndex(mags[:4])
	col, colMag := maxIndex(mags[4:])

	// For a sine of amplitude A at a bin frequency the squared Goertzel
	// magnitude is (A*N/2)^2 and its energy contribution is A^2*N/2, so
	// mag*2/N converts a bin back into energy units comparable to total.
	rowEnergy := rowMag * 2 / float64(n)
	colEnergy := colMag * 2 / float64(n)
	rowAmp := math.Sqrt(rowMag) * 2 / float64(n)
	colAmp := math.Sqrt(colMag) * 2 / float64(n)

	digit := byte(0)
	if rowAmp >= dtmfMinLevel && colAmp >= dtmfMinLevel &&
		total > 0 && rowEnergy+colEnergy >= dtmfEnergyRatio*total {
		digit = dtmfDigits[row][col]
	}

	if digit == 0 {
		d.lastPair = 0
		d.runLen = 0
		d.reported = false
		return
	}

	if digit != d.lastPair {
		d.lastPair = digit
		d.runLen = 1
		d.reported = false
		return
	}

	d.runLen++
	if d.runLen >= dtmfConfirmBlocks && !d.reported {
		d.reported = true
		if d.onDigit != nil {
			d.onDigit(digit)
		}
	}
}

// goertzelPower returns the squared magnitude of one frequency bin.
func goertzelPower(samples []float64, coeff float64) float64 {
	var s0, s1, s2 float64
	for _, x := range samples {
		s0 = x + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}
	return s1*s1 + s2*s2 - coeff*s1*s2
}

func maxIndex(v []float64) (int, float64) {
	best, bestVal := 0, v[0]
	for i, x := range v {
		if x > bestVal {
			best, bestVal = i, x
		}
	}
	return best, bestVal
}

// DigitCollector accumulates detected digits into a complete entry. An
// entry completes when the terminator arrives or the expected length is
// reached. Inter-digit timeouts are the caller's concern; on timeout call
// Take to consume whatever has accumulated.
type DigitCollector struct {
	mu         sync.Mutex
	digits     []byte
	expected   int  // 0 = no fixed length
	terminator byte // 0 = no terminator
}

// NewDigitCollector creates a collector. expectedLen 0 means menu-style
// single digits complete immediately; terminator 0 disables terminator
// handling.
func NewDigitCollector(expectedLen int, terminator byte) *DigitCollector {
	return &DigitCollector{expected: expectedLen, terminator: terminator}
}

// Push adds a digit. It returns the completed entry and true when the
// entry is done, otherwise ("", false).
func (c *DigitCollector) Push(digit byte) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.terminator != 0 && digit == c.terminator {
		return c.takeLocked(), true
	}
	c.digits = append(c.digits, digit)
	if c.expected <= 1 || len(c.digits) >= c.expected {
		return c.takeLocked(), true
	}
	return "", false
}

// Take consumes and returns the accumulated digits without waiting for
// completion. Used on inter-digit timeout.
func (c *DigitCollector) Take() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.takeLocked()
}

// Len returns the number of accumulated digits.
func (c *DigitCollector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.digits)
}

func (c *DigitCollector) takeLocked() string {
	out := string(c.digits)
	c.digits = c.digits[:0]
	return out
}
