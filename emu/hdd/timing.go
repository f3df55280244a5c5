package hdd

/*
 * PS/2 ESDI adapter emulator - Drive mechanism timing model
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 * Mechanical cost model for a fixed disk. Costs are returned in
 * microseconds and the model tracks the cylinder the heads were left on,
 * so successive operations on nearby blocks are cheaper than full
 * strokes.
 */

// Typical 3600 RPM ESDI mechanism.
const (
	trackStepTime = 40.0     // Per cylinder stepped
	settleTime    = 3000.0   // Head settle after any seek
	rotationTime  = 16667.0  // One full revolution
)

type Timing struct {
	spt      int    // Sectors per track
	heads    int    // Heads per cylinder
	cylinder uint32 // Where the heads currently sit
}

func NewTiming(spt int, heads int) *Timing {
	return &Timing{spt: spt, heads: heads}
}

func (tm *Timing) cylinderOf(rba uint32) uint32 {
	perCyl := uint32(tm.spt * tm.heads)
	if perCyl == 0 {
		return 0
	}
	return rba / perCyl
}

// Cost of moving the heads to the cylinder holding rba, leaving them there.
func (tm *Timing) SeekTime(rba uint32) float64 {
	cyl := tm.cylinderOf(rba)
	dist := cyl - tm.cylinder
	if tm.cylinder > cyl {
		dist = tm.cylinder - cyl
	}
	tm.cylinder = cyl
	if dist == 0 {
		return 0
	}
	return float64(dist)*trackStepTime + settleTime
}

// Cost of reading count sectors starting at rba: seek, half a revolution of
// latency, then rotation time per sector.
func (tm *Timing) ReadTime(rba uint32, count uint32) float64 {
	cost := tm.SeekTime(rba) + rotationTime/2
	if tm.spt > 0 {
		cost += float64(count) * rotationTime / float64(tm.spt)
	}
	return cost
}

// Writes cost the same as reads on this mechanism.
func (tm *Timing) WriteTime(rba uint32, count uint32) float64 {
	return tm.ReadTime(rba, count)
}
