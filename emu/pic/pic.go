package pic

/*
 * PS/2 ESDI adapter emulator - Interrupt controller
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
 * Sixteen edge-triggered interrupt lines. A rising edge latches into the
 * request register and stays latched until the guest acknowledges it;
 * dropping the line does not clear a latched request.
 */

const NumLines = 16

type Controller struct {
	level   uint16 // Current line levels
	request uint16 // Latched rising edges
}

func NewController() *Controller {
	return &Controller{}
}

// Drive line irq to the given level. A 0 to 1 transition latches a request.
func (ctl *Controller) SetIRQ(irq int, raise bool) {
	bit := uint16(1) << (irq & 15)
	if raise {
		if ctl.level&bit == 0 {
			ctl.request |= bit
		}
		ctl.level |= bit
	} else {
		ctl.level &^= bit
	}
}

// Lowest pending request, if any.
func (ctl *Controller) Pending() (int, bool) {
	if ctl.request == 0 {
		return 0, false
	}
	for irq := 0; irq < NumLines; irq++ {
		if ctl.request&(1<<irq) != 0 {
			return irq, true
		}
	}
	return 0, false
}

// Acknowledge a latched request.
func (ctl *Controller) Ack(irq int) {
	ctl.request &^= uint16(1) << (irq & 15)
}

// Current level of a line, for tests that must see the wire itself.
func (ctl *Controller) Level(irq int) bool {
	return ctl.level&(uint16(1)<<(irq&15)) != 0
}
