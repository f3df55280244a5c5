package dma

/*
 * PS/2 ESDI adapter emulator - DMA controller
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
 * Word-wide DMA channels as a device sees them. The memory side of each
 * channel is a bounded word queue driven by whoever owns system memory;
 * a device read with nothing queued, or a device write with no room, is
 * the "no data" result and the device must suspend and retry later.
 */

const NumChannels = 8

// Per-channel word queue capacity. One sector of slack is plenty since
// devices suspend the moment a transfer returns no data.
const queueWords = 256

type channel struct {
	words [queueWords]uint16
	head  int
	count int
}

type Controller struct {
	channels [NumChannels]channel
}

func NewController() *Controller {
	return &Controller{}
}

// Device side: pull the next word from the channel. ok is false when the
// memory side has nothing queued.
func (ctl *Controller) ReadChannel(ch int) (uint16, bool) {
	c := &ctl.channels[ch&7]
	if c.count == 0 {
		return 0, false
	}
	word := c.words[c.head]
	c.head = (c.head + 1) % queueWords
	c.count--
	return word, true
}

// Device side: push a word toward memory. ok is false when the memory side
// has not drained the channel.
func (ctl *Controller) WriteChannel(ch int, word uint16) bool {
	c := &ctl.channels[ch&7]
	if c.count >= queueWords {
		return false
	}
	c.words[(c.head+c.count)%queueWords] = word
	c.count++
	return true
}

// Memory side: queue a word for the device to read.
func (ctl *Controller) Feed(ch int, word uint16) bool {
	return ctl.WriteChannel(ch, word)
}

// Memory side: take a word the device wrote.
func (ctl *Controller) Drain(ch int) (uint16, bool) {
	return ctl.ReadChannel(ch)
}

// Number of words currently queued on the channel.
func (ctl *Controller) Count(ch int) int {
	return ctl.channels[ch&7].count
}
