/*
 * PS/2 ESDI adapter emulator - Adapter test cases
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
 */

package esdi

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rcornwell/ps2esdi/emu/bus"
	"github.com/rcornwell/ps2esdi/emu/dma"
	"github.com/rcornwell/ps2esdi/emu/event"
	"github.com/rcornwell/ps2esdi/emu/hdd"
	"github.com/rcornwell/ps2esdi/emu/pic"
)

const (
	portCIR  = IOAddrPrimary + 0
	portCtrl = IOAddrPrimary + 2
	portAttn = IOAddrPrimary + 3

	testSpt    = 17
	testHeads  = 4
	testTracks = 4
)

type harness struct {
	t       *testing.T
	bus     *bus.Bus
	sched   *event.Scheduler
	intr    *pic.Controller
	dmac    *dma.Controller
	adapter *Adapter
	image   string
}

// Build an adapter behind the bus, play back the POS configuration and
// run the power on reset to completion.
func newHarness(t *testing.T, present bool) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		bus:   bus.NewBus(),
		sched: event.NewScheduler(),
		intr:  pic.NewController(),
		dmac:  dma.NewController(),
	}
	var drives []DriveConfig
	if present {
		h.image = filepath.Join(t.TempDir(), "disk0.img")
		drives = []DriveConfig{{File: h.image, Spt: testSpt, Heads: testHeads, Tracks: testTracks}}
	}
	h.adapter = NewAdapter("esdi0", VariantAdapter, IOAddrPrimary, h.bus, h.sched, h.intr, h.dmac, drives)
	t.Cleanup(h.adapter.Close)

	// Enable the card with DMA channel 5.
	h.adapter.PosWrite(0x102, 0x15)

	// Run the power on reset and drain its status word.
	h.sched.Advance(cmdLatency * resetFactor)
	h.bus.InW(portCIR)
	h.bus.InB(portAttn)
	h.bus.OutB(portAttn, AttnHostAdapter|AttnEOI)

	// Guest enables DMA and interrupts.
	h.bus.OutB(portCtrl, CtrlDMAEna|CtrlIRQEna)
	return h
}

func (h *harness) checkFault() {
	h.t.Helper()
	if err := h.adapter.Fault(); err != nil {
		h.t.Fatalf("unexpected adapter fault: %v", err)
	}
}

// Post a command request and shuttle the command words through the CIR.
func (h *harness) issue(target uint8, words ...uint16) {
	h.t.Helper()
	h.bus.OutB(portAttn, target|AttnCmdReq)
	for _, w := range words {
		h.bus.OutW(portCIR, w)
	}
}

// Issue the four word transfer form of a command.
func (h *harness) issueTransfer(target uint8, opcode uint16, rba uint32, count uint16) {
	h.t.Helper()
	h.issue(target,
		opcode|uint16(target)|CmdSize4,
		count,
		uint16(rba&0xffff),
		uint16(rba>>16))
}

// Acknowledge the latched interrupt: read interrupt status, send EOI.
func (h *harness) ack() uint8 {
	h.t.Helper()
	irq := h.bus.InB(portAttn)
	h.bus.OutB(portAttn, AttnHostAdapter|AttnEOI)
	return irq
}

// Pop the whole status block.
func (h *harness) drainStatus() []uint16 {
	h.t.Helper()
	var words []uint16
	for h.bus.InB(portCtrl)&StatusOutFull != 0 {
		words = append(words, h.bus.InW(portCIR))
	}
	return words
}

// Pull n words off the adapter's DMA channel.
func (h *harness) drainDMA(n int) []uint16 {
	words := make([]uint16, 0, n)
	for i := 0; i < n; i++ {
		word, ok := h.dmac.Drain(h.adapter.DMAChannel())
		if !ok {
			break
		}
		words = append(words, word)
	}
	return words
}

// Write a test pattern straight into the backing image.
func (h *harness) seedSector(rba uint32, pattern func(i int) uint16) {
	h.t.Helper()
	img, err := hdd.Open(h.image, testSpt*testHeads*testTracks)
	if err != nil {
		h.t.Fatal(err)
	}
	defer img.Close()
	var buf [hdd.SectorSize]byte
	for i := 0; i < 256; i++ {
		w := pattern(i)
		buf[2*i] = uint8(w)
		buf[2*i+1] = uint8(w >> 8)
	}
	if err := img.Write(rba, 1, buf[:]); err != nil {
		h.t.Fatal(err)
	}
}

func TestPowerOnReset(t *testing.T) {
	h := &harness{
		t:     t,
		bus:   bus.NewBus(),
		sched: event.NewScheduler(),
		intr:  pic.NewController(),
		dmac:  dma.NewController(),
	}
	h.adapter = NewAdapter("esdi0", VariantAdapter, IOAddrPrimary, h.bus, h.sched, h.intr, h.dmac, nil)
	h.adapter.PosWrite(0x102, 0x15)

	if status := h.bus.InB(portCtrl); status != StatusBusy {
		t.Errorf("status during reset got: %02x expected: %02x", status, StatusBusy)
	}

	h.sched.Advance(cmdLatency * resetFactor)

	want := uint8(StatusIRQ | StatusTransferReq | StatusOutFull)
	if status := h.bus.InB(portCtrl); status != want {
		t.Errorf("status after reset got: %02x expected: %02x", status, want)
	}
	if irq := h.bus.InB(portAttn); irq != IRQHostAdapter|IRQResetComplete {
		t.Errorf("interrupt status got: %02x expected: %02x", irq, IRQHostAdapter|IRQResetComplete)
	}
	if word := h.bus.InW(portCIR); word != lenField(1)|AttnHostAdapter {
		t.Errorf("reset status word got: %04x expected: %04x", word, lenField(1)|AttnHostAdapter)
	}
	// Exactly one word: the queue must now be drained.
	if word := h.bus.InW(portCIR); word != 0 {
		t.Errorf("status queue not empty after reset word: %04x", word)
	}
	h.checkFault()
}

// Control register reset: assert then release the reset bit and watch
// the sequencer restore the idle interrupt armed state.
func TestControlReset(t *testing.T) {
	h := newHarness(t, false)

	h.bus.OutB(portCtrl, CtrlReset)
	if status := h.bus.InB(portCtrl); status != StatusBusy {
		t.Errorf("status after reset assert got: %02x expected: %02x", status, StatusBusy)
	}

	h.bus.OutB(portCtrl, 0x00)
	h.sched.Advance(cmdLatency * resetFactor)

	want := uint8(StatusIRQ | StatusTransferReq | StatusOutFull)
	if status := h.bus.InB(portCtrl); status != want {
		t.Errorf("status after reset got: %02x expected: %02x", status, want)
	}
	if irq := h.bus.InB(portAttn); irq != IRQHostAdapter|IRQResetComplete {
		t.Errorf("interrupt status got: %02x", irq)
	}
	words := h.drainStatus()
	if len(words) != 1 {
		t.Errorf("reset status length got: %d expected: 1", len(words))
	}
	h.checkFault()
}

// Raising the reset bit mid command only cancels the pending callback.
func TestResetAssertCancelsCallback(t *testing.T) {
	h := newHarness(t, true)

	h.issueTransfer(AttnDevice0, CmdRead, 0, 1)
	if !h.sched.Pending(h.adapter, 0) {
		t.Fatal("no callback pending after command accepted")
	}
	h.bus.OutB(portCtrl, CtrlReset|CtrlDMAEna|CtrlIRQEna)
	if h.sched.Pending(h.adapter, 0) {
		t.Error("callback still pending after reset assert")
	}
	if status := h.bus.InB(portCtrl); status != StatusBusy {
		t.Errorf("status after reset assert got: %02x expected: %02x", status, StatusBusy)
	}
	h.checkFault()
}

func TestReadSector(t *testing.T) {
	h := newHarness(t, true)
	h.seedSector(0, func(i int) uint16 { return uint16(0xa500 + i) })

	h.issueTransfer(AttnDevice0, CmdRead, 0, 1)
	h.sched.Advance(cmdLatency)

	// Phase 0: data transfer ready.
	if status := h.bus.InB(portCtrl); status&StatusTransferReq == 0 {
		t.Errorf("transfer request not asserted: %02x", status)
	}
	if !h.intr.Level(IRQChannel) {
		t.Error("interrupt line not raised for data transfer ready")
	}
	if irq := h.ack(); irq != AttnDevice0|IRQDataTransferReady {
		t.Errorf("interrupt status got: %02x expected: %02x", irq, AttnDevice0|IRQDataTransferReady)
	}

	// Phase 1 stages the sector into the DMA channel.
	h.sched.Advance(cmdLatency)
	words := h.drainDMA(256)
	if len(words) != 256 {
		t.Fatalf("dma words got: %d expected: 256", len(words))
	}
	for i, w := range words {
		if w != uint16(0xa500+i) {
			t.Fatalf("dma word %d got: %04x expected: %04x", i, w, 0xa500+i)
		}
	}

	// Phase 2 after the accumulated transfer time.
	h.sched.Advance(60000)
	if irq := h.ack(); irq != AttnDevice0|IRQCmdCompleteSuccess {
		t.Errorf("completion interrupt got: %02x", irq)
	}
	status := h.drainStatus()
	if len(status) != 7 {
		t.Fatalf("completion status length got: %d expected: 7", len(status))
	}
	if status[0] != CmdRead|lenField(7)|statusDevice(0) {
		t.Errorf("completion word 0 got: %04x", status[0])
	}
	if status[4] != 0 || status[5] != 0 {
		t.Errorf("last RBA got: %04x %04x expected: 0 0", status[4], status[5])
	}
	h.checkFault()
}

func TestWriteReadRoundTrip(t *testing.T) {
	h := newHarness(t, true)

	// Write a pattern to RBA 3.
	h.issueTransfer(AttnDevice0, CmdWrite, 3, 1)
	h.sched.Advance(cmdLatency)
	h.ack()
	for i := 0; i < 256; i++ {
		if !h.dmac.Feed(h.adapter.DMAChannel(), uint16(0x1234+i)) {
			t.Fatal("dma channel full while feeding write data")
		}
	}
	h.sched.Advance(cmdLatency)
	h.sched.Advance(60000)
	if irq := h.ack(); irq != AttnDevice0|IRQCmdCompleteSuccess {
		t.Fatalf("write completion interrupt got: %02x", irq)
	}
	status := h.drainStatus()
	if len(status) != 7 {
		t.Fatalf("write status length got: %d expected: 7", len(status))
	}
	if status[4] != 3 {
		t.Errorf("write last RBA got: %04x expected: 3", status[4])
	}

	// Read it back.
	h.issueTransfer(AttnDevice0, CmdRead, 3, 1)
	h.sched.Advance(cmdLatency)
	h.ack()
	h.sched.Advance(cmdLatency)
	words := h.drainDMA(256)
	if len(words) != 256 {
		t.Fatalf("dma words got: %d expected: 256", len(words))
	}
	for i, w := range words {
		if w != uint16(0x1234+i) {
			t.Fatalf("round trip word %d got: %04x expected: %04x", i, w, 0x1234+i)
		}
	}
	h.sched.Advance(60000)
	h.ack()
	h.drainStatus()
	h.checkFault()
}

// A read that fills the DMA channel suspends and resumes at the exact
// word offset; nothing is lost or duplicated across the stall.
func TestReadSuspendResume(t *testing.T) {
	h := newHarness(t, true)
	h.seedSector(0, func(i int) uint16 { return uint16(i) })
	h.seedSector(1, func(i int) uint16 { return uint16(0x8000 | i) })

	h.issueTransfer(AttnDevice0, CmdRead, 0, 2)
	h.sched.Advance(cmdLatency)
	h.ack()

	// Phase 1: the channel holds one sector, so the transfer stalls
	// partway through sector 1.
	h.sched.Advance(cmdLatency)
	var words []uint16
	words = append(words, h.drainDMA(100)...)

	// Let the suspended transfer resume a few times with partial
	// drains before emptying the channel.
	for len(words) < 512 {
		h.sched.Advance(60000)
		got := h.drainDMA(150)
		if len(got) == 0 && len(words) < 512 {
			h.sched.Advance(60000)
			got = h.drainDMA(150)
			if len(got) == 0 {
				t.Fatalf("transfer stalled for good at %d words", len(words))
			}
		}
		words = append(words, got...)
	}
	if len(words) != 512 {
		t.Fatalf("dma words got: %d expected: 512", len(words))
	}
	for i := 0; i < 256; i++ {
		if words[i] != uint16(i) {
			t.Fatalf("sector 0 word %d got: %04x expected: %04x", i, words[i], i)
		}
		if words[256+i] != uint16(0x8000|i) {
			t.Fatalf("sector 1 word %d got: %04x expected: %04x", i, words[256+i], 0x8000|i)
		}
	}

	// Completion must report last RBA processed = 1.
	h.sched.Advance(120000)
	if irq := h.ack(); irq != AttnDevice0|IRQCmdCompleteSuccess {
		t.Fatalf("completion interrupt got: %02x", irq)
	}
	status := h.drainStatus()
	if status[4] != 1 || status[5] != 0 {
		t.Errorf("last RBA got: %04x %04x expected: 1 0", status[4], status[5])
	}
	h.checkFault()
}

// Phase 1 parks until the guest enables DMA in the control register.
func TestTransferWaitsForDMAEnable(t *testing.T) {
	h := newHarness(t, true)
	h.bus.OutB(portCtrl, CtrlIRQEna) // DMA off

	h.issueTransfer(AttnDevice0, CmdRead, 0, 1)
	h.sched.Advance(cmdLatency)
	h.ack()

	// Several polls with DMA disabled move no data.
	for i := 0; i < 5; i++ {
		h.sched.Advance(cmdLatency)
	}
	if n := len(h.drainDMA(1)); n != 0 {
		t.Fatal("data moved while DMA disabled")
	}

	h.bus.OutB(portCtrl, CtrlDMAEna|CtrlIRQEna)
	h.sched.Advance(cmdLatency)
	if n := len(h.drainDMA(256)); n != 256 {
		t.Fatalf("dma words after enable got: %d expected: 256", n)
	}
	h.checkFault()
}

func TestReadOutOfRange(t *testing.T) {
	h := newHarness(t, true)
	total := uint32(testSpt * testHeads * testTracks)

	h.issueTransfer(AttnDevice0, CmdRead, total-1, 2)
	h.sched.Advance(cmdLatency)

	if irq := h.ack(); irq != AttnDevice0|IRQCmdCompleteFailure {
		t.Errorf("interrupt status got: %02x expected: %02x", irq, AttnDevice0|IRQCmdCompleteFailure)
	}
	status := h.drainStatus()
	if len(status) != 9 {
		t.Fatalf("status length got: %d expected: 9", len(status))
	}
	if status[1] != 0x0e01 || status[2] != 0x0007 {
		t.Errorf("error words got: %04x %04x expected: 0e01 0007", status[1], status[2])
	}
	h.checkFault()
}

// The boundary case rba+count == total sectors is legal.
func TestReadLastSector(t *testing.T) {
	h := newHarness(t, true)
	total := uint32(testSpt * testHeads * testTracks)

	h.issueTransfer(AttnDevice0, CmdRead, total-1, 1)
	h.sched.Advance(cmdLatency)
	if irq := h.ack(); irq != AttnDevice0|IRQDataTransferReady {
		t.Fatalf("interrupt status got: %02x expected transfer ready", irq)
	}
	h.sched.Advance(cmdLatency)
	if n := len(h.drainDMA(256)); n != 256 {
		t.Fatalf("dma words got: %d expected: 256", n)
	}
	h.sched.Advance(120000)
	h.ack()
	status := h.drainStatus()
	if len(status) != 7 {
		t.Fatalf("status length got: %d expected: 7", len(status))
	}
	if want := uint16((total - 1) & 0xffff); status[4] != want {
		t.Errorf("last RBA got: %04x expected: %04x", status[4], want)
	}
	h.checkFault()
}

// Drive only command sent to the host adapter target.
func TestCommandUnsupportedScope(t *testing.T) {
	h := newHarness(t, true)

	h.issueTransfer(AttnHostAdapter, CmdRead, 0, 1)
	h.sched.Advance(cmdLatency)

	if irq := h.ack(); irq != AttnHostAdapter|IRQCmdCompleteFailure {
		t.Errorf("interrupt status got: %02x", irq)
	}
	status := h.drainStatus()
	if len(status) != 9 {
		t.Fatalf("status length got: %d expected: 9", len(status))
	}
	if status[1] != 0x0f03 || status[2] != 0x0002 {
		t.Errorf("error words got: %04x %04x expected: 0f03 0002", status[1], status[2])
	}
	h.checkFault()

	// The adapter must accept a fresh request afterwards.
	h.issueTransfer(AttnDevice0, CmdRead, 0, 1)
	h.sched.Advance(cmdLatency)
	if irq := h.ack(); irq != AttnDevice0|IRQDataTransferReady {
		t.Errorf("follow up command not accepted, interrupt: %02x", irq)
	}
	h.checkFault()
}

func TestDeviceNotPresent(t *testing.T) {
	h := newHarness(t, false)

	h.issueTransfer(AttnDevice0, CmdRead, 0, 1)
	h.sched.Advance(cmdLatency)

	irq := h.ack()
	if irq != AttnDevice0|IRQCmdCompleteFailure {
		t.Errorf("interrupt status got: %02x expected: %02x", irq, AttnDevice0|IRQCmdCompleteFailure)
	}
	if irq&0x0f == IRQDataTransferReady {
		t.Error("data transfer ready raised for absent drive")
	}
	status := h.drainStatus()
	if len(status) != 9 {
		t.Fatalf("status length got: %d expected: 9", len(status))
	}
	if status[1] != 0x0c11 || status[2] != 0x000b {
		t.Errorf("error words got: %04x %04x expected: 0c11 000b", status[1], status[2])
	}
	h.checkFault()
}

// A second command request while one is outstanding is an internal
// consistency failure, not a guest visible error.
func TestDoubleCommandRequestFaults(t *testing.T) {
	h := newHarness(t, true)

	h.bus.OutB(portAttn, AttnDevice0|AttnCmdReq)
	h.bus.OutB(portAttn, AttnDevice0|AttnCmdReq)

	if h.adapter.Fault() == nil {
		t.Fatal("no fault latched for overlapping command requests")
	}
}

func TestCommandTargetMismatchFaults(t *testing.T) {
	h := newHarness(t, true)

	h.bus.OutB(portAttn, AttnDevice0|AttnCmdReq)
	h.bus.OutW(portCIR, CmdRead|uint16(AttnDevice1)|CmdSize4)
	h.bus.OutW(portCIR, 1)
	h.bus.OutW(portCIR, 0)
	h.bus.OutW(portCIR, 0)

	if h.adapter.Fault() == nil {
		t.Fatal("no fault latched for command/attention target mismatch")
	}
}

func TestStatusQueueUnderrunTolerated(t *testing.T) {
	h := newHarness(t, true)

	if word := h.bus.InW(portCIR); word != 0 {
		t.Errorf("empty status queue read got: %04x expected: 0", word)
	}
	h.checkFault()
}

func TestEndOfInterrupt(t *testing.T) {
	h := newHarness(t, true)

	h.issueTransfer(AttnDevice0, CmdRead, 0, 1)
	h.sched.Advance(cmdLatency)
	if !h.intr.Level(IRQChannel) {
		t.Fatal("interrupt line not raised")
	}

	h.bus.InB(portAttn)
	h.bus.OutB(portAttn, AttnDevice0|AttnEOI)
	if h.intr.Level(IRQChannel) {
		t.Error("interrupt line still raised after EOI")
	}
	if status := h.bus.InB(portCtrl); status&StatusIRQ != 0 {
		t.Error("IRQ status bit still set after EOI")
	}
	h.checkFault()
}

func TestSeek(t *testing.T) {
	h := newHarness(t, true)

	h.issueTransfer(AttnDevice0, CmdSeek, 100, 0)
	h.sched.Advance(cmdLatency)
	h.sched.Advance(60000)

	if irq := h.ack(); irq != AttnDevice0|IRQCmdCompleteSuccess {
		t.Errorf("seek completion interrupt got: %02x", irq)
	}
	status := h.drainStatus()
	if len(status) != 7 {
		t.Fatalf("status length got: %d expected: 7", len(status))
	}
	if status[4] != 99 {
		t.Errorf("last RBA got: %04x expected: 0063", status[4])
	}
	h.checkFault()
}

func TestGetDevStatus(t *testing.T) {
	h := newHarness(t, true)

	h.issue(AttnDevice0, CmdGetDevStatus|uint16(AttnDevice0), 0)
	h.sched.Advance(cmdLatency)

	if irq := h.ack(); irq != AttnDevice0|IRQCmdCompleteSuccess {
		t.Errorf("interrupt status got: %02x", irq)
	}
	status := h.drainStatus()
	if len(status) != 9 {
		t.Fatalf("status length got: %d expected: 9", len(status))
	}
	if status[1] != 0 || status[2] != 0x1900 {
		t.Errorf("status words got: %04x %04x expected: 0000 1900", status[1], status[2])
	}
	h.checkFault()
}

func TestGetDevConfigDrive(t *testing.T) {
	h := newHarness(t, true)
	total := uint32(testSpt * testHeads * testTracks)

	h.issue(AttnDevice0, CmdGetDevConfig|uint16(AttnDevice0), 0)
	h.sched.Advance(cmdLatency)

	if irq := h.ack(); irq != AttnDevice0|IRQCmdCompleteSuccess {
		t.Errorf("interrupt status got: %02x", irq)
	}
	status := h.drainStatus()
	if len(status) != 6 {
		t.Fatalf("status length got: %d expected: 6", len(status))
	}
	if status[1] != 0x10 {
		t.Errorf("defect word got: %04x expected: 0010", status[1])
	}
	if status[2] != uint16(total&0xffff) || status[3] != uint16(total>>16) {
		t.Errorf("sector count got: %04x %04x", status[2], status[3])
	}
	if status[4] != testTracks {
		t.Errorf("tracks got: %04x expected: %04x", status[4], testTracks)
	}
	if status[5] != uint16(testHeads)|uint16(testSpt)<<8 {
		t.Errorf("geometry word got: %04x", status[5])
	}
	h.checkFault()
}

// The host adapter answers GetDevConfig itself, describing the sector
// buffer.
func TestGetDevConfigAdapter(t *testing.T) {
	h := newHarness(t, true)

	h.issue(AttnHostAdapter, CmdGetDevConfig|uint16(AttnHostAdapter), 0)
	h.sched.Advance(cmdLatency)

	if irq := h.ack(); irq != AttnHostAdapter|IRQCmdCompleteSuccess {
		t.Errorf("interrupt status got: %02x", irq)
	}
	status := h.drainStatus()
	if len(status) != 6 {
		t.Fatalf("status length got: %d expected: 6", len(status))
	}
	if status[3] != 0x3200 {
		t.Errorf("buffer descriptor got: %04x expected: 3200", status[3])
	}
	h.checkFault()
}

func TestGetPosInfo(t *testing.T) {
	h := newHarness(t, true)

	h.issue(AttnHostAdapter, CmdGetPosInfo|uint16(AttnHostAdapter), 0)
	h.sched.Advance(cmdLatency)

	if irq := h.ack(); irq != AttnHostAdapter|IRQCmdCompleteSuccess {
		t.Errorf("interrupt status got: %02x", irq)
	}
	status := h.drainStatus()
	if len(status) != 5 {
		t.Fatalf("status length got: %d expected: 5", len(status))
	}
	if status[1] != 0xffdd {
		t.Errorf("card ID got: %04x expected: ffdd", status[1])
	}
	h.checkFault()
}

// The status query declares five words in its header but delivers two.
func TestStatusQuery(t *testing.T) {
	h := newHarness(t, true)

	h.issue(AttnHostAdapter, CmdStatusQuery|uint16(AttnHostAdapter), 0)
	h.sched.Advance(cmdLatency)

	if irq := h.ack(); irq != IRQHostAdapter|IRQCmdCompleteSuccess {
		t.Errorf("interrupt status got: %02x", irq)
	}
	status := h.drainStatus()
	if len(status) != 2 {
		t.Fatalf("status length got: %d expected: 2", len(status))
	}
	if status[0] != CmdStatusQuery|lenField(5)|statusDeviceHostAdapter {
		t.Errorf("status word 0 got: %04x", status[0])
	}
	h.checkFault()
}

// The extended read form carries no block address; it continues from
// where the previous command left the drive.
func TestReadExtendedContinues(t *testing.T) {
	h := newHarness(t, true)
	h.seedSector(2, func(i int) uint16 { return uint16(0x2000 + i) })
	h.seedSector(3, func(i int) uint16 { return uint16(0x3000 + i) })

	h.issueTransfer(AttnDevice0, CmdRead, 2, 1)
	h.sched.Advance(cmdLatency)
	h.ack()
	h.sched.Advance(cmdLatency)
	if n := len(h.drainDMA(256)); n != 256 {
		t.Fatalf("first read dma words got: %d expected: 256", n)
	}
	h.sched.Advance(60000)
	h.ack()
	h.drainStatus()

	// Extended read picks up at block 3.
	h.issueTransfer(AttnDevice0, CmdReadExtended, 0, 1)
	h.sched.Advance(cmdLatency)
	h.ack()
	h.sched.Advance(cmdLatency)
	words := h.drainDMA(256)
	if len(words) != 256 {
		t.Fatalf("extended read dma words got: %d expected: 256", len(words))
	}
	for i, w := range words {
		if w != uint16(0x3000+i) {
			t.Fatalf("extended read word %d got: %04x expected: %04x", i, w, 0x3000+i)
		}
	}
	h.sched.Advance(60000)
	h.ack()
	status := h.drainStatus()
	if len(status) != 7 {
		t.Fatalf("status length got: %d expected: 7", len(status))
	}
	if status[4] != 3 {
		t.Errorf("last RBA got: %04x expected: 3", status[4])
	}
	h.checkFault()
}

// Sector buffer diagnostics: what goes in through one command comes
// back out through the other, without touching any drive.
func TestSectorBufferRoundTrip(t *testing.T) {
	h := newHarness(t, false)

	h.issueTransfer(AttnHostAdapter, CmdWriteSectorBuffer, 0, 1)
	h.sched.Advance(cmdLatency)
	h.ack()
	for i := 0; i < 256; i++ {
		if !h.dmac.Feed(h.adapter.DMAChannel(), uint16(0xbe00+i)) {
			t.Fatal("dma channel full while feeding buffer data")
		}
	}
	h.sched.Advance(cmdLatency)
	h.sched.Advance(cmdLatency)
	if irq := h.ack(); irq != IRQHostAdapter|IRQCmdCompleteSuccess {
		t.Fatalf("write buffer completion got: %02x", irq)
	}

	h.issueTransfer(AttnHostAdapter, CmdReadSectorBuffer, 0, 1)
	h.sched.Advance(cmdLatency)
	h.ack()
	h.sched.Advance(cmdLatency)
	words := h.drainDMA(256)
	if len(words) != 256 {
		t.Fatalf("dma words got: %d expected: 256", len(words))
	}
	for i, w := range words {
		if w != uint16(0xbe00+i) {
			t.Fatalf("buffer word %d got: %04x expected: %04x", i, w, 0xbe00+i)
		}
	}
	h.sched.Advance(cmdLatency)
	if irq := h.ack(); irq != IRQHostAdapter|IRQCmdCompleteSuccess {
		t.Errorf("read buffer completion got: %02x", irq)
	}
	h.checkFault()
}

func TestFormatUnitZeroesDrive(t *testing.T) {
	h := newHarness(t, true)
	h.seedSector(0, func(i int) uint16 { return 0xffff })

	h.issue(AttnDevice0, CmdFormatUnit|uint16(AttnDevice0)|CmdSize4, 0, 0, 0)
	h.sched.Advance(cmdLatency)
	h.ack()
	h.sched.Advance(cmdLatency)
	h.sched.Advance(cmdLatency)
	if irq := h.ack(); irq != AttnDevice0|IRQCmdCompleteSuccess {
		t.Fatalf("format completion got: %02x", irq)
	}
	h.drainStatus()

	// Sector 0 must read back as zeros.
	h.issueTransfer(AttnDevice0, CmdRead, 0, 1)
	h.sched.Advance(cmdLatency)
	h.ack()
	h.sched.Advance(cmdLatency)
	for i, w := range h.drainDMA(256) {
		if w != 0 {
			t.Fatalf("formatted sector word %d got: %04x expected: 0", i, w)
		}
	}
	h.checkFault()
}

// Setup register decode: DMA select field, reserved codes left alone.
func TestPosDMASelect(t *testing.T) {
	h := newHarness(t, false)

	if ch := h.adapter.DMAChannel(); ch != 5 {
		t.Fatalf("dma channel got: %d expected: 5", ch)
	}
	h.adapter.PosWrite(0x102, 7<<2|1)
	if ch := h.adapter.DMAChannel(); ch != 7 {
		t.Errorf("dma channel got: %d expected: 7", ch)
	}
	// Channel 2's select code is reserved and must not take.
	h.adapter.PosWrite(0x102, 2<<2|1)
	if ch := h.adapter.DMAChannel(); ch != 7 {
		t.Errorf("dma channel after reserved code got: %d expected: 7", ch)
	}
	h.checkFault()
}

func TestPosROMSelect(t *testing.T) {
	h := newHarness(t, false)

	romFile := filepath.Join(t.TempDir(), "esdi.rom")
	if err := os.WriteFile(romFile, []byte{0x55, 0xaa}, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := h.adapter.LoadROM(romFile); err != nil {
		t.Fatal(err)
	}

	// Window code 3 maps the ROM at cc000.
	h.adapter.PosWrite(0x103, 3)
	if v := h.bus.ReadMem(0xcc000); v != 0x55 {
		t.Errorf("rom byte got: %02x expected: 55", v)
	}

	// Bit 3 disables the window.
	h.adapter.PosWrite(0x103, 8)
	if v := h.bus.ReadMem(0xcc000); v != 0xff {
		t.Errorf("rom byte after disable got: %02x expected: ff", v)
	}
	h.checkFault()
}

// Two adapters on separate machines never interfere.
func TestAdapterIndependence(t *testing.T) {
	h1 := newHarness(t, true)
	h2 := newHarness(t, true)

	before := h2.bus.InB(portCtrl)
	h1.issueTransfer(AttnDevice0, CmdRead, 0, 1)
	h1.sched.Advance(cmdLatency)

	if after := h2.bus.InB(portCtrl); after != before {
		t.Errorf("second adapter status changed: %02x -> %02x", before, after)
	}
	if h2.intr.Level(IRQChannel) {
		t.Error("second adapter's interrupt line raised")
	}
	h1.ack()
	h1.checkFault()
	h2.checkFault()
}
