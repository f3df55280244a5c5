/*
 * PS/2 ESDI adapter emulator - Host register interface
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
 * Register reads and writes are synchronous and never perform deferred
 * work themselves; they mutate adapter state and schedule or cancel the
 * callback.
 */

package esdi

import "log/slog"

// Byte port read.
func (adapter *Adapter) InB(port uint16) uint8 {
	var ret uint8

	if adapter.fault != nil {
		return 0
	}

	switch port & 7 {
	case 2: // Basic status register
		ret = adapter.status

	case 3: // Interrupt status register, read clears the IRQ bit
		adapter.status &^= StatusIRQ
		ret = adapter.irqStatus

	default:
		slog.Debug("esdi: stray byte read", "adapter", adapter.name, "port", port)
	}
	return ret
}

// Byte port write.
func (adapter *Adapter) OutB(port uint16, value uint8) {
	if adapter.fault != nil {
		return
	}

	switch port & 7 {
	case 2:
		adapter.writeControl(value)

	case 3:
		adapter.writeAttention(value)

	default:
		adapter.fatalf("byte write to unhandled port %04x value %02x", port, value)
	}
}

// Basic control register. A falling edge of the reset bit starts the
// reset sequencer; a rising edge only cancels the pending callback and
// holds busy until the next event.
func (adapter *Adapter) writeControl(value uint8) {
	if adapter.basicCtrl&CtrlReset != 0 && value&CtrlReset == 0 {
		adapter.inReset = true
		adapter.setCallback(cmdLatency * resetFactor)
		adapter.status = StatusBusy
	} else if adapter.basicCtrl&CtrlReset == 0 && value&CtrlReset != 0 {
		adapter.setCallback(0)
		adapter.status = StatusBusy
	}
	old := adapter.basicCtrl
	adapter.basicCtrl = value
	// Interrupts just enabled: reflect any latched state onto the line.
	if value&CtrlIRQEna != 0 && old&CtrlIRQEna == 0 {
		adapter.updateIRQ()
	}
}

// Attention register: target select plus request code.
func (adapter *Adapter) writeAttention(value uint8) {
	switch value & AttnDeviceSel {
	case AttnHostAdapter:
		switch value & AttnReqMask {
		case AttnCmdReq:
			adapter.commandRequest(AttnHostAdapter)

		case AttnEOI:
			adapter.endOfInterrupt()

		case AttnReset:
			adapter.inReset = true
			adapter.setCallback(cmdLatency * resetFactor)
			adapter.status = StatusBusy

		default:
			adapter.fatalf("bad attention request %02x", value)
		}

	case AttnDevice0, AttnDevice1:
		switch value & AttnReqMask {
		case AttnCmdReq:
			adapter.commandRequest(value & AttnDeviceSel)

		case AttnEOI:
			adapter.endOfInterrupt()

		default:
			adapter.fatalf("bad attention request %02x", value)
		}

	default:
		adapter.fatalf("attention to unknown device %02x", value)
	}
}

// Accept a command request for the given target. A second request while
// one is outstanding is a protocol violation the real firmware never
// produces.
func (adapter *Adapter) commandRequest(target uint8) {
	if adapter.cmdReqInProgress {
		adapter.fatalf("command request while request in progress for %02x", target)
		return
	}
	adapter.cmdReqInProgress = true
	adapter.cmdDev = target
	adapter.status |= StatusBusy
	adapter.cmdPos = 0
	adapter.statusPos = 0
}

func (adapter *Adapter) endOfInterrupt() {
	slog.Debug("esdi: eoi", "adapter", adapter.name)
	adapter.irqInProgress = false
	adapter.status &^= StatusIRQ
	adapter.clearIRQ()
}

// Word port read: pop the next status word. Reading a drained queue
// returns 0; the guest is confused but tolerated.
func (adapter *Adapter) InW(port uint16) uint16 {
	if adapter.fault != nil {
		return 0
	}

	switch port & 7 {
	case 0: // Status interface register
		if adapter.statusPos >= adapter.statusLen {
			slog.Debug("esdi: status queue underrun", "adapter", adapter.name)
			return 0
		}
		ret := adapter.statusData[adapter.statusPos]
		adapter.statusPos++
		if adapter.statusPos >= adapter.statusLen {
			adapter.status &^= StatusOutFull
			adapter.statusPos = 0
			adapter.statusLen = 0
		}
		return ret

	default:
		adapter.fatalf("word read from unhandled port %04x", port)
		return 0
	}
}

// Word port write: push the next command word. The queue is consumed
// when it reaches two words, or four when word 0 carries the long form
// flag.
func (adapter *Adapter) OutW(port uint16, value uint16) {
	if adapter.fault != nil {
		return
	}

	switch port & 7 {
	case 0: // Command interface register
		if adapter.cmdPos >= 4 {
			adapter.fatalf("command queue overrun")
			return
		}
		adapter.cmdData[adapter.cmdPos] = value
		adapter.cmdPos++

		long := adapter.cmdData[0]&CmdSize4 != 0
		if (long && adapter.cmdPos == 4) || (!long && adapter.cmdPos == 2) {
			adapter.cmdPos = 0
			adapter.cmdReqInProgress = false
			adapter.cmdState = 0

			if uint8(adapter.cmdData[0]&CmdDeviceSel) != adapter.cmdDev {
				adapter.fatalf("command device %02x does not match attention %02x",
					adapter.cmdData[0]&CmdDeviceSel, adapter.cmdDev)
				return
			}
			adapter.command = int(adapter.cmdData[0] & CmdMask)
			adapter.setCallback(cmdLatency)
			adapter.status = StatusBusy
			adapter.dataPos = 0
			slog.Debug("esdi: command accepted", "adapter", adapter.name,
				"cmd", adapter.command, "target", adapter.cmdDev)
		}

	default:
		adapter.fatalf("word write to unhandled port %04x value %04x", port, value)
	}
}
