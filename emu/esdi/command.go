/*
 * PS/2 ESDI adapter emulator - Deferred command executor
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
 * One callback advances the in flight command a phase at a time. Phase 0
 * decodes and validates, phase 1 runs the transfer loop against the DMA
 * channel, phase 2 delivers completion status. A transfer that runs the
 * channel dry suspends by rescheduling itself; dataPos holds the word
 * offset within the current sector so it resumes exactly where it
 * stopped. Disabling DMA in the control register parks phase 1 until the
 * guest turns it back on.
 */

package esdi

import (
	"log/slog"

	"github.com/rcornwell/ps2esdi/emu/hdd"
)

// Select the drive for a drive-only command, reporting command not
// supported when the host adapter is the target.
func (adapter *Adapter) driveOnly() *Drive {
	if adapter.cmdDev != AttnDevice0 && adapter.cmdDev != AttnDevice1 {
		adapter.cmdUnsupported()
		return nil
	}
	if adapter.cmdDev == AttnDevice0 {
		return &adapter.drives[0]
	}
	return &adapter.drives[1]
}

// Reject a command whose target is not the host adapter.
func (adapter *Adapter) adapterOnly() bool {
	if adapter.cmdDev != AttnHostAdapter {
		adapter.cmdUnsupported()
		return false
	}
	return true
}

// Load the sector at rba into the data staging buffer.
func (adapter *Adapter) loadSector(drive *Drive) error {
	var buf [hdd.SectorSize]byte
	if err := drive.image.Read(adapter.rba, 1, buf[:]); err != nil {
		return err
	}
	for i := 0; i < 256; i++ {
		adapter.data[i] = uint16(buf[2*i]) | uint16(buf[2*i+1])<<8
	}
	return nil
}

// Commit the data staging buffer to the sector at rba.
func (adapter *Adapter) storeSector(drive *Drive) error {
	var buf [hdd.SectorSize]byte
	for i := 0; i < 256; i++ {
		buf[2*i] = uint8(adapter.data[i])
		buf[2*i+1] = uint8(adapter.data[i] >> 8)
	}
	return drive.image.Write(adapter.rba, 1, buf[:])
}

// Deliver success for the current command with the standard seven word
// block.
func (adapter *Adapter) completeSuccess() {
	adapter.completeCommandStatus()
	adapter.status = StatusIRQ | StatusOutFull
	adapter.irqStatus = adapter.cmdDev | IRQCmdCompleteSuccess
	adapter.irqInProgress = true
	adapter.setIRQ()
}

// Commands that fill the status queue directly must never find an
// unacknowledged interrupt still latched.
func (adapter *Adapter) checkIdleIRQ() bool {
	if adapter.status&StatusIRQ != 0 || adapter.irqInProgress {
		adapter.fatalf("irq still in progress")
		return false
	}
	return true
}

// Timer callback: advance the reset sequencer or the in flight command.
func (adapter *Adapter) callback(int) {
	if adapter.fault != nil {
		return
	}

	// Returning from a reset takes priority over everything else.
	if adapter.inReset {
		slog.Debug("esdi: reset complete", "adapter", adapter.name)
		adapter.inReset = false
		adapter.status = StatusIRQ | StatusTransferReq | StatusOutFull
		adapter.statusLen = 1
		adapter.statusData[0] = lenField(1) | AttnHostAdapter
		adapter.irqStatus = IRQHostAdapter | IRQResetComplete
		return
	}

	slog.Debug("esdi: command phase", "adapter", adapter.name,
		"cmd", adapter.command, "phase", adapter.cmdState)

	switch adapter.command {
	case CmdRead, CmdReadExtended:
		adapter.readCmd()

	case CmdWrite, CmdWriteVerify:
		adapter.writeCmd()

	case CmdReadVerify:
		adapter.readVerifyCmd()

	case CmdSeek, CmdParkHeads:
		adapter.seekCmd()

	case CmdGetDevStatus:
		adapter.getDevStatus()

	case CmdGetDevConfig:
		adapter.getDevConfig()

	case CmdGetPosInfo:
		adapter.getPosInfo()

	case CmdWriteSectorBuffer:
		adapter.writeSectorBuffer()

	case CmdReadSectorBuffer:
		adapter.readSectorBuffer()

	case CmdStatusQuery:
		adapter.statusQuery()

	case CmdFormatUnit, CmdFormatPrepare:
		adapter.formatCmd()

	default:
		adapter.fatalf("unrecognized command")
	}
}

// Read: stage sectors from the image and push them through the DMA
// channel one word at a time. The extended form reuses the block address
// left by a previous command.
func (adapter *Adapter) readCmd() {
	drive := adapter.driveOnly()
	if drive == nil {
		return
	}
	if !drive.Present {
		adapter.deviceNotPresent()
		return
	}

	var cmdTime float64

	switch adapter.cmdState {
	case 0:
		if adapter.command == CmdRead {
			adapter.rba = (uint32(adapter.cmdData[2]) | uint32(adapter.cmdData[3])<<16) & 0x0fffffff
		}

		adapter.sectorPos = 0
		adapter.sectorCount = int(adapter.cmdData[1])

		if adapter.rba+uint32(adapter.sectorCount) > drive.Sectors {
			adapter.rbaOutOfRange()
			return
		}

		adapter.status = StatusIRQ | StatusCmdInProgress | StatusTransferReq
		adapter.irqStatus = adapter.cmdDev | IRQDataTransferReady
		adapter.irqInProgress = true
		adapter.setIRQ()

		adapter.cmdState = 1
		adapter.setCallback(cmdLatency)
		adapter.dataPos = 0

	case 1:
		if adapter.basicCtrl&CtrlDMAEna == 0 {
			adapter.setCallback(cmdLatency)
			return
		}

		for adapter.sectorPos < adapter.sectorCount {
			if adapter.dataPos == 0 {
				if adapter.rba >= drive.Sectors {
					adapter.fatalf("read past end of drive")
					return
				}
				if err := adapter.loadSector(drive); err != nil {
					adapter.defectiveBlock()
					return
				}
				cmdTime += drive.timing.ReadTime(adapter.rba, 1)
				cmdTime += xferTime(1)
			}

			for adapter.dataPos < 256 {
				if !adapter.dmac.WriteChannel(int(adapter.dmaChan), adapter.data[adapter.dataPos]) {
					adapter.setCallback(cmdLatency + cmdTime)
					return
				}
				adapter.dataPos++
			}

			adapter.dataPos = 0
			adapter.sectorPos++
			adapter.rba++
		}

		adapter.status = StatusCmdInProgress
		adapter.cmdState = 2
		adapter.setCallback(cmdLatency + cmdTime)

	case 2:
		adapter.completeSuccess()
	}
}

// Write and write with verify: pull words from the DMA channel and
// commit each completed sector to the image.
func (adapter *Adapter) writeCmd() {
	drive := adapter.driveOnly()
	if drive == nil {
		return
	}
	if !drive.Present {
		adapter.deviceNotPresent()
		return
	}

	var cmdTime float64

	switch adapter.cmdState {
	case 0:
		adapter.rba = (uint32(adapter.cmdData[2]) | uint32(adapter.cmdData[3])<<16) & 0x0fffffff

		adapter.sectorPos = 0
		adapter.sectorCount = int(adapter.cmdData[1])

		if adapter.rba+uint32(adapter.sectorCount) > drive.Sectors {
			adapter.rbaOutOfRange()
			return
		}

		adapter.status = StatusIRQ | StatusCmdInProgress | StatusTransferReq
		adapter.irqStatus = adapter.cmdDev | IRQDataTransferReady
		adapter.irqInProgress = true
		adapter.setIRQ()

		adapter.cmdState = 1
		adapter.setCallback(cmdLatency)
		adapter.dataPos = 0

	case 1:
		if adapter.basicCtrl&CtrlDMAEna == 0 {
			adapter.setCallback(cmdLatency)
			return
		}

		for adapter.sectorPos < adapter.sectorCount {
			for adapter.dataPos < 256 {
				word, ok := adapter.dmac.ReadChannel(int(adapter.dmaChan))
				if !ok {
					adapter.setCallback(cmdLatency + cmdTime)
					return
				}
				adapter.data[adapter.dataPos] = word
				adapter.dataPos++
			}

			if adapter.rba >= drive.Sectors {
				adapter.fatalf("write past end of drive")
				return
			}
			if err := adapter.storeSector(drive); err != nil {
				adapter.defectiveBlock()
				return
			}
			cmdTime += drive.timing.WriteTime(adapter.rba, 1)
			cmdTime += xferTime(1)
			adapter.rba++
			adapter.sectorPos++
			adapter.dataPos = 0
		}

		adapter.status = StatusCmdInProgress
		adapter.cmdState = 2
		adapter.setCallback(cmdLatency + cmdTime)

	case 2:
		adapter.completeSuccess()
	}
}

// Read verify touches no data, it only charges the read time.
func (adapter *Adapter) readVerifyCmd() {
	drive := adapter.driveOnly()
	if drive == nil {
		return
	}
	if !drive.Present {
		adapter.deviceNotPresent()
		return
	}

	switch adapter.cmdState {
	case 0:
		adapter.rba = (uint32(adapter.cmdData[2]) | uint32(adapter.cmdData[3])<<16) & 0x0fffffff
		adapter.sectorCount = int(adapter.cmdData[1])

		if adapter.rba+uint32(adapter.sectorCount) > drive.Sectors {
			adapter.rbaOutOfRange()
			return
		}

		cmdTime := drive.timing.ReadTime(adapter.rba, uint32(adapter.sectorCount))
		adapter.setCallback(cmdLatency + cmdTime)
		adapter.cmdState = 1

	case 1:
		adapter.completeSuccess()
	}
}

// Seek and park heads: pure head motion. Park seeks to block zero.
func (adapter *Adapter) seekCmd() {
	drive := adapter.driveOnly()
	if drive == nil {
		return
	}
	if !drive.Present {
		adapter.deviceNotPresent()
		return
	}

	switch adapter.cmdState {
	case 0:
		if adapter.command == CmdSeek {
			adapter.rba = (uint32(adapter.cmdData[2]) | uint32(adapter.cmdData[3])<<16) & 0x0fffffff
			if adapter.rba >= drive.Sectors {
				adapter.rbaOutOfRange()
				return
			}
		} else {
			adapter.rba = 0
		}
		cmdTime := drive.timing.SeekTime(adapter.rba)
		adapter.setCallback(cmdLatency + cmdTime)
		adapter.cmdState = 1

	case 1:
		adapter.completeSuccess()
	}
}

func (adapter *Adapter) getDevStatus() {
	drive := adapter.driveOnly()
	if drive == nil {
		return
	}
	if !drive.Present {
		adapter.deviceNotPresent()
		return
	}
	if !adapter.checkIdleIRQ() {
		return
	}

	adapter.statusLen = 9
	adapter.statusData[0] = CmdGetDevStatus | lenField(9) | statusDeviceHostAdapter
	adapter.statusData[1] = 0x0000 // Error bits
	adapter.statusData[2] = 0x1900 // Device status
	adapter.statusData[3] = 0      // ESDI standard status
	adapter.statusData[4] = 0      // ESDI vendor unique status
	for i := 5; i < 9; i++ {
		adapter.statusData[i] = 0
	}

	adapter.status = StatusIRQ | StatusOutFull
	adapter.irqStatus = adapter.cmdDev | IRQCmdCompleteSuccess
	adapter.irqInProgress = true
	adapter.setIRQ()
}

// Device configuration. Unlike the other drive commands this one also
// answers for the host adapter itself, describing the sector buffer; the
// PS/55 firmware probes the buffer after asking.
func (adapter *Adapter) getDevConfig() {
	if adapter.cmdDev == AttnHostAdapter {
		if !adapter.checkIdleIRQ() {
			return
		}
		adapter.statusLen = 6
		adapter.statusData[0] = CmdGetDevConfig | lenField(6) | statusDeviceHostAdapter
		adapter.statusData[1] = 0
		adapter.statusData[2] = 0
		// Chip revision 3, sector buffer size in 256 byte units.
		adapter.statusData[3] = 0x3200
		adapter.statusData[4] = 0
		adapter.statusData[5] = 0
	} else {
		drive := adapter.driveOnly()
		if drive == nil {
			return
		}
		if !drive.Present {
			adapter.deviceNotPresent()
			return
		}
		if !adapter.checkIdleIRQ() {
			return
		}

		adapter.statusLen = 6
		adapter.statusData[0] = CmdGetDevConfig | lenField(6) | statusDeviceHostAdapter
		adapter.statusData[1] = 0x10 // Zero defect
		adapter.statusData[2] = uint16(drive.Sectors & 0xffff)
		adapter.statusData[3] = uint16(drive.Sectors >> 16)
		adapter.statusData[4] = uint16(drive.Tracks)
		adapter.statusData[5] = uint16(drive.Heads) | uint16(drive.Spt)<<8
	}

	adapter.status = StatusIRQ | StatusOutFull
	adapter.irqStatus = adapter.cmdDev | IRQCmdCompleteSuccess
	adapter.irqInProgress = true
	adapter.setIRQ()
}

func (adapter *Adapter) getPosInfo() {
	if !adapter.adapterOnly() {
		return
	}
	if !adapter.checkIdleIRQ() {
		return
	}

	adapter.statusLen = 5
	adapter.statusData[0] = CmdGetPosInfo | lenField(5) | statusDeviceHostAdapter
	adapter.statusData[1] = uint16(adapter.posRegs[1]) | uint16(adapter.posRegs[0])<<8 // Card ID
	adapter.statusData[2] = uint16(adapter.posRegs[3]) | uint16(adapter.posRegs[2])<<8
	adapter.statusData[3] = 0xff
	adapter.statusData[4] = 0xff

	adapter.status = StatusIRQ | StatusOutFull
	adapter.irqStatus = IRQHostAdapter | IRQCmdCompleteSuccess
	adapter.irqInProgress = true
	adapter.setIRQ()
}

// Diagnostic: fill the adapter resident sector buffer from the DMA
// channel. The buffer holds 256 sectors; asking for more means the
// protocol engine let a bad count through.
func (adapter *Adapter) writeSectorBuffer() {
	if !adapter.adapterOnly() {
		return
	}

	switch adapter.cmdState {
	case 0:
		adapter.sectorPos = 0
		adapter.sectorCount = int(adapter.cmdData[1])
		if adapter.sectorCount > 256 {
			adapter.fatalf("sector buffer write count %04x", adapter.cmdData[1])
			return
		}

		adapter.status = StatusIRQ | StatusCmdInProgress | StatusTransferReq
		adapter.irqStatus = IRQHostAdapter | IRQDataTransferReady
		adapter.irqInProgress = true
		adapter.setIRQ()

		adapter.cmdState = 1
		adapter.setCallback(cmdLatency)
		adapter.dataPos = 0

	case 1:
		if adapter.basicCtrl&CtrlDMAEna == 0 {
			adapter.setCallback(cmdLatency)
			return
		}

		for adapter.sectorPos < adapter.sectorCount {
			for adapter.dataPos < 256 {
				word, ok := adapter.dmac.ReadChannel(int(adapter.dmaChan))
				if !ok {
					adapter.setCallback(cmdLatency)
					return
				}
				adapter.data[adapter.dataPos] = word
				adapter.dataPos++
			}

			adapter.sectorBuf[adapter.sectorPos] = adapter.data
			adapter.sectorPos++
			adapter.dataPos = 0
		}

		adapter.status = StatusCmdInProgress
		adapter.cmdState = 2
		adapter.setCallback(cmdLatency)

	case 2:
		adapter.status = StatusIRQ
		adapter.irqStatus = IRQHostAdapter | IRQCmdCompleteSuccess
		adapter.irqInProgress = true
		adapter.setIRQ()
	}
}

// Diagnostic: drain the adapter resident sector buffer to the DMA
// channel.
func (adapter *Adapter) readSectorBuffer() {
	if !adapter.adapterOnly() {
		return
	}

	switch adapter.cmdState {
	case 0:
		adapter.sectorPos = 0
		adapter.sectorCount = int(adapter.cmdData[1])
		if adapter.sectorCount > 256 {
			adapter.fatalf("sector buffer read count %04x", adapter.cmdData[1])
			return
		}

		adapter.status = StatusIRQ | StatusCmdInProgress | StatusTransferReq
		adapter.irqStatus = IRQHostAdapter | IRQDataTransferReady
		adapter.irqInProgress = true
		adapter.setIRQ()

		adapter.cmdState = 1
		adapter.setCallback(cmdLatency)
		adapter.dataPos = 0

	case 1:
		if adapter.basicCtrl&CtrlDMAEna == 0 {
			adapter.setCallback(cmdLatency)
			return
		}

		for adapter.sectorPos < adapter.sectorCount {
			if adapter.dataPos == 0 {
				adapter.data = adapter.sectorBuf[adapter.sectorPos]
				adapter.sectorPos++
			}
			for adapter.dataPos < 256 {
				if !adapter.dmac.WriteChannel(int(adapter.dmaChan), adapter.data[adapter.dataPos]) {
					adapter.setCallback(cmdLatency)
					return
				}
				adapter.dataPos++
			}

			adapter.dataPos = 0
		}

		adapter.status = StatusCmdInProgress
		adapter.cmdState = 2
		adapter.setCallback(cmdLatency)

	case 2:
		adapter.status = StatusIRQ
		adapter.irqStatus = IRQHostAdapter | IRQCmdCompleteSuccess
		adapter.irqInProgress = true
		adapter.setIRQ()
	}
}

// Undocumented adapter status query; replies with a two word block.
func (adapter *Adapter) statusQuery() {
	if !adapter.adapterOnly() {
		return
	}
	if !adapter.checkIdleIRQ() {
		return
	}

	adapter.statusLen = 2
	adapter.statusData[0] = CmdStatusQuery | lenField(5) | statusDeviceHostAdapter
	adapter.statusData[1] = 0

	adapter.status = StatusIRQ | StatusOutFull
	adapter.irqStatus = IRQHostAdapter | IRQCmdCompleteSuccess
	adapter.irqInProgress = true
	adapter.setIRQ()
}

// Format unit zeroes the whole addressable range; format prepare goes
// through the same motions without touching the image. Both address the
// last sector, so the completion block reports it.
func (adapter *Adapter) formatCmd() {
	drive := adapter.driveOnly()
	if drive == nil {
		return
	}
	if !drive.Present {
		adapter.deviceNotPresent()
		return
	}

	switch adapter.cmdState {
	case 0:
		adapter.rba = drive.Sectors - 1

		if adapter.command == CmdFormatUnit {
			adapter.sectorCount = int(adapter.cmdData[1])
		} else {
			adapter.sectorCount = 0
		}

		adapter.status = StatusIRQ | StatusCmdInProgress | StatusTransferReq
		adapter.irqStatus = adapter.cmdDev | IRQDataTransferReady
		adapter.irqInProgress = true
		adapter.setIRQ()

		adapter.cmdState = 1
		adapter.setCallback(cmdLatency)

	case 1:
		if adapter.basicCtrl&CtrlDMAEna == 0 {
			adapter.setCallback(cmdLatency)
			return
		}

		if adapter.command == CmdFormatUnit {
			if err := drive.image.Zero(0, drive.Sectors); err != nil {
				adapter.defectiveBlock()
				return
			}
		}

		adapter.status = StatusCmdInProgress
		adapter.cmdState = 2
		adapter.setCallback(cmdLatency)

	case 2:
		adapter.completeSuccess()
	}
}
