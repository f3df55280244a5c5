/*
 * PS/2 ESDI adapter emulator - IBM PS/2 ESDI fixed disk adapter (MCA)
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
 * The adapter is driven entirely through eight I/O ports and one
 * interrupt line. The guest posts an attention for a target, shuttles a
 * two or four word command through the command interface register, and
 * the deferred callback walks the command through its phases, moving
 * sector data through the DMA channel and finishing with a status block
 * in the status interface register plus an interrupt.
 *
 *   Offset 0  word   R: pop status word    W: push command word
 *   Offset 2  byte   R: basic status       W: basic control
 *   Offset 3  byte   R: interrupt status   W: attention
 *
 * The I/O base and interrupt line are hardwired; DMA channel, option ROM
 * window and card enable come from the POS setup registers.
 */

package esdi

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/rcornwell/ps2esdi/emu/bus"
	"github.com/rcornwell/ps2esdi/emu/dma"
	"github.com/rcornwell/ps2esdi/emu/event"
	"github.com/rcornwell/ps2esdi/emu/hdd"
	"github.com/rcornwell/ps2esdi/emu/pic"
)

// Hardwired attachment.
const (
	IOAddrPrimary   = 0x3510
	IOAddrSecondary = 0x3518
	IRQChannel      = 14
	NumPorts        = 8
)

// Base command latency in microseconds. Reset takes 50 of these; one
// sector at 10 Mbit/s takes 3125/8 = 390.625.
const (
	cmdLatency  = 500
	resetFactor = 50
)

// Basic status register.
const (
	StatusDMAEna        = 1 << 7
	StatusIRQPending    = 1 << 6
	StatusCmdInProgress = 1 << 5
	StatusBusy          = 1 << 4
	StatusOutFull       = 1 << 3
	StatusCmdInFull     = 1 << 2
	StatusTransferReq   = 1 << 1
	StatusIRQ           = 1 << 0
)

// Basic control register.
const (
	CtrlReset  = 1 << 7
	CtrlDMAEna = 1 << 1
	CtrlIRQEna = 1 << 0
)

// Interrupt status codes, low nibble; target in bits 7-5.
const (
	IRQHostAdapter        = 7 << 5
	IRQCmdCompleteSuccess = 0x1
	IRQResetComplete      = 0xa
	IRQDataTransferReady  = 0xb
	IRQCmdCompleteFailure = 0xc
)

// Attention register: target in bits 7-5, request in low nibble.
const (
	AttnDeviceSel   = 7 << 5
	AttnHostAdapter = 7 << 5
	AttnDevice0     = 0 << 5
	AttnDevice1     = 1 << 5
	AttnReqMask     = 0x0f
	AttnCmdReq      = 1
	AttnEOI         = 2
	AttnReset       = 4
)

// Command word 0: flag selecting the four word form, target, opcode.
const (
	CmdSize4     = 1 << 14
	CmdDeviceSel = 7 << 5
	CmdMask      = 0x1f
)

// Command opcodes.
const (
	CmdRead              = 0x01
	CmdWrite             = 0x02
	CmdReadVerify        = 0x03
	CmdWriteVerify       = 0x04
	CmdSeek              = 0x05
	CmdParkHeads         = 0x06
	CmdGetDevStatus      = 0x08
	CmdGetDevConfig      = 0x09
	CmdGetPosInfo        = 0x0a
	CmdWriteSectorBuffer = 0x10
	CmdReadSectorBuffer  = 0x11
	CmdStatusQuery       = 0x12
	CmdReadExtended      = 0x15
	CmdFormatUnit        = 0x16
	CmdFormatPrepare     = 0x17
)

func lenField(n int) uint16     { return uint16(n) << 8 }
func statusDevice(d int) uint16 { return uint16(d) << 5 }

const statusDeviceHostAdapter = 7 << 5

// Adapter flavors. The plug-in card carries an option ROM; the planar
// integrated controller does not.
const (
	VariantAdapter = iota
	VariantIntegrated
)

// Static per drive geometry, fixed once the image is attached.
type Drive struct {
	Spt     int
	Heads   int
	Tracks  int
	Sectors uint32 // Total addressable sectors
	Present bool

	image  *hdd.Image
	timing *hdd.Timing
}

// Drive configuration handed in by device setup.
type DriveConfig struct {
	File   string
	Spt    int
	Heads  int
	Tracks int
}

// One ESDI fixed disk adapter. All mutable state lives here; two
// adapters sharing a bus are fully independent.
type Adapter struct {
	name    string
	variant int
	bus     *bus.Bus
	sched   *event.Scheduler
	intr    *pic.Controller
	dmac    *dma.Controller

	ioBase   uint16
	dmaChan  int8
	biosBase uint32
	biosROM  []byte

	basicCtrl uint8
	status    uint8
	irqStatus uint8

	irqLatched    bool // Interrupt line wants to be high
	irqInProgress bool // Unacknowledged interrupt outstanding

	cmdReqInProgress bool
	cmdPos           int
	cmdData          [4]uint16
	cmdDev           uint8

	statusPos  int
	statusLen  int
	statusData [256]uint16

	dataPos int
	data    [256]uint16

	sectorBuf   [256][256]uint16
	sectorPos   int
	sectorCount int

	command  int
	cmdState int
	inReset  bool
	rba      uint32

	drives  [2]Drive
	posRegs [8]uint8

	fault error
}

// Internal consistency failure: the protocol engine reached a state the
// real firmware never could. The adapter freezes and the fault is left
// for the embedder to report.
type FaultError struct {
	Reason  string
	Command int
	Phase   int
	Target  uint8
	Status  uint8
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("esdi fault: %s (cmd=%02x phase=%d target=%02x status=%02x)",
		e.Reason, e.Command, e.Phase, e.Target, e.Status)
}

// Create an adapter and attach its drives. Each adapter claims its own
// I/O base (primary or secondary), so two cards can share a bus. A
// drive with an empty file name, or whose image cannot be opened, stays
// absent; commands sent to it report device not present.
func NewAdapter(name string, variant int, ioBase uint16, b *bus.Bus,
	sched *event.Scheduler, intr *pic.Controller, dmac *dma.Controller,
	drives []DriveConfig,
) *Adapter {
	adapter := &Adapter{
		name:     name,
		variant:  variant,
		ioBase:   ioBase,
		bus:      b,
		sched:    sched,
		intr:     intr,
		dmac:     dmac,
		biosBase: 0xc8000,
	}

	// Mark as unconfigured.
	adapter.irqStatus = 0xff

	for unit := 0; unit < 2 && unit < len(drives); unit++ {
		adapter.attachDrive(unit, drives[unit])
	}

	// Setup register ID bytes.
	if variant == VariantAdapter {
		adapter.posRegs[0] = 0xff
		adapter.posRegs[1] = 0xdd
	} else {
		adapter.posRegs[0] = 0x9f
		adapter.posRegs[1] = 0xdf
	}

	// Power on into a pending reset.
	adapter.inReset = true
	adapter.setCallback(cmdLatency * resetFactor)
	adapter.status = StatusBusy
	return adapter
}

func (adapter *Adapter) attachDrive(unit int, cfg DriveConfig) {
	drive := &adapter.drives[unit]
	if cfg.File == "" || cfg.Spt <= 0 || cfg.Heads <= 0 || cfg.Tracks <= 0 {
		return
	}
	sectors := uint32(cfg.Spt) * uint32(cfg.Heads) * uint32(cfg.Tracks)
	img, err := hdd.Open(cfg.File, sectors)
	if os.IsNotExist(err) {
		img, err = hdd.Create(cfg.File, sectors)
	}
	if err != nil {
		slog.Warn("esdi: drive image not loaded", "unit", unit, "error", err.Error())
		return
	}
	drive.Spt = cfg.Spt
	drive.Heads = cfg.Heads
	drive.Tracks = cfg.Tracks
	drive.Sectors = sectors
	drive.image = img
	drive.timing = hdd.NewTiming(cfg.Spt, cfg.Heads)
	drive.Present = true
}

// Load the option ROM image for the plug-in card variant.
func (adapter *Adapter) LoadROM(fileName string) error {
	data, err := os.ReadFile(fileName)
	if err != nil {
		return err
	}
	adapter.biosROM = data
	return nil
}

// Release drive images.
func (adapter *Adapter) Close() {
	for unit := range adapter.drives {
		drive := &adapter.drives[unit]
		drive.Present = false
		if drive.image != nil {
			drive.image.Close()
			drive.image = nil
		}
	}
}

// Latched internal consistency failure, or nil.
func (adapter *Adapter) Fault() error {
	return adapter.fault
}

// DMA channel selected by the setup registers.
func (adapter *Adapter) DMAChannel() int {
	return int(adapter.dmaChan)
}

// One line view of adapter state for the monitor.
func (adapter *Adapter) DebugState() string {
	return fmt.Sprintf("%s: ctrl=%02x status=%02x irqstat=%02x cmd=%02x phase=%d rba=%08x dma=%d",
		adapter.name, adapter.basicCtrl, adapter.status, adapter.irqStatus,
		adapter.command, adapter.cmdState, adapter.rba, adapter.dmaChan)
}

func (adapter *Adapter) fatalf(format string, args ...any) {
	if adapter.fault != nil {
		return
	}
	fault := &FaultError{
		Reason:  fmt.Sprintf(format, args...),
		Command: adapter.command,
		Phase:   adapter.cmdState,
		Target:  adapter.cmdDev,
		Status:  adapter.status,
	}
	adapter.fault = fault
	adapter.sched.Cancel(adapter, 0)
	slog.Error(fault.Error())
}

// Replace any pending callback for this adapter. A delay of 0 stops the
// timer without running anything.
func (adapter *Adapter) setCallback(delay float64) {
	adapter.sched.Cancel(adapter, 0)
	if delay == 0 {
		return
	}
	adapter.sched.Schedule(adapter, adapter.callback, int(delay+0.5), 0)
}

// Transfer rate cost: 390.625 us per sector at 10 Mbit/s = 1280 kB/s.
func xferTime(sectors int) float64 {
	return (3125.0 / 8.0) * float64(sectors)
}

func (adapter *Adapter) setIRQ() {
	adapter.irqLatched = true
	slog.Debug("esdi: set irq", "adapter", adapter.name, "cmd", adapter.command)
	if adapter.basicCtrl&CtrlIRQEna != 0 {
		adapter.intr.SetIRQ(IRQChannel, true)
	}
}

func (adapter *Adapter) clearIRQ() {
	adapter.irqLatched = false
	slog.Debug("esdi: clear irq", "adapter", adapter.name, "cmd", adapter.command)
	if adapter.basicCtrl&CtrlIRQEna != 0 {
		adapter.intr.SetIRQ(IRQChannel, false)
	}
}

func (adapter *Adapter) updateIRQ() {
	raise := adapter.basicCtrl&CtrlIRQEna != 0 && adapter.irqLatched
	adapter.intr.SetIRQ(IRQChannel, raise)
}

/*
 * Setup (POS) register behavior. Writing the setup registers always
 * removes the port handler and ROM window, then re-installs them when
 * the enable bit is set, with the DMA channel and ROM address decoded
 * from pos[2] and pos[3].
 */

// DMA channel by the select field in pos[2] bits 5-2. Channel 2 is the
// floppy channel and may not be selected; -1 leaves the channel alone.
var dmaSelect = [16]int8{
	0, 1, -1, 3, 4, 5, 6, 7,
	-1, -1, -1, -1, -1, -1, -1, -1,
}

// ROM window base by pos[3] bits 2-0. Codes 0 and 1 are reserved.
var romSelect = [8]uint32{
	0, 0, 0xc8000, 0xcc000, 0xd0000, 0xd4000, 0xd8000, 0xdc000,
}

func (adapter *Adapter) PosRead(port int) uint8 {
	return adapter.posRegs[port&7]
}

func (adapter *Adapter) PosWrite(port int, value uint8) {
	if port < 0x102 {
		return
	}
	adapter.posRegs[port&7] = value

	adapter.bus.RemoveHandler(adapter.ioBase, NumPorts)
	if adapter.variant == VariantAdapter {
		adapter.bus.UnmapROM(adapter.biosBase)
	}

	if ch := dmaSelect[(adapter.posRegs[2]>>2)&0xf]; ch >= 0 {
		adapter.dmaChan = ch
	}

	if adapter.variant == VariantAdapter {
		if adapter.posRegs[3]&8 == 0 {
			if base := romSelect[adapter.posRegs[3]&7]; base != 0 {
				adapter.biosBase = base
			}
		} else {
			adapter.biosBase = 0
		}
	}

	if adapter.posRegs[2]&1 != 0 {
		adapter.bus.SetHandler(adapter.ioBase, NumPorts, adapter)
		if adapter.variant == VariantAdapter && adapter.biosBase != 0 && adapter.biosROM != nil {
			adapter.bus.MapROM(adapter.biosBase, adapter.biosROM)
		}
		slog.Debug("esdi: configured", "adapter", adapter.name,
			"dma", adapter.dmaChan, "rom", adapter.biosBase)
	}
}

// Enable bit fed back to the bus arbitration layer.
func (adapter *Adapter) Feedback() uint8 {
	return adapter.posRegs[2] & 1
}

// Channel reset from the bus.
func (adapter *Adapter) Reset() {
	if !adapter.inReset {
		adapter.inReset = true
		adapter.setCallback(cmdLatency * resetFactor)
		adapter.status = StatusBusy
	}
}
