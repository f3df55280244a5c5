/*
 * PS/2 ESDI adapter emulator - Machine assembly
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
 * Builds the virtual machine the adapter lives in: bus, scheduler,
 * interrupt controller, DMA controller and the adapters named by the
 * configuration file. The POS configuration normally done by the PS/2
 * reference diskette is played back here.
 */

package machine

import (
	"fmt"
	"log/slog"

	config "github.com/rcornwell/ps2esdi/config/configparser"
	"github.com/rcornwell/ps2esdi/emu/bus"
	"github.com/rcornwell/ps2esdi/emu/dma"
	"github.com/rcornwell/ps2esdi/emu/esdi"
	"github.com/rcornwell/ps2esdi/emu/event"
	"github.com/rcornwell/ps2esdi/emu/pic"
)

const maxAdapters = 2

type Machine struct {
	Bus      *bus.Bus
	Sched    *event.Scheduler
	Intr     *pic.Controller
	DMA      *dma.Controller
	Adapters []*esdi.Adapter
}

func New() *Machine {
	return &Machine{
		Bus:   bus.NewBus(),
		Sched: event.NewScheduler(),
		Intr:  pic.NewController(),
		DMA:   dma.NewController(),
	}
}

// Assemble a machine from parsed configuration stanzas. Recognized
// models:
//
//	esdi  <n> [integrated] [slot=N] [rom=file] [dma=N]
//	drive <n> [adapter=N] file=path spt=N heads=N tracks=N
func FromConfig(stanzas []config.Stanza) (*Machine, error) {
	mach := New()

	type adapterSpec struct {
		st     config.Stanza
		drives [2]esdi.DriveConfig
	}
	var specs [maxAdapters]*adapterSpec

	for _, st := range stanzas {
		switch st.Model {
		case "esdi":
			if st.Number < 0 || st.Number >= maxAdapters {
				return nil, fmt.Errorf("line %d: adapter number %d out of range", st.Line, st.Number)
			}
			if specs[st.Number] != nil {
				return nil, fmt.Errorf("line %d: adapter %d configured twice", st.Line, st.Number)
			}
			spec := adapterSpec{st: st}
			specs[st.Number] = &spec

		case "drive":
			if st.Number < 0 || st.Number > 1 {
				return nil, fmt.Errorf("line %d: drive unit %d out of range", st.Line, st.Number)
			}
			adapterNum, err := st.Int("adapter", 0)
			if err != nil {
				return nil, err
			}
			if adapterNum < 0 || adapterNum >= maxAdapters || specs[adapterNum] == nil {
				return nil, fmt.Errorf("line %d: drive names unconfigured adapter %d", st.Line, adapterNum)
			}
			cfg := esdi.DriveConfig{File: st.String("file", "")}
			if cfg.Spt, err = st.Int("spt", 17); err != nil {
				return nil, err
			}
			if cfg.Heads, err = st.Int("heads", 4); err != nil {
				return nil, err
			}
			if cfg.Tracks, err = st.Int("tracks", 615); err != nil {
				return nil, err
			}
			specs[adapterNum].drives[st.Number] = cfg

		default:
			return nil, fmt.Errorf("line %d: unknown model %q", st.Line, st.Model)
		}
	}

	for num, spec := range specs {
		if spec == nil {
			continue
		}
		variant := esdi.VariantAdapter
		if _, ok := spec.st.Option("integrated"); ok {
			variant = esdi.VariantIntegrated
		}
		name := fmt.Sprintf("esdi%d", num)
		ioBase := uint16(esdi.IOAddrPrimary)
		if num == 1 {
			ioBase = esdi.IOAddrSecondary
		}
		adapter := esdi.NewAdapter(name, variant, ioBase, mach.Bus, mach.Sched,
			mach.Intr, mach.DMA, spec.drives[:])

		if romFile := spec.st.String("rom", ""); romFile != "" && variant == esdi.VariantAdapter {
			if err := adapter.LoadROM(romFile); err != nil {
				return nil, fmt.Errorf("line %d: rom: %w", spec.st.Line, err)
			}
		}

		slot, err := spec.st.Int("slot", 0)
		if err != nil {
			return nil, err
		}
		if slot > 0 {
			err = mach.Bus.AddCardToSlot(adapter, slot-1)
		} else {
			err = mach.Bus.AddCard(adapter)
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %v", spec.st.Line, err)
		}

		dmaChan, err := spec.st.Int("dma", 5)
		if err != nil {
			return nil, err
		}
		enableCard(adapter, dmaChan)
		mach.Adapters = append(mach.Adapters, adapter)
		slog.Info("machine: adapter configured", "name", name, "dma", adapter.DMAChannel())
	}

	return mach, nil
}

// POS bits the reference diskette would write: enable in bit 0, DMA
// select in bits 5..2, ROM window select in pos[3].
var dmaPosBits = map[int]uint8{
	5: 0x14, 6: 0x18, 7: 0x1c, 0: 0x00, 1: 0x04, 3: 0x0c, 4: 0x10,
}

func enableCard(adapter *esdi.Adapter, dmaChan int) {
	bits, ok := dmaPosBits[dmaChan]
	if !ok {
		bits = dmaPosBits[5]
	}
	adapter.PosWrite(0x102, bits|1)
}

// Advance virtual time in microseconds.
func (mach *Machine) Advance(usec int) {
	mach.Sched.Advance(usec)
}

// Shut the machine down, closing drive images.
func (mach *Machine) Close() {
	for _, adapter := range mach.Adapters {
		adapter.Close()
	}
}
