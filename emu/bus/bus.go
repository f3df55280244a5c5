package bus

/*
 * PS/2 ESDI adapter emulator - Micro Channel bus
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
 * I/O port space, card setup (POS) registers and option ROM windows.
 * Cards install and remove their own port ranges in response to POS
 * writes, the way Micro Channel system software configures adapters.
 */

import (
	"errors"

	dev "github.com/rcornwell/ps2esdi/emu/device"
)

// Handlers a card attaches to a port range. Offsets passed in are
// absolute port numbers.
type PortDevice interface {
	InB(port uint16) uint8
	OutB(port uint16, value uint8)
	InW(port uint16) uint16
	OutW(port uint16, value uint16)
}

const maxSlots = 8

type portRange struct {
	base uint16
	size uint16
	dev  PortDevice
}

type romWindow struct {
	base uint32
	data []byte
}

type Bus struct {
	ports []portRange
	roms  []romWindow
	slots [maxSlots]dev.Card
	used  int
}

func NewBus() *Bus {
	return &Bus{}
}

// Attach a card device to a range of I/O ports.
func (bus *Bus) SetHandler(base uint16, size uint16, device PortDevice) {
	bus.RemoveHandler(base, size)
	bus.ports = append(bus.ports, portRange{base: base, size: size, dev: device})
}

// Detach whatever card owns the given port range.
func (bus *Bus) RemoveHandler(base uint16, size uint16) {
	for i, pr := range bus.ports {
		if pr.base == base && pr.size == size {
			bus.ports = append(bus.ports[:i], bus.ports[i+1:]...)
			return
		}
	}
}

func (bus *Bus) find(port uint16) PortDevice {
	for _, pr := range bus.ports {
		if port >= pr.base && port < pr.base+pr.size {
			return pr.dev
		}
	}
	return nil
}

// Byte port read. Unclaimed ports float high.
func (bus *Bus) InB(port uint16) uint8 {
	if device := bus.find(port); device != nil {
		return device.InB(port)
	}
	return 0xff
}

func (bus *Bus) OutB(port uint16, value uint8) {
	if device := bus.find(port); device != nil {
		device.OutB(port, value)
	}
}

// Word port read. Unclaimed ports float high.
func (bus *Bus) InW(port uint16) uint16 {
	if device := bus.find(port); device != nil {
		return device.InW(port)
	}
	return 0xffff
}

func (bus *Bus) OutW(port uint16, value uint16) {
	if device := bus.find(port); device != nil {
		device.OutW(port, value)
	}
}

// Map an option ROM at the given physical address.
func (bus *Bus) MapROM(base uint32, data []byte) {
	bus.UnmapROM(base)
	bus.roms = append(bus.roms, romWindow{base: base, data: data})
}

// Remove the option ROM window at base, if mapped.
func (bus *Bus) UnmapROM(base uint32) {
	for i, rw := range bus.roms {
		if rw.base == base {
			bus.roms = append(bus.roms[:i], bus.roms[i+1:]...)
			return
		}
	}
}

// Read one byte of mapped ROM. Unmapped addresses float high.
func (bus *Bus) ReadMem(addr uint32) uint8 {
	for _, rw := range bus.roms {
		if addr >= rw.base && addr < rw.base+uint32(len(rw.data)) {
			return rw.data[addr-rw.base]
		}
	}
	return 0xff
}

// Install a card in the first free slot.
func (bus *Bus) AddCard(card dev.Card) error {
	for slot := 0; slot < maxSlots; slot++ {
		if bus.slots[slot] == nil {
			bus.slots[slot] = card
			bus.used++
			return nil
		}
	}
	return errors.New("no free card slots")
}

// Install a card in a fixed slot, as planar devices are.
func (bus *Bus) AddCardToSlot(card dev.Card, slot int) error {
	if slot < 0 || slot >= maxSlots {
		return errors.New("slot number out of range")
	}
	if bus.slots[slot] != nil {
		return errors.New("slot already occupied")
	}
	bus.slots[slot] = card
	bus.used++
	return nil
}

// Card in a slot, or nil.
func (bus *Bus) Card(slot int) dev.Card {
	if slot < 0 || slot >= maxSlots {
		return nil
	}
	return bus.slots[slot]
}

// Write a setup register on the card in the given slot.
func (bus *Bus) PosWrite(slot int, port int, value uint8) {
	if card := bus.Card(slot); card != nil {
		card.PosWrite(port, value)
	}
}

// Read a setup register on the card in the given slot.
func (bus *Bus) PosRead(slot int, port int) uint8 {
	if card := bus.Card(slot); card != nil {
		return card.PosRead(port)
	}
	return 0xff
}

// Feedback bit used by bus arbitration, per slot.
func (bus *Bus) Feedback(slot int) uint8 {
	if card := bus.Card(slot); card != nil {
		return card.Feedback()
	}
	return 0
}

// Channel reset to every installed card.
func (bus *Bus) ResetAll() {
	for _, card := range bus.slots {
		if card != nil {
			card.Reset()
		}
	}
}
