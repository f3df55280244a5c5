/*
 * PS/2 ESDI adapter emulator - Interactive monitor
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
 * Plays the part of guest software: pokes adapter ports, feeds and
 * drains the DMA channel, advances virtual time and watches the
 * interrupt line. Numbers accept 0x prefixes.
 */

package monitor

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"github.com/rcornwell/ps2esdi/emu/machine"
)

type cmd struct {
	Name    string
	Min     int // Minimum abbreviation length
	Args    int // Required argument count
	Help    string
	Process func(mach *machine.Machine, args []uint64) (bool, error)
}

var cmdList []cmd

func init() {
	cmdList = []cmd{
		{Name: "step", Min: 2, Args: 0, Help: "step [usec] - advance virtual time",
			Process: step},
		{Name: "in", Min: 2, Args: 1, Help: "in <port> - byte port read",
			Process: inb},
		{Name: "inw", Min: 3, Args: 1, Help: "inw <port> - word port read",
			Process: inw},
		{Name: "out", Min: 3, Args: 2, Help: "out <port> <byte> - byte port write",
			Process: outb},
		{Name: "outw", Min: 4, Args: 2, Help: "outw <port> <word> - word port write",
			Process: outw},
		{Name: "pos", Min: 3, Args: 3, Help: "pos <slot> <reg> <byte> - setup register write",
			Process: posWrite},
		{Name: "feed", Min: 4, Args: 1, Help: "feed <word> - queue a word on the DMA channel",
			Process: feed},
		{Name: "drain", Min: 2, Args: 0, Help: "drain [count] - pull words off the DMA channel",
			Process: drain},
		{Name: "irq", Min: 3, Args: 0, Help: "irq - show and acknowledge pending interrupts",
			Process: irq},
		{Name: "show", Min: 2, Args: 0, Help: "show - adapter state",
			Process: show},
		{Name: "reset", Min: 5, Args: 0, Help: "reset - channel reset to all cards",
			Process: reset},
		{Name: "help", Min: 1, Args: 0, Help: "help - this text", Process: help},
		{Name: "quit", Min: 1, Args: 0, Help: "quit - leave the monitor",
			Process: func(*machine.Machine, []uint64) (bool, error) { return true, nil }},
	}
}

// Run the monitor until quit or prompt abort.
func Run(mach *machine.Machine) {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(completeCmd)

	for {
		text, err := line.Prompt("esdi> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				return
			}
			slog.Error("error reading line: " + err.Error())
			return
		}
		line.AppendHistory(text)
		quit, err := processCommand(mach, text)
		if err != nil {
			fmt.Println("Error: " + err.Error())
		}
		if quit {
			return
		}
	}
}

func completeCmd(line string) []string {
	var out []string
	for _, c := range cmdList {
		if strings.HasPrefix(c.Name, strings.ToLower(line)) {
			out = append(out, c.Name+" ")
		}
	}
	return out
}

func processCommand(mach *machine.Machine, text string) (bool, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false, nil
	}
	name := strings.ToLower(fields[0])

	for i := range cmdList {
		c := &cmdList[i]
		if len(name) < c.Min || !strings.HasPrefix(c.Name, name) {
			continue
		}
		args := make([]uint64, 0, len(fields)-1)
		for _, f := range fields[1:] {
			value, err := strconv.ParseUint(f, 0, 32)
			if err != nil {
				return false, fmt.Errorf("bad number %q", f)
			}
			args = append(args, value)
		}
		if len(args) < c.Args {
			return false, errors.New("usage: " + c.Help)
		}
		return c.Process(mach, args)
	}
	return false, fmt.Errorf("unknown command %q", name)
}

func step(mach *machine.Machine, args []uint64) (bool, error) {
	usec := 1000
	if len(args) > 0 {
		usec = int(args[0])
	}
	mach.Advance(usec)
	return false, nil
}

func inb(mach *machine.Machine, args []uint64) (bool, error) {
	fmt.Printf("%04x: %02x\n", args[0], mach.Bus.InB(uint16(args[0])))
	return false, nil
}

func inw(mach *machine.Machine, args []uint64) (bool, error) {
	fmt.Printf("%04x: %04x\n", args[0], mach.Bus.InW(uint16(args[0])))
	return false, nil
}

func outb(mach *machine.Machine, args []uint64) (bool, error) {
	mach.Bus.OutB(uint16(args[0]), uint8(args[1]))
	return false, checkFaults(mach)
}

func outw(mach *machine.Machine, args []uint64) (bool, error) {
	mach.Bus.OutW(uint16(args[0]), uint16(args[1]))
	return false, checkFaults(mach)
}

func posWrite(mach *machine.Machine, args []uint64) (bool, error) {
	mach.Bus.PosWrite(int(args[0]), 0x100+int(args[1]), uint8(args[2]))
	return false, nil
}

func feed(mach *machine.Machine, args []uint64) (bool, error) {
	if len(mach.Adapters) == 0 {
		return false, errors.New("no adapters configured")
	}
	ch := mach.Adapters[0].DMAChannel()
	if !mach.DMA.Feed(ch, uint16(args[0])) {
		return false, errors.New("dma channel full")
	}
	return false, nil
}

func drain(mach *machine.Machine, args []uint64) (bool, error) {
	if len(mach.Adapters) == 0 {
		return false, errors.New("no adapters configured")
	}
	ch := mach.Adapters[0].DMAChannel()
	count := 1
	if len(args) > 0 {
		count = int(args[0])
	}
	for i := 0; i < count; i++ {
		word, ok := mach.DMA.Drain(ch)
		if !ok {
			fmt.Println("channel empty")
			break
		}
		fmt.Printf("%04x ", word)
	}
	fmt.Println()
	return false, nil
}

func irq(mach *machine.Machine, _ []uint64) (bool, error) {
	line, ok := mach.Intr.Pending()
	if !ok {
		fmt.Println("no interrupt pending")
		return false, nil
	}
	fmt.Printf("irq %d pending\n", line)
	mach.Intr.Ack(line)
	return false, nil
}

func show(mach *machine.Machine, _ []uint64) (bool, error) {
	for _, adapter := range mach.Adapters {
		fmt.Println(adapter.DebugState())
	}
	return false, nil
}

func reset(mach *machine.Machine, _ []uint64) (bool, error) {
	mach.Bus.ResetAll()
	return false, nil
}

func help(_ *machine.Machine, _ []uint64) (bool, error) {
	for _, c := range cmdList {
		fmt.Println("  " + c.Help)
	}
	return false, nil
}

func checkFaults(mach *machine.Machine) error {
	for _, adapter := range mach.Adapters {
		if err := adapter.Fault(); err != nil {
			return err
		}
	}
	return nil
}
