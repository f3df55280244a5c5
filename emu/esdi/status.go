/*
 * PS/2 ESDI adapter emulator - Status block generation
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
 * Guest visible failures end the command at whatever phase noticed them:
 * a nine word status block with a fixed error class / error detail pair,
 * and a command complete failure interrupt so the guest's wait loop
 * unblocks. The class/detail pairs are what IBM's firmware reports and
 * guest drivers branch on them, so they stay distinct even where the
 * preconditions overlap.
 */

package esdi

// Nine word failure block with the given error words.
func (adapter *Adapter) failCommand(word1 uint16, word2 uint16) {
	adapter.statusLen = 9
	adapter.statusData[0] = uint16(adapter.command) | lenField(9) | uint16(adapter.cmdDev)
	adapter.statusData[1] = word1
	adapter.statusData[2] = word2
	for i := 3; i < 9; i++ {
		adapter.statusData[i] = 0
	}

	adapter.status = StatusIRQ | StatusOutFull
	adapter.irqStatus = adapter.cmdDev | IRQCmdCompleteFailure
	adapter.irqInProgress = true
	adapter.setIRQ()
}

// Attention error, command not supported / interface fault.
func (adapter *Adapter) cmdUnsupported() {
	adapter.failCommand(0x0f03, 0x0002)
}

// Command failed, internal hardware error / selection error.
func (adapter *Adapter) deviceNotPresent() {
	adapter.failCommand(0x0c11, 0x000b)
}

// Command block error, invalid parameter / RBA out of range.
func (adapter *Adapter) rbaOutOfRange() {
	adapter.failCommand(0x0e01, 0x0007)
}

// Command block error, invalid parameter / defective block.
func (adapter *Adapter) defectiveBlock() {
	adapter.failCommand(0x0e01, 0x0009)
}

// Seven word success block for a completed drive command: device status,
// zero blocks left, last RBA processed, zero error recoveries.
func (adapter *Adapter) completeCommandStatus() {
	adapter.statusLen = 7
	if adapter.cmdDev == AttnDevice0 {
		adapter.statusData[0] = uint16(adapter.command) | lenField(7) | statusDevice(0)
	} else {
		adapter.statusData[0] = uint16(adapter.command) | lenField(7) | statusDevice(1)
	}
	adapter.statusData[1] = 0x0000 // Error bits
	adapter.statusData[2] = 0x1900 // Device status
	adapter.statusData[3] = 0      // Blocks left to do
	// Last RBA processed, low word then the firmware's odd high split.
	adapter.statusData[4] = uint16((adapter.rba - 1) & 0xffff)
	adapter.statusData[5] = uint16((adapter.rba - 1) >> 8)
	adapter.statusData[6] = 0 // Blocks requiring error recovery
}
