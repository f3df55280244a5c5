package hdd

/*
 * PS/2 ESDI adapter emulator - Fixed disk image files
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

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Bytes per sector. ESDI drives are hard sectored at 512 bytes.
const SectorSize = 512

var ErrOutOfRange = errors.New("sector address out of range")

// A flat file of 512 byte sectors. The geometry is fixed at attach time;
// sectors past the current end of file read back as zeros and are
// allocated on first write.
type Image struct {
	file    *os.File
	sectors uint32 // Total addressable sectors
}

// Create a new image file holding the given number of sectors.
func Create(fileName string, sectors uint32) (*Image, error) {
	file, err := os.Create(fileName)
	if err != nil {
		return nil, err
	}
	if err := file.Truncate(int64(sectors) * SectorSize); err != nil {
		file.Close()
		return nil, err
	}
	return &Image{file: file, sectors: sectors}, nil
}

// Open an existing image file for a drive of the given geometry.
func Open(fileName string, sectors uint32) (*Image, error) {
	file, err := os.OpenFile(fileName, os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	return &Image{file: file, sectors: sectors}, nil
}

// Total addressable sectors.
func (img *Image) Sectors() uint32 {
	return img.sectors
}

// Read count sectors starting at rba into buf.
func (img *Image) Read(rba uint32, count uint32, buf []byte) error {
	if rba+count > img.sectors {
		return fmt.Errorf("%w: rba %d count %d", ErrOutOfRange, rba, count)
	}
	if uint32(len(buf)) < count*SectorSize {
		return fmt.Errorf("read buffer too small for %d sectors", count)
	}
	n, err := img.file.ReadAt(buf[:count*SectorSize], int64(rba)*SectorSize)
	if err != nil {
		// Only running off the end of a short file is benign; those
		// sectors read back as zeros. Anything else is a media error
		// the caller must see.
		if !errors.Is(err, io.EOF) {
			return err
		}
		for i := n; i < int(count*SectorSize); i++ {
			buf[i] = 0
		}
	}
	return nil
}

// Write count sectors starting at rba from buf.
func (img *Image) Write(rba uint32, count uint32, buf []byte) error {
	if rba+count > img.sectors {
		return fmt.Errorf("%w: rba %d count %d", ErrOutOfRange, rba, count)
	}
	if uint32(len(buf)) < count*SectorSize {
		return fmt.Errorf("write buffer too small for %d sectors", count)
	}
	_, err := img.file.WriteAt(buf[:count*SectorSize], int64(rba)*SectorSize)
	return err
}

// Zero count sectors starting at rba.
func (img *Image) Zero(rba uint32, count uint32) error {
	if rba+count > img.sectors {
		return fmt.Errorf("%w: rba %d count %d", ErrOutOfRange, rba, count)
	}
	zeros := make([]byte, SectorSize)
	for i := uint32(0); i < count; i++ {
		if _, err := img.file.WriteAt(zeros, int64(rba+i)*SectorSize); err != nil {
			return err
		}
	}
	return nil
}

// Close the backing file.
func (img *Image) Close() error {
	if img.file == nil {
		return nil
	}
	err := img.file.Close()
	img.file = nil
	return err
}
