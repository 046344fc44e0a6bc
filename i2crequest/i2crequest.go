/*
battery-heater - Controls charging and heating of a battery pack.
Copyright (C) 2025, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package i2crequest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/godbus/dbus"
)

const (
	dbusName = "org.cacophony.i2c"
	dbusPath = "/org/cacophony/i2c"
)

// TxResponse is a canned response returned by Tx after MockTxResponses is called.
type TxResponse struct {
	Response []byte
	Err      error
}

var (
	mu            sync.Mutex
	mockResponses []TxResponse
	mocking       bool
)

var errNoMockResponse = errors.New("no mock i2c response left")

// MockTxResponses makes the following Tx calls return the given responses in
// order instead of calling the i2c service.
func MockTxResponses(responses []TxResponse) {
	mu.Lock()
	defer mu.Unlock()
	mockResponses = append([]TxResponse{}, responses...)
	mocking = true
}

// StopMocking sends Tx calls back to the i2c service.
func StopMocking() {
	mu.Lock()
	defer mu.Unlock()
	mockResponses = nil
	mocking = false
}

func nextMockResponse() (TxResponse, bool) {
	mu.Lock()
	defer mu.Unlock()
	if !mocking {
		return TxResponse{}, false
	}
	if len(mockResponses) == 0 {
		return TxResponse{Err: errNoMockResponse}, true
	}
	r := mockResponses[0]
	mockResponses = mockResponses[1:]
	return r, true
}

// Tx makes a transaction through the i2c dbus service. Timeout is in milliseconds.
func Tx(address byte, write []byte, readLen, timeout int) ([]byte, error) {
	if r, ok := nextMockResponse(); ok {
		return r.Response, r.Err
	}
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}
	obj := conn.Object(dbusName, dbusPath)

	var response []byte
	if err := obj.Call(dbusName+".Tx", 0, address, write, readLen, timeout).Store(&response); err != nil {
		return nil, err
	}

	return response, nil
}

func CheckAddress(address byte, timeout int) error {
	_, err := Tx(address, []byte{0x00}, 1, timeout)
	return err
}

// TxWithCRC adds a CRC-16 to the written bytes and checks the CRC-16 on the response.
func TxWithCRC(address byte, write []byte, readLen, timeout int) ([]byte, error) {
	writeCRC := CalculateCRC(write)
	writeWithCRC := append(append([]byte{}, write...), byte(writeCRC>>8), byte(writeCRC&0xFF))

	if readLen != 0 {
		readLen += 2
	}
	response, err := Tx(address, writeWithCRC, readLen, timeout)
	if err != nil {
		return nil, err
	}
	if readLen == 0 {
		return []byte{}, nil
	}
	if len(response) < 3 {
		return nil, fmt.Errorf("response too short for CRC check: %d bytes", len(response))
	}
	calculatedCRC := CalculateCRC(response[:len(response)-2])
	receivedCRC := uint16(response[len(response)-2])<<8 | uint16(response[len(response)-1])
	if calculatedCRC != receivedCRC {
		return nil, fmt.Errorf("CRC mismatch: received 0x%X, calculated 0x%X", receivedCRC, calculatedCRC)
	}
	return response[:len(response)-2], nil
}

// CalculateCRC is CRC-16/CCITT with a 0x1D0F initial value, as used by the ATtiny.
func CalculateCRC(data []byte) uint16 {
	var crc uint16 = 0x1D0F
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
