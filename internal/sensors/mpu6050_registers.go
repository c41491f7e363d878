// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import "fmt"

const (
	regSmplrtDiv   = 0x19
	regConfig      = 0x1A
	regGyroConfig  = 0x1B
	regAccelConfig = 0x1C
	regIntEnable   = 0x38
	regIntStatus   = 0x3A
	regAccelXoutH  = 0x3B
	regTempOutH    = 0x41
	regGyroXoutH   = 0x43
	regUserCtrl    = 0x6A
	regPwrMgmt1    = 0x6B
	regPwrMgmt2    = 0x6C
	regWhoAmI      = 0x75
)

// BitField describes one field inside a register.
type BitField struct {
	Bits        string `json:"bits"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Values      string `json:"values,omitempty"`
}

// RegisterInfo is metadata for a single MPU-6050 register.
type RegisterInfo struct {
	Address     byte       `json:"address"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Access      string     `json:"access"` // "R", "W", "RW"
	BitFields   []BitField `json:"bit_fields,omitempty"`
}

// RegisterValue pairs a register with the value read from the device.
type RegisterValue struct {
	RegisterInfo
	Value string `json:"value"`
	Error string `json:"error,omitempty"`
}

// RegisterMap returns metadata for the configuration registers the driver touches.
func RegisterMap() []RegisterInfo {
	return []RegisterInfo{
		{Address: regSmplrtDiv, Name: "SMPLRT_DIV", Description: "Sample Rate Divider", Access: "RW",
			BitFields: []BitField{
				{Bits: "7:0", Name: "SMPLRT_DIV", Description: "Sample Rate = Gyro_Output_Rate / (1 + SMPLRT_DIV)", Values: "0-255"},
			}},
		{Address: regConfig, Name: "CONFIG", Description: "Configuration (DLPF)", Access: "RW",
			BitFields: []BitField{
				{Bits: "5:3", Name: "EXT_SYNC_SET", Description: "External FSYNC pin sampling", Values: "0=Disabled"},
				{Bits: "2:0", Name: "DLPF_CFG", Description: "Digital Low Pass Filter", Values: "0=260Hz, 1=184Hz, 2=94Hz, 3=44Hz, 4=21Hz, 5=10Hz, 6=5Hz"},
			}},
		{Address: regGyroConfig, Name: "GYRO_CONFIG", Description: "Gyroscope Configuration", Access: "RW",
			BitFields: []BitField{
				{Bits: "4:3", Name: "FS_SEL", Description: "Gyro Full Scale Range", Values: "0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s"},
			}},
		{Address: regAccelConfig, Name: "ACCEL_CONFIG", Description: "Accelerometer Configuration", Access: "RW",
			BitFields: []BitField{
				{Bits: "4:3", Name: "AFS_SEL", Description: "Accel Full Scale Range", Values: "0=±2g, 1=±4g, 2=±8g, 3=±16g"},
			}},
		{Address: regIntEnable, Name: "INT_ENABLE", Description: "Interrupt Enable", Access: "RW"},
		{Address: regIntStatus, Name: "INT_STATUS", Description: "Interrupt Status", Access: "R",
			BitFields: []BitField{
				{Bits: "0", Name: "DATA_RDY_INT", Description: "Data ready"},
			}},
		{Address: regUserCtrl, Name: "USER_CTRL", Description: "User Control", Access: "RW"},
		{Address: regPwrMgmt1, Name: "PWR_MGMT_1", Description: "Power Management 1", Access: "RW",
			BitFields: []BitField{
				{Bits: "7", Name: "DEVICE_RESET", Description: "Reset all registers"},
				{Bits: "6", Name: "SLEEP", Description: "Sleep mode", Values: "0=Awake, 1=Sleep"},
				{Bits: "2:0", Name: "CLKSEL", Description: "Clock source", Values: "0=Internal 8MHz, 1=PLL X gyro"},
			}},
		{Address: regPwrMgmt2, Name: "PWR_MGMT_2", Description: "Power Management 2", Access: "RW"},
		{Address: regWhoAmI, Name: "WHO_AM_I", Description: "Device identity", Access: "R"},
	}
}

// DumpRegisters reads every register in RegisterMap. A failed read is
// recorded on that entry and does not stop the dump.
func (m *MPU6050) DumpRegisters() []RegisterValue {
	regs := RegisterMap()
	out := make([]RegisterValue, 0, len(regs))
	for _, info := range regs {
		rv := RegisterValue{RegisterInfo: info}
		v, err := m.readReg(info.Address)
		if err != nil {
			rv.Error = err.Error()
		} else {
			rv.Value = fmt.Sprintf("0x%02X", v)
		}
		out = append(out, rv)
	}
	return out
}

// ReadRegister reads a single register by address.
func (m *MPU6050) ReadRegister(addr byte) (byte, error) {
	v, err := m.readReg(addr)
	if err != nil {
		return 0, fmt.Errorf("mpu6050: read 0x%02X: %w", addr, err)
	}
	return v, nil
}
