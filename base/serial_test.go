package base

import (
	"errors"
	"testing"
)

func TestParseSerialParity(t *testing.T) {
	tests := []struct {
		in   string
		want SerialParity
		ok   bool
	}{
		{"", SerialNoParity, true},
		{"n", SerialNoParity, true},
		{"E", SerialEvenParity, true},
		{"o", SerialOddParity, true},
		{"M", SerialMarkParity, true},
		{"S", SerialSpaceParity, true},
		{"X", 0, false},
		{"even", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSerialParity(tt.in)
			if !tt.ok {
				if !errors.Is(err, ErrInvalidSettings) {
					t.Errorf("got %v", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("got %v, %v", got, err)
			}
		})
	}
}

func TestSerialStreamSettings(t *testing.T) {
	tests := []struct {
		name     string
		settings SerialStreamSettings
		want     string
		ok       bool
	}{
		{"8N1", SerialStreamSettings{BaudRate: 9600, DataBits: Serial8DataBits, Parity: SerialNoParity, StopBits: SerialOneStopBit}, "9600 8N1", true},
		{"7E1 hardware", SerialStreamSettings{BaudRate: 300, DataBits: Serial7DataBits, Parity: SerialEvenParity, StopBits: SerialOneStopBit, FlowControl: SerialHWFlowControl}, "300 7E1", true},
		{"8N1.5", SerialStreamSettings{BaudRate: 2400, DataBits: Serial8DataBits, Parity: SerialNoParity, StopBits: SerialOneAndHalfStopBits}, "2400 8N1.5", true},
		{"no baud rate", SerialStreamSettings{DataBits: Serial8DataBits, Parity: SerialNoParity, StopBits: SerialOneStopBit}, "", false},
		{"4 data bits", SerialStreamSettings{BaudRate: 9600, DataBits: 4, Parity: SerialNoParity, StopBits: SerialOneStopBit}, "", false},
		{"no parity set", SerialStreamSettings{BaudRate: 9600, DataBits: Serial8DataBits, StopBits: SerialOneStopBit}, "", false},
		{"no stop bits", SerialStreamSettings{BaudRate: 9600, DataBits: Serial8DataBits, Parity: SerialNoParity}, "", false},
		{"software flow control", SerialStreamSettings{BaudRate: 9600, DataBits: Serial8DataBits, Parity: SerialNoParity, StopBits: SerialOneStopBit, FlowControl: 2}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.settings.Validate()
			if !tt.ok {
				if !errors.Is(err, ErrInvalidSettings) {
					t.Errorf("got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got := tt.settings.String(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
