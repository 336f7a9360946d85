package scanner

import (
	"testing"

	"go.bug.st/serial"
)

func TestPortOptionsNormalize(t *testing.T) {
	tests := []struct {
		name    string
		in      PortOptions
		want    PortOptions
		wantErr bool
	}{
		{name: "defaults", want: PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"}},
		{name: "long parity names", in: PortOptions{BaudRate: 9600, Parity: "even"}, want: PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "E"}},
		{name: "bad data bits", in: PortOptions{DataBits: 9}, wantErr: true},
		{name: "bad stop bits", in: PortOptions{StopBits: 3}, wantErr: true},
		{name: "bad parity", in: PortOptions{Parity: "mark"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Normalize()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Normalize(%+v) succeeded, want error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if got != tt.want {
				t.Errorf("Normalize = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSerialMode(t *testing.T) {
	mode, err := PortOptions{StopBits: 2, Parity: "O"}.SerialMode()
	if err != nil {
		t.Fatalf("SerialMode: %v", err)
	}
	if mode.BaudRate != 115200 || mode.StopBits != serial.TwoStopBits || mode.Parity != serial.OddParity {
		t.Errorf("unexpected mode %+v", mode)
	}
}
