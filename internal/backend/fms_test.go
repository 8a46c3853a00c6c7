package backend

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/AdarWa/DSControl/pkg/protocol"
)

func waitUntil(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestParseAllianceStation(t *testing.T) {
	tests := []struct {
		in      string
		want    AllianceStation
		wantErr bool
	}{
		{"R1", StationR1, false},
		{"R3", StationR3, false},
		{"B1", StationB1, false},
		{"B3", StationB3, false},
		{"r1", 0, true},
		{"C1", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseAllianceStation(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseAllianceStation(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("ParseAllianceStation(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestControlPacketLayout(t *testing.T) {
	f := &FMS{log: zerolog.Nop(), station: StationB2}
	f.enabled = true

	pkt := f.controlPacketLocked()
	if len(pkt) != 22 {
		t.Fatalf("packet length = %d, want 22", len(pkt))
	}
	if got := binary.BigEndian.Uint16(pkt[0:2]); got != 0 {
		t.Errorf("first packet counter = %d, want 0", got)
	}
	if pkt[2] != 0 {
		t.Errorf("protocol version byte = %d, want 0", pkt[2])
	}
	if pkt[3] != 0x04 {
		t.Errorf("control flags = %#02x, want 0x04 (enabled)", pkt[3])
	}
	if pkt[5] != byte(StationB2) {
		t.Errorf("station byte = %d, want %d", pkt[5], byte(StationB2))
	}
	if pkt[6] != byte(MatchQualification) {
		t.Errorf("match type = %d, want %d", pkt[6], byte(MatchQualification))
	}
	if got := binary.BigEndian.Uint16(pkt[7:9]); got != matchNumber {
		t.Errorf("match number = %d, want %d", got, matchNumber)
	}
	if pkt[9] != 1 {
		t.Errorf("repeat number = %d, want 1", pkt[9])
	}
	if got := binary.BigEndian.Uint16(pkt[20:22]); got != matchSecondsRemaining {
		t.Errorf("seconds remaining = %d, want %d", got, matchSecondsRemaining)
	}

	f.estopped = true
	pkt = f.controlPacketLocked()
	if got := binary.BigEndian.Uint16(pkt[0:2]); got != 1 {
		t.Errorf("second packet counter = %d, want 1", got)
	}
	if pkt[3] != 0x84 {
		t.Errorf("control flags = %#02x, want 0x84 (enabled+estop)", pkt[3])
	}
}

func TestHandleStatusPacket(t *testing.T) {
	f := &FMS{log: zerolog.Nop(), teamID: 5987}

	// Too short and wrong-team packets change nothing.
	f.handleStatusPacket([]byte{0, 0, 0})
	wrongTeam := make([]byte, 8)
	binary.BigEndian.PutUint16(wrongTeam[4:6], 1234)
	f.handleStatusPacket(wrongTeam)
	if f.Link().DSLinked {
		t.Fatal("link reported after ignorable packets")
	}

	good := make([]byte, 8)
	good[3] = 0x30 // radio + robot linked
	binary.BigEndian.PutUint16(good[4:6], 5987)
	good[6] = 12
	good[7] = 128
	f.handleStatusPacket(good)

	link := f.Link()
	if !link.DSLinked || !link.RadioLinked || !link.RobotLinked {
		t.Errorf("link flags = %+v, want all linked", link)
	}
	if link.BatteryVoltage != 12.5 {
		t.Errorf("battery = %v, want 12.5", link.BatteryVoltage)
	}
	if link.LastPacketAt.IsZero() {
		t.Error("LastPacketAt not set")
	}
}

func TestFMSApplyOverLoopback(t *testing.T) {
	fakeDS, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen fake driver station: %v", err)
	}
	defer fakeDS.Close()
	dsPort := fakeDS.LocalAddr().(*net.UDPAddr).Port

	f, err := NewFMS(FMSConfig{
		TeamID:    5987,
		Station:   StationR1,
		DSAddress: "127.0.0.1",
		DSPort:    dsPort,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFMS: %v", err)
	}
	defer f.Close()

	read := func() []byte {
		t.Helper()
		buf := make([]byte, 64)
		fakeDS.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, _, err := fakeDS.ReadFromUDP(buf)
		if err != nil {
			t.Fatalf("read control packet: %v", err)
		}
		if n != 22 {
			t.Fatalf("control packet length = %d, want 22", n)
		}
		return buf[:n]
	}

	if res := f.Apply(protocol.Enable); !res.Success {
		t.Fatalf("Apply(enable) failed: %s", res.Message)
	}
	if pkt := read(); pkt[3] != 0x04 {
		t.Errorf("enable flags = %#02x, want 0x04", pkt[3])
	}

	if res := f.Apply(protocol.EStop); !res.Success {
		t.Fatalf("Apply(estop) failed: %s", res.Message)
	}
	if pkt := read(); pkt[3] != 0x84 {
		t.Errorf("estop flags = %#02x, want 0x84", pkt[3])
	}

	// E-stop stays latched after Disable.
	if res := f.Apply(protocol.Disable); !res.Success {
		t.Fatalf("Apply(disable) failed: %s", res.Message)
	}
	if pkt := read(); pkt[3] != 0x80 {
		t.Errorf("disable flags = %#02x, want 0x80", pkt[3])
	}
}

func TestFMSListenerOverLoopback(t *testing.T) {
	fakeDS, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen fake driver station: %v", err)
	}
	defer fakeDS.Close()

	f, err := NewFMS(FMSConfig{
		TeamID:    5987,
		Station:   StationR1,
		DSAddress: "127.0.0.1",
		DSPort:    fakeDS.LocalAddr().(*net.UDPAddr).Port,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFMS: %v", err)
	}
	defer f.Close()

	status := make([]byte, 8)
	status[3] = 0x20
	binary.BigEndian.PutUint16(status[4:6], 5987)
	status[6] = 11
	status[7] = 64

	dst := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: f.listener.LocalAddr().(*net.UDPAddr).Port}
	if _, err := fakeDS.WriteToUDP(status, dst); err != nil {
		t.Fatalf("send status packet: %v", err)
	}

	waitUntil(t, 2*time.Second, func() bool { return f.Link().DSLinked })
	link := f.Link()
	if !link.RobotLinked || link.RadioLinked {
		t.Errorf("link = %+v, want robot linked only", link)
	}
	if link.BatteryVoltage != 11.25 {
		t.Errorf("battery = %v, want 11.25", link.BatteryVoltage)
	}
}
