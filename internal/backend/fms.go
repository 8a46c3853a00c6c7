package backend

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/AdarWa/DSControl/pkg/protocol"
)

// Driver station UDP ports from the field management system protocol.
const (
	DriverStationPort       = 1121
	DriverStationListenPort = 1160
)

const (
	fmsWriteTimeout       = 100 * time.Millisecond
	matchNumber           = 1
	matchSecondsRemaining = 135
)

// AllianceStation identifies the drive team slot the driver station occupies.
type AllianceStation byte

const (
	StationR1 AllianceStation = iota
	StationR2
	StationR3
	StationB1
	StationB2
	StationB3
)

var allianceStationNames = map[AllianceStation]string{
	StationR1: "R1",
	StationR2: "R2",
	StationR3: "R3",
	StationB1: "B1",
	StationB2: "B2",
	StationB3: "B3",
}

func (a AllianceStation) String() string {
	if s, ok := allianceStationNames[a]; ok {
		return s
	}
	return "unknown"
}

// ParseAllianceStation maps "R1".."B3" to its station value.
func ParseAllianceStation(s string) (AllianceStation, error) {
	for station, name := range allianceStationNames {
		if name == s {
			return station, nil
		}
	}
	return 0, fmt.Errorf("dscontrol: unknown alliance station %q", s)
}

// MatchType is the match phase byte of a control packet.
type MatchType byte

const (
	MatchOther         MatchType = 0
	MatchPractice      MatchType = 1
	MatchQualification MatchType = 2
	MatchElimination   MatchType = 3
)

// FMSConfig configures the driver station connection. Ports are explicit so
// tests can run against loopback sockets; production config uses
// DriverStationPort and DriverStationListenPort.
type FMSConfig struct {
	TeamID     int
	Station    AllianceStation
	DSAddress  string
	DSPort     int
	ListenPort int
}

// LinkStatus is the most recent connectivity view reported by the driver
// station.
type LinkStatus struct {
	DSLinked       bool
	RadioLinked    bool
	RobotLinked    bool
	BatteryVoltage float64
	LastPacketAt   time.Time
}

// FMS drives a real driver station with field management system control
// packets over UDP. Enable and Disable toggle the enabled flag, EStop sets
// the e-stop flag for the life of the connection; each Apply sends one
// control packet.
type FMS struct {
	log     zerolog.Logger
	teamID  int
	station AllianceStation

	conn     *net.UDPConn
	listener *net.UDPConn
	wg       sync.WaitGroup

	mu          sync.Mutex
	auto        bool
	enabled     bool
	estopped    bool
	packetCount uint16
	link        LinkStatus
}

// NewFMS connects to the driver station and starts the status listener.
func NewFMS(cfg FMSConfig, log zerolog.Logger) (*FMS, error) {
	if cfg.TeamID <= 0 {
		return nil, fmt.Errorf("dscontrol: fms team id must be positive, got %d", cfg.TeamID)
	}
	if cfg.DSAddress == "" {
		return nil, errors.New("dscontrol: fms driver station address required")
	}
	if cfg.DSPort <= 0 {
		return nil, fmt.Errorf("dscontrol: fms driver station port must be positive, got %d", cfg.DSPort)
	}

	dsAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", cfg.DSAddress, cfg.DSPort))
	if err != nil {
		return nil, fmt.Errorf("resolve driver station address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, dsAddr)
	if err != nil {
		return nil, fmt.Errorf("connect driver station: %w", err)
	}
	listener, err := net.ListenUDP("udp", &net.UDPAddr{Port: cfg.ListenPort})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("listen for driver station status: %w", err)
	}

	f := &FMS{
		log:      log.With().Str("backend", "fms").Int("team", cfg.TeamID).Logger(),
		teamID:   cfg.TeamID,
		station:  cfg.Station,
		conn:     conn,
		listener: listener,
	}
	f.log.Info().Str("ds", dsAddr.String()).Str("listen", listener.LocalAddr().String()).
		Msg("driver station connection up")

	f.wg.Add(1)
	go f.listen()
	return f, nil
}

// Apply updates the control flags for action and sends one control packet.
func (f *FMS) Apply(action protocol.Action) Result {
	f.mu.Lock()
	switch action {
	case protocol.Enable:
		f.enabled = true
	case protocol.Disable:
		f.enabled = false
	case protocol.EStop:
		f.estopped = true
	default:
		f.mu.Unlock()
		return Result{Message: fmt.Sprintf("unsupported action %s", action)}
	}
	pkt := f.controlPacketLocked()
	f.mu.Unlock()

	f.conn.SetWriteDeadline(time.Now().Add(fmsWriteTimeout))
	if _, err := f.conn.Write(pkt); err != nil {
		f.log.Error().Err(err).Str("action", action.String()).Msg("control packet send failed")
		return Result{Message: fmt.Sprintf("driver station send failed: %v", err)}
	}
	return Result{Success: true, Message: fmt.Sprintf("%s sent to driver station", action)}
}

// Link returns the last link state reported by the driver station.
func (f *FMS) Link() LinkStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.link
}

// Close shuts both sockets down and waits for the listener to stop.
func (f *FMS) Close() error {
	err := f.conn.Close()
	if lerr := f.listener.Close(); err == nil {
		err = lerr
	}
	f.wg.Wait()
	return err
}

// controlPacketLocked renders the current flags as a 22-byte control packet.
// Callers hold f.mu.
func (f *FMS) controlPacketLocked() []byte {
	pkt := make([]byte, 22)
	binary.BigEndian.PutUint16(pkt[0:2], f.packetCount)
	f.packetCount++
	pkt[2] = 0 // protocol version
	if f.auto {
		pkt[3] |= 0x02
	}
	if f.enabled {
		pkt[3] |= 0x04
	}
	if f.estopped {
		pkt[3] |= 0x80
	}
	pkt[4] = 0 // request flags
	pkt[5] = byte(f.station)
	pkt[6] = byte(MatchQualification)
	binary.BigEndian.PutUint16(pkt[7:9], matchNumber)
	pkt[9] = 1 // match repeat number

	now := time.Now()
	micros := uint32(now.Nanosecond() / 1000)
	binary.BigEndian.PutUint32(pkt[10:14], micros)
	pkt[14] = byte(now.Second())
	pkt[15] = byte(now.Minute())
	pkt[16] = byte(now.Hour())
	pkt[17] = byte(now.Day())
	pkt[18] = byte(now.Month())
	pkt[19] = byte(now.Year() - 1900)

	binary.BigEndian.PutUint16(pkt[20:22], matchSecondsRemaining)
	return pkt
}

func (f *FMS) listen() {
	defer f.wg.Done()
	buf := make([]byte, 64)
	for {
		n, _, err := f.listener.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			f.log.Warn().Err(err).Msg("driver station listener read failed")
			continue
		}
		f.handleStatusPacket(buf[:n])
	}
}

func (f *FMS) handleStatusPacket(data []byte) {
	if len(data) < 8 {
		return
	}
	if int(binary.BigEndian.Uint16(data[4:6])) != f.teamID {
		return
	}

	f.mu.Lock()
	wasLinked := f.link.RobotLinked
	f.link.DSLinked = true
	f.link.LastPacketAt = time.Now()
	f.link.RadioLinked = data[3]&0x10 != 0
	f.link.RobotLinked = data[3]&0x20 != 0
	if f.link.RobotLinked {
		f.link.BatteryVoltage = float64(data[6]) + float64(data[7])/256
	}
	link := f.link
	f.mu.Unlock()

	if link.RobotLinked != wasLinked {
		f.log.Debug().Bool("robot", link.RobotLinked).Bool("radio", link.RadioLinked).
			Float64("battery", link.BatteryVoltage).Msg("driver station link changed")
	}
}
