package hardware

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver"
	"github.com/goburrow/serial"
	"github.com/rs/zerolog/log"
)

const (
	MCU_VERSION = "~1.3.0"
	MCU_BAUD    = 115200
)

// MotorMCU is the microcontroller driving both H-bridges and counting both
// encoders. A single mutex serialises request/response pairs on the link.
type MotorMCU struct {
	port    io.ReadWriter
	reader  *bufio.Reader
	lock    sync.Mutex
	Version string
}

func OpenMotorMCU(address string, baud int) (m *MotorMCU, err error) {
	if baud == 0 {
		baud = MCU_BAUD
	}

	port, err := serial.Open(&serial.Config{
		Address:  address,
		BaudRate: baud,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  MCU_READ_TIMEOUT,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to open motor mcu on %s: %v", address, err)
	}

	m, err = NewMotorMCU(port)
	if err != nil {
		port.Close()
		return nil, err
	}

	return m, nil
}

// NewMotorMCU wraps an already open link and checks the firmware version.
func NewMotorMCU(port io.ReadWriter) (m *MotorMCU, err error) {
	m = &MotorMCU{
		port:   port,
		reader: bufio.NewReader(port),
	}

	m.Version, err = m.query(MCU_CMD_VERSION, MCU_CONNECT_BUDGET, MCU_CONNECT_RETRIES)
	if err != nil {
		return nil, err
	}

	if err = checkVersion(m.Version); err != nil {
		return nil, err
	}

	log.Info().Str("version", m.Version).Msg("motor mcu connected")
	return m, nil
}

func checkVersion(versionString string) error {
	if versionString == "DEV" {
		// development firmware is accepted so the bench rig can be flashed freely
		log.Warn().Msg("motor mcu is running development firmware")
		return nil
	}

	version, err := semver.NewVersion(versionString)
	if err != nil {
		return fmt.Errorf("unable to parse motor mcu version %q: %v", versionString, err)
	}

	constraint, err := semver.NewConstraint(MCU_VERSION)
	if err != nil {
		return err
	}

	if !constraint.Check(version) {
		return fmt.Errorf("unable to use motor mcu: received version %s - require %s", versionString, MCU_VERSION)
	}

	return nil
}

// query sends a request and waits for the reply carrying its tag. Lines answering
// an earlier request are dropped. The request is resent when a read fails, up to
// retries times and only while the budget lasts.
func (m *MotorMCU) query(request string, budget time.Duration, retries int) (resp string, err error) {
	// format outside of the critical section
	raw := []byte(request + "\n")

	m.lock.Lock()
	defer m.lock.Unlock()

	deadline := time.Now().Add(budget)
	for i := 0; i < retries; i++ {
		if i > 0 && !time.Now().Before(deadline) {
			return "", ERR_MCU_BUDGET
		}

		if _, err = m.port.Write(raw); err != nil {
			return "", err
		}

		for {
			// a partial line is dropped with its timeout, its tail will not match
			line, rerr := m.reader.ReadString('\n')
			if rerr != nil {
				break
			}

			r, matched, perr := parseResponse(request, line)
			if matched {
				return r, perr
			}
			log.Debug().Str("request", request).Str("line", strings.TrimSpace(line)).Msg("dropping stale motor mcu reply")

			if !time.Now().Before(deadline) {
				return "", ERR_MCU_BUDGET
			}
		}
	}

	return "", ERR_MCU_MAX_RETRIES
}

func (m *MotorMCU) Encoder(index int) Encoder {
	return &mcuEncoder{mcu: m, index: index}
}

func (m *MotorMCU) Actuator(index int) Actuator {
	return &mcuActuator{mcu: m, index: index}
}

func (m *MotorMCU) Close() error {
	if c, ok := m.port.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

type mcuEncoder struct {
	mcu   *MotorMCU
	index int
}

func (e *mcuEncoder) Count() (uint64, error) {
	resp, err := e.mcu.query(encoderRequest(e.index), MCU_QUERY_BUDGET, MCU_MAX_RETRIES)
	if err != nil {
		return 0, err
	}
	return parseCount(resp)
}

type mcuActuator struct {
	mcu   *MotorMCU
	index int
}

func (a *mcuActuator) Drive(cmd OutputCommand) error {
	request := motorRequest(a.index, cmd)
	resp, err := a.mcu.query(request, MCU_QUERY_BUDGET, MCU_MAX_RETRIES)
	if err != nil {
		return err
	}

	if resp != MCU_RESP_OK {
		return MCUError{Request: request, Reason: resp}
	}
	return nil
}
